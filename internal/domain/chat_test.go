package domain

import (
	"sync"
	"testing"
	"time"
)

func TestChatIDSourceMonotonic(t *testing.T) {
	var src ChatIDSource
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	a := src.Next(now)
	b := src.Next(now)
	c := src.Next(now.Add(-time.Hour))

	if a.Millis() >= b.Millis() || b.Millis() >= c.Millis() {
		t.Errorf("ids must strictly increase: %v %v %v", a, b, c)
	}
	if a.Millis() != now.UnixMilli() {
		t.Errorf("first id = %d, want creation epoch %d", a.Millis(), now.UnixMilli())
	}
}

func TestChatIDSourceConcurrent(t *testing.T) {
	var src ChatIDSource
	var mu sync.Mutex
	seen := make(map[ChatID]bool)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := src.Next(time.Now())
			mu.Lock()
			seen[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != 50 {
		t.Errorf("expected 50 distinct ids, got %d", len(seen))
	}
}

func TestChatIDMillisMalformed(t *testing.T) {
	if ChatID("not-a-number").Millis() != 0 {
		t.Error("malformed id should yield 0")
	}
}

func TestChatSetTitleStripsThinkTags(t *testing.T) {
	c := NewChat()
	c.SetTitle("<think>reasoning</think>Weather Question")
	if c.Title == nil || *c.Title != "Weather Question" {
		t.Errorf("title = %v, want %q", c.Title, "Weather Question")
	}
}

func TestChatLastMessage(t *testing.T) {
	c := NewChat()
	if c.LastMessage() != nil {
		t.Error("empty chat should have no last message")
	}
	c.Messages = append(c.Messages, Message{Role: RoleUser, Content: "a"}, Message{Role: RoleAssistant, Content: "b"})
	if got := c.LastMessage(); got == nil || got.Content != "b" {
		t.Errorf("LastMessage() = %+v, want content %q", got, "b")
	}
}
