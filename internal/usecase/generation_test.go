package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"localchat/internal/domain"
	"localchat/internal/usecase/eventbus"
)

// --- fakes -----------------------------------------------------------------

type fakeSettings struct {
	hide      bool
	autoTitle bool
	temp      float64
	timeout   time.Duration
	maxTokens int
}

func (s fakeSettings) HideThinking() bool           { return s.hide }
func (s fakeSettings) AutoGenerateTitles() bool     { return s.autoTitle }
func (s fakeSettings) Temperature() float64         { return s.temp }
func (s fakeSettings) StreamTimeout() time.Duration { return s.timeout }
func (s fakeSettings) MaxTokens() int               { return s.maxTokens }

func testSettings() fakeSettings {
	return fakeSettings{hide: true, autoTitle: false, temp: 0.7, timeout: time.Second}
}

type fakeCatalog struct {
	model domain.ModelInfo
	err   error
}

func (c fakeCatalog) SelectedModel(ctx context.Context) (domain.ModelInfo, error) {
	return c.model, c.err
}

// scriptedStream plays back deltas, then optionally blocks until closed.
type scriptedStream struct {
	deltas []domain.StreamDelta
	block  bool
	err    error

	ch     chan domain.StreamDelta
	done   chan struct{}
	once   sync.Once
	closes int
	mu     sync.Mutex
}

func newScriptedStream(deltas []domain.StreamDelta, block bool, err error) *scriptedStream {
	s := &scriptedStream{
		deltas: deltas,
		block:  block,
		err:    err,
		ch:     make(chan domain.StreamDelta),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *scriptedStream) run() {
	defer close(s.ch)
	for _, d := range s.deltas {
		select {
		case s.ch <- d:
		case <-s.done:
			return
		}
	}
	if s.block {
		<-s.done
	}
}

func (s *scriptedStream) Deltas() <-chan domain.StreamDelta { return s.ch }

func (s *scriptedStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *scriptedStream) Close() {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
	s.once.Do(func() { close(s.done) })
}

type fakeClient struct {
	mu          sync.Mutex
	streamCalls int
	streams     []func() (domain.Stream, error)
	chatResp    *domain.ChatResponse
	chatErr     error
}

func (c *fakeClient) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	return c.chatResp, c.chatErr
}

func (c *fakeClient) ChatStream(ctx context.Context, req domain.ChatRequest) (domain.Stream, error) {
	c.mu.Lock()
	i := c.streamCalls
	c.streamCalls++
	c.mu.Unlock()
	if i >= len(c.streams) {
		i = len(c.streams) - 1
	}
	s, err := c.streams[i]()
	if err != nil {
		return nil, err
	}
	// A cancelled context surfaces as ErrCancelled from the stream, the
	// way the HTTP adapter reports an aborted body read.
	go func() {
		<-ctx.Done()
		if cs, ok := s.(*scriptedStream); ok {
			cs.mu.Lock()
			if cs.err == nil {
				cs.err = domain.ErrCancelled
			}
			cs.mu.Unlock()
			cs.Close()
		}
	}()
	return s, nil
}

func (c *fakeClient) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streamCalls
}

type appended struct {
	user      *domain.Message
	assistant *domain.Message
}

type fakeStore struct {
	mu       sync.Mutex
	chats    map[domain.ChatID]*domain.Chat
	appends  []appended
	titles   map[domain.ChatID]string
	titleSet chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		chats:    map[domain.ChatID]*domain.Chat{"100": domain.NewChat()},
		titles:   map[domain.ChatID]string{},
		titleSet: make(chan struct{}, 4),
	}
}

func (s *fakeStore) Load(ctx context.Context) (map[domain.ChatID]*domain.Chat, error) {
	return s.chats, nil
}

func (s *fakeStore) Chat(ctx context.Context, id domain.ChatID) (*domain.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[id]
	if !ok {
		return nil, domain.ErrChatNotFound
	}
	return c, nil
}

func (s *fakeStore) Create(ctx context.Context) (domain.ChatID, error)  { return "100", nil }
func (s *fakeStore) Delete(ctx context.Context, id domain.ChatID) error { return nil }
func (s *fakeStore) Active(ctx context.Context) (domain.ChatID, error)  { return "100", nil }

func (s *fakeStore) AppendUser(ctx context.Context, id domain.ChatID, msg domain.Message) (*domain.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.chats[id]
	c.Messages = append(c.Messages, msg)
	return c, nil
}

func (s *fakeStore) Append(ctx context.Context, id domain.ChatID, user, assistant *domain.Message) (*domain.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.chats[id]
	if user != nil {
		c.Messages = append(c.Messages, *user)
	}
	if assistant != nil {
		c.Messages = append(c.Messages, *assistant)
	}
	s.appends = append(s.appends, appended{user: user, assistant: assistant})
	return c, nil
}

func (s *fakeStore) SetTitle(ctx context.Context, id domain.ChatID, title string) error {
	s.mu.Lock()
	s.titles[id] = title
	s.mu.Unlock()
	select {
	case s.titleSet <- struct{}{}:
	default:
	}
	return nil
}

func (s *fakeStore) appendCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.appends)
}

func (s *fakeStore) lastAppend() appended {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appends[len(s.appends)-1]
}

// eventRecorder collects every published event.
type eventRecorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func recordEvents(bus domain.EventBus) *eventRecorder {
	r := &eventRecorder{}
	bus.SubscribeAll(func(ctx context.Context, ev domain.Event) {
		r.mu.Lock()
		r.events = append(r.events, ev)
		r.mu.Unlock()
	})
	return r
}

func (r *eventRecorder) ofType(t domain.EventType) []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestGenerator(t *testing.T, client *fakeClient, store *fakeStore, settings domain.Settings) (*Generator, *eventRecorder) {
	t.Helper()
	bus := eventbus.New(testLogger())
	t.Cleanup(bus.Close)
	rec := recordEvents(bus)
	catalog := fakeCatalog{model: domain.ModelInfo{ID: "qwen3-8b"}}
	g := NewGenerator(client, catalog, store, settings, bus, nil, testLogger())
	g.backoff = time.Millisecond
	return g, rec
}

// --- tests -----------------------------------------------------------------

func TestGenerateHappyPath(t *testing.T) {
	client := &fakeClient{streams: []func() (domain.Stream, error){
		func() (domain.Stream, error) {
			return newScriptedStream([]domain.StreamDelta{
				{Content: "Hel"},
				{Content: "lo"},
				{Done: true},
			}, false, nil), nil
		},
	}}
	store := newFakeStore()
	g, rec := newTestGenerator(t, client, store, testSettings())

	err := g.Generate(context.Background(), "100", "hi there", nil)
	require.NoError(t, err)

	require.Equal(t, 1, store.appendCount())
	turn := store.lastAppend()
	require.NotNil(t, turn.user)
	require.NotNil(t, turn.assistant)
	assert.Equal(t, "hi there", turn.user.Content)
	assert.Equal(t, "Hello", turn.assistant.Content)

	completed := rec.ofType(domain.EventChatCompleted)
	require.Len(t, completed, 1)
	var payload domain.CompletedPayload
	require.NoError(t, json.Unmarshal(completed[0].Payload, &payload))
	assert.Equal(t, "Hello", payload.Content)

	assert.False(t, g.Active())
}

func TestGenerateDeltasArriveInOrder(t *testing.T) {
	client := &fakeClient{streams: []func() (domain.Stream, error){
		func() (domain.Stream, error) {
			return newScriptedStream([]domain.StreamDelta{
				{Content: "a"}, {Content: "b"}, {Content: "c"}, {Done: true},
			}, false, nil), nil
		},
	}}
	store := newFakeStore()
	g, rec := newTestGenerator(t, client, store, testSettings())

	require.NoError(t, g.Generate(context.Background(), "100", "count", nil))

	var got string
	for _, ev := range rec.ofType(domain.EventChatDelta) {
		var d domain.StreamDelta
		require.NoError(t, json.Unmarshal(ev.Payload, &d))
		got += d.Content
	}
	assert.Equal(t, "abc", got)
}

func TestCancelIdleIsNoOp(t *testing.T) {
	store := newFakeStore()
	g, _ := newTestGenerator(t, &fakeClient{}, store, testSettings())

	g.Cancel()
	g.Cancel()
	assert.False(t, g.Active())
}

func TestCancelPreservesPartial(t *testing.T) {
	client := &fakeClient{streams: []func() (domain.Stream, error){
		func() (domain.Stream, error) {
			return newScriptedStream([]domain.StreamDelta{{Content: "abc"}}, true, nil), nil
		},
	}}
	store := newFakeStore()
	g, rec := newTestGenerator(t, client, store, testSettings())

	done := make(chan error, 1)
	go func() { done <- g.Generate(context.Background(), "100", "question", nil) }()

	waitFor(t, time.Second, func() bool {
		return len(rec.ofType(domain.EventChatDelta)) > 0
	})
	g.Cancel()
	g.Cancel() // second cancel is a safe no-op mid-flight

	require.NoError(t, <-done)

	require.Equal(t, 1, store.appendCount())
	turn := store.lastAppend()
	require.NotNil(t, turn.assistant)
	assert.Equal(t, "abc", turn.assistant.Content)

	assert.Len(t, rec.ofType(domain.EventChatCancelled), 1)
	assert.Empty(t, rec.ofType(domain.EventChatFailed))
}

func TestCancelDiscardsWhitespacePartial(t *testing.T) {
	client := &fakeClient{streams: []func() (domain.Stream, error){
		func() (domain.Stream, error) {
			return newScriptedStream([]domain.StreamDelta{{Content: " \n\t"}}, true, nil), nil
		},
	}}
	store := newFakeStore()
	g, rec := newTestGenerator(t, client, store, testSettings())

	done := make(chan error, 1)
	go func() { done <- g.Generate(context.Background(), "100", "question", nil) }()

	waitFor(t, time.Second, func() bool {
		return len(rec.ofType(domain.EventChatDelta)) > 0
	})
	g.Cancel()

	require.NoError(t, <-done)
	assert.Equal(t, 0, store.appendCount())
	assert.Len(t, rec.ofType(domain.EventChatCancelled), 1)
}

func TestConcurrentGenerateRejected(t *testing.T) {
	client := &fakeClient{streams: []func() (domain.Stream, error){
		func() (domain.Stream, error) {
			return newScriptedStream(nil, true, nil), nil
		},
	}}
	store := newFakeStore()
	g, _ := newTestGenerator(t, client, store, testSettings())

	done := make(chan error, 1)
	go func() { done <- g.Generate(context.Background(), "100", "first", nil) }()
	waitFor(t, time.Second, g.Active)

	err := g.Generate(context.Background(), "100", "second", nil)
	require.ErrorIs(t, err, domain.ErrGenerationActive)

	g.Cancel()
	require.NoError(t, <-done)
}

func TestStreamTimeoutRetriedTwiceThenFails(t *testing.T) {
	// Every attempt yields a stream that never produces a delta, so the
	// stream timeout fires each time.
	client := &fakeClient{streams: []func() (domain.Stream, error){
		func() (domain.Stream, error) { return newScriptedStream(nil, true, nil), nil },
	}}
	store := newFakeStore()
	settings := testSettings()
	settings.timeout = 50 * time.Millisecond
	g, rec := newTestGenerator(t, client, store, settings)

	err := g.Generate(context.Background(), "100", "hello", nil)
	require.ErrorIs(t, err, domain.ErrStreamTimeout)

	assert.Equal(t, 1+maxTimeoutRetries, client.calls())
	assert.Len(t, rec.ofType(domain.EventChatRetry), maxTimeoutRetries)
	assert.Len(t, rec.ofType(domain.EventChatFailed), 1)
}

func TestChunkIdleTimeoutRetriedAsStreamTimeout(t *testing.T) {
	// The first chunk arrives, then the stream goes silent past the
	// chunk-idle window. The failure escalates to a stream timeout and is
	// retried like one.
	client := &fakeClient{streams: []func() (domain.Stream, error){
		func() (domain.Stream, error) {
			return newScriptedStream([]domain.StreamDelta{{Content: "thinking"}}, true, nil), nil
		},
	}}
	store := newFakeStore()
	settings := testSettings()
	g, rec := newTestGenerator(t, client, store, settings)
	g.chunkIdle = 60 * time.Millisecond

	err := g.Generate(context.Background(), "100", "hello", nil)
	require.ErrorIs(t, err, domain.ErrStreamTimeout)

	assert.Equal(t, 1+maxTimeoutRetries, client.calls())
	assert.Len(t, rec.ofType(domain.EventChatRetry), maxTimeoutRetries)
}

func TestServerErrorNotRetried(t *testing.T) {
	client := &fakeClient{streams: []func() (domain.Stream, error){
		func() (domain.Stream, error) { return nil, domain.ErrServerUnavailable },
	}}
	store := newFakeStore()
	g, rec := newTestGenerator(t, client, store, testSettings())

	err := g.Generate(context.Background(), "100", "hello", nil)
	require.ErrorIs(t, err, domain.ErrServerUnavailable)

	assert.Equal(t, 1, client.calls())
	assert.Empty(t, rec.ofType(domain.EventChatRetry))
	assert.Len(t, rec.ofType(domain.EventChatFailed), 1)
}

func TestNoModelsFailsBeforeStreaming(t *testing.T) {
	store := newFakeStore()
	bus := eventbus.New(testLogger())
	t.Cleanup(bus.Close)
	rec := recordEvents(bus)
	catalog := fakeCatalog{err: domain.ErrNoModels}
	g := NewGenerator(&fakeClient{}, catalog, store, testSettings(), bus, nil, testLogger())

	err := g.Generate(context.Background(), "100", "hello", nil)
	require.ErrorIs(t, err, domain.ErrNoModels)
	assert.Len(t, rec.ofType(domain.EventChatFailed), 1)
}

func TestHiddenThinkingRenderedAsAnswerOnly(t *testing.T) {
	client := &fakeClient{streams: []func() (domain.Stream, error){
		func() (domain.Stream, error) {
			return newScriptedStream([]domain.StreamDelta{
				{Content: "<think>"},
				{Content: "hi</think>world"},
				{Done: true},
			}, false, nil), nil
		},
	}}
	store := newFakeStore()
	g, rec := newTestGenerator(t, client, store, testSettings())

	require.NoError(t, g.Generate(context.Background(), "100", "hello", nil))

	completed := rec.ofType(domain.EventChatCompleted)
	require.Len(t, completed, 1)
	var payload domain.CompletedPayload
	require.NoError(t, json.Unmarshal(completed[0].Payload, &payload))
	assert.Equal(t, "world", payload.Content)

	// The raw accumulated text, tags included, is what history stores.
	turn := store.lastAppend()
	require.NotNil(t, turn.assistant)
	assert.Equal(t, "<think>hi</think>world", turn.assistant.Content)

	renders := rec.ofType(domain.EventChatRender)
	require.NotEmpty(t, renders)
	var last domain.RenderUpdate
	require.NoError(t, json.Unmarshal(renders[len(renders)-1].Payload, &last))
	assert.Equal(t, domain.RenderClosedWithContent, last.State)
	assert.Equal(t, "world", last.Visible)
}

func TestUserMessageTaxonomy(t *testing.T) {
	assert.Contains(t, UserMessage(domain.ErrNoModels), "No models")
	assert.Contains(t, UserMessage(domain.ErrStreamTimeout), "stopped responding")
	assert.Contains(t, UserMessage(domain.ErrChunkIdle), "stopped responding")
	assert.Contains(t, UserMessage(domain.ErrServerUnavailable), "Cannot reach")
	assert.Contains(t, UserMessage(&domain.HTTPError{Status: 500, Message: "boom"}), "500")
	assert.Contains(t, UserMessage(errors.New("odd")), "odd")
	assert.Empty(t, UserMessage(nil))
}
