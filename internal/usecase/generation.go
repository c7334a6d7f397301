package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"localchat/internal/domain"
	"localchat/internal/infra/tracer"
)

// renderInterval throttles mid-stream render events so a fast model does not
// flood the presentation layer. Completion, cancellation, and failure renders
// bypass the throttle.
const renderInterval = 50 * time.Millisecond

// Generator owns the single active generation: it builds the request from
// history, consumes the stream under timeout supervision, classifies the
// accumulated text for rendering, and commits the completed turn. All output
// reaches the presentation layer through the event bus.
type Generator struct {
	client   domain.CompletionClient
	catalog  domain.ModelCatalog
	store    domain.HistoryStore
	settings domain.Settings
	bus      domain.EventBus
	titles   *TitleGenerator
	logger   *slog.Logger

	render *rate.Limiter

	// Overridable in tests; production values come from the constants in
	// retry.go.
	chunkIdle time.Duration
	backoff   time.Duration

	mu      sync.Mutex
	session *domain.GenerationSession
}

func NewGenerator(client domain.CompletionClient, catalog domain.ModelCatalog, store domain.HistoryStore, settings domain.Settings, bus domain.EventBus, titles *TitleGenerator, logger *slog.Logger) *Generator {
	return &Generator{
		client:    client,
		catalog:   catalog,
		store:     store,
		settings:  settings,
		bus:       bus,
		titles:    titles,
		logger:    logger,
		render:    rate.NewLimiter(rate.Every(renderInterval), 1),
		chunkIdle: chunkIdleTimeout,
		backoff:   retryBackoff,
	}
}

// Active reports whether a generation is currently in flight.
func (g *Generator) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.session != nil
}

// Cancel aborts the in-flight generation. Idempotent: calling it with no
// generation active, or calling it twice, is a safe no-op.
func (g *Generator) Cancel() {
	g.mu.Lock()
	s := g.session
	g.mu.Unlock()
	if s == nil {
		return
	}
	g.logger.Info("cancelling generation", "session_id", s.ID, "chat_id", s.ChatID)
	s.Cancel()
}

// Generate runs one full generation turn for the chat: user message in,
// assistant message out. It returns domain.ErrGenerationActive if another
// generation holds the slot. Cancellation is not an error to the caller.
func (g *Generator) Generate(ctx context.Context, chatID domain.ChatID, text string, attachments []domain.Attachment) error {
	ctx, span := tracer.StartSpan(ctx, "generation.generate")
	defer span.End()
	span.SetAttributes(tracer.StringAttr("chat.id", string(chatID)))

	model, err := g.catalog.SelectedModel(ctx)
	if err != nil {
		tracer.RecordError(span, err)
		g.emitFailed(ctx, chatID, err)
		return domain.WrapOp("Generator.Generate", err)
	}
	span.SetAttributes(tracer.StringAttr("model.id", model.ID))

	chat, err := g.store.Chat(ctx, chatID)
	if err != nil {
		tracer.RecordError(span, err)
		return domain.WrapOp("Generator.Generate", err)
	}
	firstTurn := len(chat.Messages) == 0

	userMsg := BuildUserMessage(text, attachments, model.Vision)
	reqChat := &domain.Chat{Messages: append(append([]domain.Message{}, chat.Messages...), userMsg)}
	req := BuildRequest(model.ID, reqChat, g.settings)

	genCtx, cancel, session, err := g.acquire(ctx, chatID)
	if err != nil {
		tracer.RecordError(span, err)
		return err
	}
	defer g.release(session, cancel)

	genCtx = domain.ContextWithGenerationID(genCtx, session.ID)
	g.logger.Info("generation started",
		"session_id", session.ID,
		"chat_id", chatID,
		"model", model.ID,
		"first_turn", firstTurn,
	)

	accumulated, streamErr := g.streamWithRetries(genCtx, session, req)

	// The final render always goes out, whatever ended the stream.
	g.emitRender(genCtx, session, accumulated)

	commitErr := g.commit(ctx, session, userMsg, accumulated, streamErr)
	if commitErr != nil {
		tracer.RecordError(span, commitErr)
		return domain.WrapOp("Generator.Generate", commitErr)
	}

	switch {
	case streamErr == nil:
		tracer.SetOK(span)
		g.emitCompleted(ctx, session, accumulated)
		if firstTurn && g.titles != nil {
			go g.titles.Generate(context.Background(), chatID, model.ID, userMsg.Text())
		}
		return nil
	case domain.IsCancelled(streamErr):
		tracer.SetOK(span)
		g.emitEvent(ctx, domain.EventChatCancelled, session.ID, domain.CompletedPayload{
			ChatID:  session.ChatID,
			Content: accumulated,
		})
		return nil
	default:
		tracer.RecordError(span, streamErr)
		g.emitFailed(ctx, session.ChatID, streamErr)
		return domain.WrapOp("Generator.Generate", streamErr)
	}
}

// acquire claims the single generation slot.
func (g *Generator) acquire(ctx context.Context, chatID domain.ChatID) (context.Context, context.CancelFunc, *domain.GenerationSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.session != nil {
		return nil, nil, nil, domain.NewDomainError("Generator.Generate", domain.ErrGenerationActive, string(g.session.ChatID))
	}

	now := time.Now()
	genCtx, cancel := context.WithCancel(ctx)
	session := &domain.GenerationSession{
		ID:        generateSessionID(now),
		ChatID:    chatID,
		Cancel:    cancel,
		StartedAt: now,
	}
	g.session = session
	return genCtx, cancel, session, nil
}

func generateSessionID(t time.Time) string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

func (g *Generator) release(session *domain.GenerationSession, cancel context.CancelFunc) {
	cancel()
	g.mu.Lock()
	if g.session == session {
		g.session = nil
	}
	g.mu.Unlock()
}

// streamWithRetries runs the stream, re-sending the identical request after
// a stream timeout. Only timeouts retry; every other failure, and
// cancellation, propagates immediately. Retries start over: nothing resumes
// mid-stream, and a prior attempt's partial text is discarded.
func (g *Generator) streamWithRetries(ctx context.Context, session *domain.GenerationSession, req domain.ChatRequest) (string, error) {
	for attempt := 0; ; attempt++ {
		accumulated, err := g.streamOnce(ctx, session, req)
		if err == nil || !domain.IsRetryable(err) || attempt >= maxTimeoutRetries {
			return accumulated, err
		}

		g.logger.Warn("stream timed out, retrying",
			"session_id", session.ID,
			"attempt", attempt+1,
			"max", maxTimeoutRetries,
		)
		g.emitEvent(ctx, domain.EventChatRetry, session.ID, domain.RetryPayload{
			ChatID:  session.ChatID,
			Attempt: attempt + 1,
			Max:     maxTimeoutRetries,
		})

		select {
		case <-ctx.Done():
			return "", domain.ErrCancelled
		case <-time.After(g.backoff):
		}
	}
}

// streamOnce opens one stream and drains it to completion under watchdog
// supervision. The connection is closed on every exit path.
func (g *Generator) streamOnce(ctx context.Context, session *domain.GenerationSession, req domain.ChatRequest) (string, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	wd := newWatchdog(g.settings.StreamTimeout(), g.chunkIdle, cancel)
	defer wd.Stop()

	stream, err := g.client.ChatStream(streamCtx, req)
	if err != nil {
		if wdErr := wd.Err(); wdErr != nil {
			return "", wdErr
		}
		return "", err
	}
	defer stream.Close()

	var accumulated string
	for delta := range stream.Deltas() {
		if delta.Done {
			break
		}
		wd.Touch()
		accumulated += delta.Content
		g.observe(ctx, session, accumulated)
		g.emitEvent(ctx, domain.EventChatDelta, session.ID, domain.StreamDelta{Content: delta.Content})
		if g.render.Allow() {
			g.emitRender(ctx, session, accumulated)
		}
	}

	streamErr := stream.Err()
	if wdErr := wd.Err(); wdErr != nil {
		// The watchdog aborted the context, so the stream reports
		// cancellation. The timeout is the real cause.
		return accumulated, wdErr
	}
	if streamErr != nil && ctx.Err() != nil {
		return accumulated, domain.ErrCancelled
	}
	return accumulated, streamErr
}

// observe updates the session's thinking bookkeeping from the accumulated
// text, logging segment transitions with their duration.
func (g *Generator) observe(ctx context.Context, session *domain.GenerationSession, accumulated string) {
	now := time.Now()
	inThinking := ClassifyThinking(accumulated) == domain.RenderInThinking

	g.mu.Lock()
	session.Accumulated = accumulated
	session.LastChunkAt = now
	switch {
	case inThinking && !session.InThinking:
		session.InThinking = true
		session.ThinkingStartedAt = now
		g.logger.Debug("thinking segment opened", "session_id", session.ID)
	case !inThinking && session.InThinking:
		elapsed := session.ThinkingElapsed(now)
		session.InThinking = false
		g.logger.Debug("thinking segment closed",
			"session_id", session.ID,
			"elapsed", elapsed,
		)
	}
	g.mu.Unlock()
}

// commit writes the finished turn to history. An assistant result that is
// empty or whitespace-only is discarded; a genuine partial answer survives
// cancellation, with a notice appended so the transcript shows the cut.
func (g *Generator) commit(ctx context.Context, session *domain.GenerationSession, userMsg domain.Message, accumulated string, streamErr error) error {
	var assistant *domain.Message
	if strings.TrimSpace(accumulated) != "" {
		assistant = &domain.Message{
			Role:      domain.RoleAssistant,
			Content:   accumulated,
			Timestamp: time.Now(),
		}
	}

	// Nothing worth keeping from a failed or cancelled attempt with no
	// output: leave history untouched so the user can resend.
	if assistant == nil && streamErr != nil {
		return nil
	}

	if _, err := g.store.Append(ctx, session.ChatID, &userMsg, assistant); err != nil {
		g.logger.Error("failed to commit turn",
			"session_id", session.ID,
			"chat_id", session.ChatID,
			"error", err,
		)
		return err
	}
	return nil
}

func (g *Generator) emitRender(ctx context.Context, session *domain.GenerationSession, accumulated string) {
	state := ClassifyThinking(accumulated)
	g.emitEvent(ctx, domain.EventChatRender, session.ID, domain.RenderUpdate{
		ChatID:   session.ChatID,
		State:    state,
		Visible:  VisibleContent(accumulated, g.settings.HideThinking()),
		Thinking: state == domain.RenderInThinking,
	})
}

func (g *Generator) emitCompleted(ctx context.Context, session *domain.GenerationSession, accumulated string) {
	g.logger.Info("generation completed",
		"session_id", session.ID,
		"chat_id", session.ChatID,
		"chars", len(accumulated),
		"elapsed", time.Since(session.StartedAt),
	)
	g.emitEvent(ctx, domain.EventChatCompleted, session.ID, domain.CompletedPayload{
		ChatID:  session.ChatID,
		Content: VisibleContent(accumulated, g.settings.HideThinking()),
	})
}

func (g *Generator) emitFailed(ctx context.Context, chatID domain.ChatID, err error) {
	g.emitEvent(ctx, domain.EventChatFailed, "", domain.FailedPayload{
		ChatID: chatID,
		Error:  UserMessage(err),
	})
}

func (g *Generator) emitEvent(ctx context.Context, eventType domain.EventType, sessionID string, payload any) {
	if g.bus == nil {
		return
	}
	data, _ := json.Marshal(payload)
	g.bus.Publish(ctx, domain.Event{
		Type:      eventType,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Payload:   data,
	})
}

// UserMessage maps an error onto the text shown to the user.
func UserMessage(err error) string {
	var httpErr *domain.HTTPError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, domain.ErrNoModels):
		return "No models are loaded on the server. Load a model and try again."
	case errors.Is(err, domain.ErrStreamTimeout):
		return "The server stopped responding. Tried again twice without luck."
	case errors.Is(err, domain.ErrServerUnavailable):
		return "Cannot reach the inference server. Is it running?"
	case errors.As(err, &httpErr):
		return fmt.Sprintf("The server returned an error (%d): %s", httpErr.Status, httpErr.Message)
	case errors.Is(err, domain.ErrGenerationActive):
		return "A response is already being generated."
	default:
		return "Something went wrong: " + err.Error()
	}
}
