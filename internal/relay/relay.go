// ABOUTME: Relay routes inbound prompts to text or image generation and replies
// ABOUTME: Owns history updates, acknowledgements, and per-conversation serialization

package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-relay/internal/generation"
	"github.com/2389/coven-relay/internal/history"
	"github.com/2389/coven-relay/internal/metrics"
	"github.com/2389/coven-relay/internal/notify"
	"github.com/2389/coven-relay/internal/prompt"
	"github.com/2389/coven-relay/internal/usage"
)

// Inbound is a message addressed to the relay.
type Inbound struct {
	EventID        string
	ConversationID string
	ThreadID       string
	Sender         string
	Text           string
	// Direct is set for one-to-one conversations.
	Direct bool
}

// Target is where a reply goes.
type Target struct {
	ConversationID string
	ThreadID       string
}

// Messenger delivers replies to the chat platform.
type Messenger interface {
	PostMessage(ctx context.Context, to Target, text string) error
	UploadFile(ctx context.Context, to Target, path, title string) error
	// ThreadParent returns the text of the message that started the thread.
	ThreadParent(ctx context.Context, conversationID, threadID string) (string, error)
}

// Generator produces completions and images.
type Generator interface {
	Complete(ctx context.Context, msgs []prompt.Message, model string) (generation.Result, error)
	Image(ctx context.Context, text, model, size string) (generation.Result, error)
}

// UsageRecorder stores one row per generation call.
type UsageRecorder interface {
	Save(ctx context.Context, rec *usage.Record) error
}

// Options configures a Relay. History, Assembler and Gate are required.
type Options struct {
	Model      string
	ImageModel string
	ImageSize  string
	// TempDir holds downloaded images while they are uploaded.
	TempDir string

	History   *history.Store
	Assembler *prompt.Assembler
	Gate      *notify.Gate

	Usage      UsageRecorder
	Metrics    *metrics.Metrics
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Relay handles inbound prompts.
type Relay struct {
	opts      Options
	messenger Messenger
	generator Generator
	fetcher   *http.Client
	locks     keyedMutex
	logger    *slog.Logger

	now func() time.Time
}

// New creates a relay delivering through messenger and generating with generator.
func New(messenger Messenger, generator Generator, opts Options) *Relay {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	fetcher := opts.HTTPClient
	if fetcher == nil {
		fetcher = http.DefaultClient
	}
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}

	return &Relay{
		opts:      opts,
		messenger: messenger,
		generator: generator,
		fetcher:   fetcher,
		logger:    logger.With("component", "relay"),
		now:       time.Now,
	}
}

// Handle processes one inbound message. Prompts in the same conversation are
// handled one at a time. A returned error means the event was abandoned;
// later events are unaffected.
func (r *Relay) Handle(ctx context.Context, in Inbound) error {
	requestID := uuid.NewString()
	logger := r.logger.With(
		"request_id", requestID,
		"conversation", in.ConversationID,
		"thread", in.ThreadID,
	)

	unlock := r.locks.lock(in.ConversationID)
	defer unlock()

	logger.Info("received prompt", "direct", in.Direct, "sender", in.Sender, "text", truncate(in.Text, 80))

	to := Target{ConversationID: in.ConversationID, ThreadID: in.ThreadID}

	var parent string
	if in.ThreadID != "" && !in.Direct {
		p, err := r.messenger.ThreadParent(ctx, in.ConversationID, in.ThreadID)
		if err != nil {
			return fmt.Errorf("fetching thread parent: %w", err)
		}
		parent = p
	}

	req := prompt.Classify(in.Text, parent)
	r.opts.Metrics.IncPrompt(req.Kind.String())

	if req.Kind == prompt.KindEmpty {
		logger.Debug("ignoring empty prompt")
		if req.Hint != "" {
			return r.post(ctx, to, req.Hint)
		}
		return nil
	}

	if phrase, ok := r.opts.Gate.Touch(in.ConversationID); ok {
		r.opts.Metrics.IncAcknowledgement()
		if err := r.post(ctx, to, phrase); err != nil {
			return err
		}
	}

	call := callInfo{requestID: requestID, in: in, logger: logger}
	if req.Kind == prompt.KindImage {
		return r.handleImage(ctx, call, to, req)
	}
	if req.FromParent {
		// The parent already is the prompt.
		parent = ""
	}
	return r.handleChat(ctx, call, to, req, parent)
}

type callInfo struct {
	requestID string
	in        Inbound
	logger    *slog.Logger
}

func (r *Relay) handleChat(ctx context.Context, call callInfo, to Target, req prompt.Request, parent string) error {
	turns := r.opts.History.Turns(to.ConversationID, to.ThreadID)
	msgs := r.opts.Assembler.Assemble(prompt.Input{
		Prompt:   req.Prompt,
		ThreadID: to.ThreadID,
		Parent:   parent,
		History:  turns,
	})
	call.logger.Info("using history messages", "stored", len(turns), "sent", len(msgs))

	askedAt := r.now()
	start := time.Now()
	res, err := r.generator.Complete(ctx, msgs, r.opts.Model)
	r.observe(ctx, call, "chat", r.opts.Model, res, err, start)
	if err != nil {
		return fmt.Errorf("generating reply: %w", err)
	}
	if !res.OK() {
		return r.post(ctx, to, res.Text)
	}

	evicted := r.opts.History.Append(to.ConversationID,
		history.Turn{Role: history.RoleUser, Content: req.Prompt, CreatedAt: askedAt, ThreadID: to.ThreadID},
		history.Turn{Role: history.RoleAssistant, Content: res.Text, CreatedAt: r.now(), ThreadID: to.ThreadID},
	)
	if evicted {
		call.logger.Debug("evicted oldest exchange")
	}

	call.logger.Info("completion response", "text", truncate(res.Text, 80))
	return r.post(ctx, to, res.Text)
}

func (r *Relay) handleImage(ctx context.Context, call callInfo, to Target, req prompt.Request) error {
	start := time.Now()
	res, err := r.generator.Image(ctx, req.Prompt, r.opts.ImageModel, r.opts.ImageSize)
	r.observe(ctx, call, "image", r.opts.ImageModel, res, err, start)
	if err != nil {
		return fmt.Errorf("generating image: %w", err)
	}
	if !res.OK() || call.in.Direct {
		return r.post(ctx, to, res.Text)
	}

	return r.deliverImage(ctx, call.logger, to, req.Prompt, res.Text)
}

// observe records metrics and the usage ledger row for a generation call.
func (r *Relay) observe(ctx context.Context, call callInfo, kind, model string, res generation.Result, callErr error, start time.Time) {
	status := res.Status.String()
	if callErr != nil {
		status = "error"
	}
	r.opts.Metrics.ObserveGeneration(kind, status, start)

	if r.opts.Usage == nil {
		return
	}
	rec := &usage.Record{
		ID:               uuid.NewString(),
		RequestID:        call.requestID,
		Kind:             kind,
		Model:            model,
		ConversationID:   call.in.ConversationID,
		ThreadID:         call.in.ThreadID,
		Status:           status,
		PromptTokens:     res.PromptTokens,
		CompletionTokens: res.CompletionTokens,
		Latency:          time.Since(start),
		CreatedAt:        r.now(),
	}
	if err := r.opts.Usage.Save(ctx, rec); err != nil {
		call.logger.Warn("failed to record usage", "error", err)
	}
}

func (r *Relay) post(ctx context.Context, to Target, text string) error {
	if err := r.messenger.PostMessage(ctx, to, text); err != nil {
		return fmt.Errorf("posting reply: %w", err)
	}
	return nil
}

// truncate shortens a string to the given max rune count, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
