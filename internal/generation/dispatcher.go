// ABOUTME: Generation dispatcher for chat completions and image generation
// ABOUTME: Wraps the OpenAI API and maps request rejections to explicit results

package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/2389/coven-relay/internal/history"
	"github.com/2389/coven-relay/internal/prompt"
)

// RateLimitNotice is the reply when the API throttles a request.
const RateLimitNotice = "The generation API is rate limiting requests right now, please try again in a moment."

// Status is the outcome of a generation call that reached the API.
type Status int

const (
	// StatusOK means Text holds the generated reply or image URL.
	StatusOK Status = iota
	// StatusRejected means the API refused the request; Text holds its message.
	StatusRejected
	// StatusRateLimited means the API throttled the request; Text holds a notice.
	StatusRateLimited
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusRejected:
		return "rejected"
	case StatusRateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

// Result is what a generation call produced.
type Result struct {
	Status Status
	Text   string

	PromptTokens     int64
	CompletionTokens int64
}

// OK reports whether the call succeeded.
func (r Result) OK() bool {
	return r.Status == StatusOK
}

// Config configures a Dispatcher.
type Config struct {
	APIKey  string
	BaseURL string
	// Timeout bounds each request. Zero leaves it to the transport.
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Dispatcher sends prompts to the OpenAI API.
type Dispatcher struct {
	client  openai.Client
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a dispatcher. Retries are disabled: each request is attempted once.
func New(cfg Config, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &Dispatcher{
		client:  openai.NewClient(opts...),
		timeout: cfg.Timeout,
		logger:  logger.With("component", "generation"),
	}
}

// Complete runs a chat completion over msgs with the given model.
func (d *Dispatcher) Complete(ctx context.Context, msgs []prompt.Message, model string) (Result, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: toParams(msgs),
	}

	resp, err := d.client.Chat.Completions.New(ctx, params)
	if err != nil {
		if res, ok := classifyError(err); ok {
			d.logger.Warn("completion refused", "model", model, "status", res.Status.String(), "message", res.Text)
			return res, nil
		}
		return Result{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, fmt.Errorf("chat completion: response has no choices")
	}

	return Result{
		Status:           StatusOK,
		Text:             strings.TrimSpace(resp.Choices[0].Message.Content),
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

// Image generates a single image for text and returns its URL.
func (d *Dispatcher) Image(ctx context.Context, text, model, size string) (Result, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	params := openai.ImageGenerateParams{
		Prompt:         text,
		Model:          openai.ImageModel(model),
		N:              openai.Int(1),
		Size:           openai.ImageGenerateParamsSize(size),
		ResponseFormat: openai.ImageGenerateParamsResponseFormatURL,
	}

	resp, err := d.client.Images.Generate(ctx, params)
	if err != nil {
		if res, ok := classifyError(err); ok {
			d.logger.Warn("image generation refused", "model", model, "status", res.Status.String(), "message", res.Text)
			return res, nil
		}
		return Result{}, fmt.Errorf("image generation: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return Result{}, fmt.Errorf("image generation: response has no image url")
	}

	return Result{Status: StatusOK, Text: resp.Data[0].URL}, nil
}

func (d *Dispatcher) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.timeout)
}

// classifyError maps API errors that are answered in the conversation.
func classifyError(err error) (Result, bool) {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return Result{}, false
	}

	switch {
	case apiErr.StatusCode == http.StatusTooManyRequests:
		return Result{Status: StatusRateLimited, Text: RateLimitNotice}, true
	case apiErr.StatusCode == http.StatusBadRequest,
		apiErr.StatusCode == http.StatusNotFound,
		apiErr.StatusCode == http.StatusUnprocessableEntity,
		apiErr.Type == "invalid_request_error":
		msg := apiErr.Message
		if msg == "" {
			msg = fmt.Sprintf("request rejected with status %d", apiErr.StatusCode)
		}
		return Result{Status: StatusRejected, Text: msg}, true
	}
	return Result{}, false
}

func toParams(msgs []prompt.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case history.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case history.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
