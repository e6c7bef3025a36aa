// Package classifier wraps the locally served security SLM behind a
// three-way verdict interface. The model itself is a black box: a pre-trained
// base plus a fine-tuned adapter checkpoint, served by an OpenAI-compatible
// completion endpoint (llama.cpp, vLLM and friends).
package classifier

import (
	"context"
	"fmt"
	"regexp"
	"sync/atomic"

	openai "github.com/sashabaranov/go-openai"
	"github.com/triage-ai/aegis/internal/engine"
	"go.uber.org/zap"
)

// Checkpoint is a named, versioned adapter over the base model, together
// with its cached holdout accuracy. Checkpoints are immutable; promotion and
// rollback swap which one is current, never edit one in place.
type Checkpoint struct {
	Name        string  `json:"name"`
	AdapterPath string  `json:"adapter_path"`
	Score       float64 `json:"score"`
}

// classificationTemplate is the exact prompt shape the adapter was trained
// on. The reply is expected to complete the quoted label.
const classificationTemplate = "prompt: %q\nclassification: \""

var (
	labelRe     = regexp.MustCompile(`classification:\s*"?(ACCEPT|FLAG|BLOCK)`)
	bareLabelRe = regexp.MustCompile(`^\s*(ACCEPT|FLAG|BLOCK)`)
)

// Config configures an SLMClassifier.
type Config struct {
	// BaseURL of the OpenAI-compatible inference server. Empty means the
	// backend is absent and every call reports NOT_AVAILABLE.
	BaseURL string
	// APIKey for the inference server; local servers usually ignore it.
	APIKey string
	// Checkpoint initially served. Its Name is sent as the model field so
	// the server selects the matching adapter.
	Checkpoint *Checkpoint
	// MaxInFlight bounds concurrent inference calls. Zero means 4.
	MaxInFlight int
}

// SLMClassifier classifies prompt text as ACCEPT, FLAG or BLOCK using the
// locally served model. The underlying client is loaded once and shared
// read-only; Classify is safe for concurrent use. The checkpoint pointer is
// replaced atomically on promotion or rollback, so in-flight readers always
// observe a complete checkpoint.
type SLMClassifier struct {
	client    *openai.Client
	available bool
	sem       chan struct{}
	current   atomic.Pointer[Checkpoint]
	logger    *zap.Logger
}

// New creates a classifier handle. Construction never fails: a missing
// backend yields a handle whose calls report NOT_AVAILABLE, which the fusion
// engine treats as contributing no information.
func New(cfg Config, logger *zap.Logger) *SLMClassifier {
	c := &SLMClassifier{logger: logger}

	inflight := cfg.MaxInFlight
	if inflight <= 0 {
		inflight = 4
	}
	c.sem = make(chan struct{}, inflight)

	if cfg.BaseURL == "" || cfg.Checkpoint == nil {
		logger.Warn("local classifier backend absent, classification disabled")
		return c
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = cfg.BaseURL
	c.client = openai.NewClientWithConfig(clientCfg)
	c.available = true
	c.current.Store(cfg.Checkpoint)

	logger.Info("local classifier ready",
		zap.String("base_url", cfg.BaseURL),
		zap.String("checkpoint", cfg.Checkpoint.Name),
	)
	return c
}

// Available reports whether the inference backend was configured.
func (c *SLMClassifier) Available() bool {
	return c.available
}

// Current returns the checkpoint currently served for live classification.
func (c *SLMClassifier) Current() *Checkpoint {
	return c.current.Load()
}

// Swap atomically replaces the served checkpoint.
func (c *SLMClassifier) Swap(cp *Checkpoint) {
	c.current.Store(cp)
}

// Classify runs one inference call against the current checkpoint.
// Returns NOT_AVAILABLE when the backend was never configured and ERROR on a
// per-call inference or parse failure.
func (c *SLMClassifier) Classify(ctx context.Context, text string) engine.Verdict {
	if !c.available {
		return engine.VerdictNotAvailable
	}
	return c.classifyWith(ctx, c.current.Load(), text)
}

// ClassifyWith runs one inference call through an explicit checkpoint,
// bypassing the live pointer. Used to evaluate candidate adapters on the
// holdout set before they are promoted.
func (c *SLMClassifier) ClassifyWith(ctx context.Context, cp *Checkpoint, text string) engine.Verdict {
	if !c.available {
		return engine.VerdictNotAvailable
	}
	return c.classifyWith(ctx, cp, text)
}

func (c *SLMClassifier) classifyWith(ctx context.Context, cp *Checkpoint, text string) engine.Verdict {
	// Bounded in-flight window so slow model calls queue here instead of
	// piling onto the inference server.
	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		c.logger.Warn("classifier call cancelled before dispatch", zap.Error(ctx.Err()))
		return engine.VerdictError
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: cp.Name,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf(classificationTemplate, text)},
		},
		MaxTokens:   5,
		Temperature: 0,
	})
	if err != nil {
		c.logger.Warn("classifier inference failed",
			zap.String("checkpoint", cp.Name),
			zap.Error(err),
		)
		return engine.VerdictError
	}
	if len(resp.Choices) == 0 {
		c.logger.Warn("classifier returned no choices", zap.String("checkpoint", cp.Name))
		return engine.VerdictError
	}

	return parseLabel(resp.Choices[0].Message.Content)
}

// parseLabel extracts the classification label from the model's completion.
// The model may echo the whole template or emit just the bare label.
func parseLabel(completion string) engine.Verdict {
	if m := labelRe.FindStringSubmatch(completion); m != nil {
		v, _ := engine.ParseVerdict(m[1])
		return v
	}
	// Bare-label replies: the template already ends with the opening quote.
	if m := bareLabelRe.FindStringSubmatch(completion); m != nil {
		v, _ := engine.ParseVerdict(m[1])
		return v
	}
	return engine.VerdictError
}
