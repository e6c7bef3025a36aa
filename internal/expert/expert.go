// Package expert asks a large remote model to independently re-derive the
// three per-domain verdicts already produced locally, returning them as a
// second FlagSet for conservative fusion.
package expert

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"github.com/triage-ai/aegis/internal/engine"
	"go.uber.org/zap"
)

const reviewTemplate = `You are a security analysis expert. Provide a JSON-only expert review of the following prompt.

Initial scan results:
- pii_status: %s
- slm_flag: %s
- malicious_flag: %s

Analyze the user prompt below and return JSON with:
{
  "pii_status": "ACCEPT" or "BLOCK",
  "slm_flag": "ACCEPT" or "FLAG" or "BLOCK",
  "malicious_flag": "ACCEPT" or "FLAG" or "BLOCK"
}

Prompt: %q
`

// Config configures the second-opinion client.
type Config struct {
	BaseURL string // OpenAI-compatible chat completion endpoint
	APIKey  string
	Model   string // default reviewer model, overridable per call
}

// Client requests expert reviews from a remote text-generation endpoint.
type Client struct {
	client       *openai.Client
	defaultModel string
	logger       *zap.Logger
}

// New creates a second-opinion client.
func New(cfg Config, logger *zap.Logger) *Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &Client{
		client:       openai.NewClientWithConfig(clientCfg),
		defaultModel: cfg.Model,
		logger:       logger,
	}
}

// reviewReply is the fixed-shape record the reviewer is instructed to emit.
type reviewReply struct {
	PIIStatus     string `json:"pii_status"`
	SLMFlag       string `json:"slm_flag"`
	MaliciousFlag string `json:"malicious_flag"`
}

// SecondOpinion sends the prompt plus the locally produced flags to the
// reviewer model and parses its reply into an EXPERT-tagged FlagSet.
//
// The reply is free-form text; the first top-level JSON object found in it
// is taken as the verdict record, tolerating surrounding prose and markdown
// fences. When no such object parses, every domain falls back to ACCEPT —
// this fail-open default matches the long-standing behavior of the reviewer
// integration and is pinned by tests; do not change it without a migration
// plan for existing deployments.
//
// A transport failure returns an error; the pipeline fails closed on it.
func (c *Client) SecondOpinion(ctx context.Context, prompt string, initial engine.FlagSet, model string) (engine.FlagSet, error) {
	if model == "" {
		model = c.defaultModel
	}

	content := fmt.Sprintf(reviewTemplate,
		initial.PII.String(),
		initial.Misuse.String(),
		initial.Malicious.String(),
		prompt,
	)

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: content},
		},
	})
	if err != nil {
		return engine.FlagSet{}, fmt.Errorf("SecondOpinion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return engine.FlagSet{}, fmt.Errorf("SecondOpinion: reviewer returned no choices")
	}

	return c.parseReply(resp.Choices[0].Message.Content), nil
}

// parseFallback is the FlagSet used when the reviewer's reply carries no
// parsable verdict object: fail-open, all ACCEPT.
func parseFallback() engine.FlagSet {
	return engine.FlagSet{
		Origin:    engine.OriginExpert,
		PII:       engine.VerdictAccept,
		Misuse:    engine.VerdictAccept,
		Malicious: engine.VerdictAccept,
	}
}

func (c *Client) parseReply(reply string) engine.FlagSet {
	raw, ok := extractJSONObject(reply)
	if !ok {
		c.logger.Warn("reviewer reply had no JSON object, defaulting to ACCEPT")
		return parseFallback()
	}

	var rr reviewReply
	if err := json.Unmarshal([]byte(raw), &rr); err != nil {
		c.logger.Warn("reviewer JSON did not decode, defaulting to ACCEPT", zap.Error(err))
		return parseFallback()
	}

	out := parseFallback()
	if v, ok := engine.ParseVerdict(rr.PIIStatus); ok && v.Valid() {
		out.PII = v
	}
	if v, ok := engine.ParseVerdict(rr.SLMFlag); ok && v.Valid() {
		out.Misuse = v
	}
	if v, ok := engine.ParseVerdict(rr.MaliciousFlag); ok && v.Valid() {
		out.Malicious = v
	}
	return out
}
