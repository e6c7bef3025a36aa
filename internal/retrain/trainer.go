package retrain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/triage-ai/aegis/internal/classifier"
	"go.uber.org/zap"
)

// HTTPTrainer requests fine-tune passes from a trainer sidecar — the
// process that owns the GPU and the training stack. The gateway never loads
// training code itself; a host without the sidecar simply runs with
// retraining disabled.
type HTTPTrainer struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPTrainer creates a trainer client for the given sidecar base URL.
func NewHTTPTrainer(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPTrainer {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &HTTPTrainer{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type fineTuneRequestBody struct {
	Text         string  `json:"text"`
	Label        string  `json:"label"`
	BaseAdapter  string  `json:"base_adapter"`
	DatasetPath  string  `json:"dataset_path"`
	MaxSteps     int     `json:"max_steps"`
	LearningRate float64 `json:"learning_rate"`
}

type fineTuneResponseBody struct {
	Name        string `json:"name"`
	AdapterPath string `json:"adapter_path"`
}

// FineTune posts one fine-tune job and blocks until the sidecar reports the
// candidate adapter. The candidate's score is unset until evaluation.
func (t *HTTPTrainer) FineTune(ctx context.Context, req FineTuneRequest) (*classifier.Checkpoint, error) {
	body, err := json.Marshal(fineTuneRequestBody{
		Text:         req.Example.Text,
		Label:        req.Example.Label,
		BaseAdapter:  req.BaseAdapter,
		DatasetPath:  req.DatasetPath,
		MaxSteps:     req.MaxSteps,
		LearningRate: req.LearningRate,
	})
	if err != nil {
		return nil, fmt.Errorf("FineTune: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/fine-tune", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("FineTune: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("FineTune: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("FineTune: trainer returned %s", resp.Status)
	}

	var out fineTuneResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("FineTune: decode response: %w", err)
	}
	if out.Name == "" || out.AdapterPath == "" {
		return nil, fmt.Errorf("FineTune: trainer response missing adapter identity")
	}

	t.logger.Info("fine-tune pass complete",
		zap.String("candidate", out.Name),
		zap.Duration("duration", time.Since(start)),
	)

	return &classifier.Checkpoint{
		Name:        out.Name,
		AdapterPath: out.AdapterPath,
	}, nil
}
