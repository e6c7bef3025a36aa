// Package retrain implements the adaptive retraining loop: append one newly
// labeled example to the master dataset, fine-tune a candidate adapter from
// the current best checkpoint, score it on a fixed holdout set, then promote
// it or roll back. The live checkpoint pointer only ever advances to a
// candidate that scored at least as well as the current best.
package retrain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/triage-ai/aegis/internal/classifier"
	"go.uber.org/zap"
)

// Retraining actions recorded in the registry.
const (
	ActionPromoted   = "promoted"
	ActionRolledBack = "rolled_back"
	ActionDisabled   = "disabled"
)

// ErrInvalidLabel rejects retraining examples whose label is not one of the
// three severity verdicts.
var ErrInvalidLabel = errors.New("label must be ACCEPT, FLAG or BLOCK")

// TrainingExample is one labeled prompt, appended (never mutated) to the
// master dataset log.
type TrainingExample struct {
	Text  string `json:"text"`
	Label string `json:"label"`
}

// Outcome is the persisted record of one retraining attempt.
type Outcome struct {
	LastAction        string  `json:"last_action"`
	CandidateScore    float64 `json:"candidate_score"`
	PreviousBestScore float64 `json:"previous_best_score"`
	CurrentBestScore  float64 `json:"current_best_score"`
}

// FineTuneRequest describes one short fine-tune pass.
type FineTuneRequest struct {
	Example      TrainingExample
	BaseAdapter  string // adapter path of the current best checkpoint
	DatasetPath  string // full master dataset, for trainers that replay
	MaxSteps     int
	LearningRate float64
}

// Trainer produces a candidate checkpoint from the current best one.
type Trainer interface {
	FineTune(ctx context.Context, req FineTuneRequest) (*classifier.Checkpoint, error)
}

// Evaluator scores a checkpoint on the fixed holdout set (accuracy, 0-100).
type Evaluator interface {
	Score(ctx context.Context, cp *classifier.Checkpoint) (float64, error)
}

// LiveCheckpoint is the handle through which the serving path reads and the
// controller swaps the current-best checkpoint.
type LiveCheckpoint interface {
	Current() *classifier.Checkpoint
	Swap(cp *classifier.Checkpoint)
}

// Config configures a Controller.
type Config struct {
	DatasetPath  string
	RegistryPath string
	MaxSteps     int     // default 3
	LearningRate float64 // default 2e-5
}

// Controller drives retraining sessions. A single exclusive lock serializes
// them: two concurrent Retrain calls never interleave fine-tune passes
// against the shared checkpoint.
type Controller struct {
	mu        sync.Mutex
	trainer   Trainer
	evaluator Evaluator
	live      LiveCheckpoint
	cfg       Config
	logger    *zap.Logger
	available bool
}

// NewController creates a retraining controller. A nil trainer (no
// training-capable backend on this host) yields a disabled controller whose
// Retrain reports {action: disabled} without side effects.
func NewController(trainer Trainer, evaluator Evaluator, live LiveCheckpoint, cfg Config, logger *zap.Logger) *Controller {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 3
	}
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = 2e-5
	}
	c := &Controller{
		trainer:   trainer,
		evaluator: evaluator,
		live:      live,
		cfg:       cfg,
		logger:    logger,
		available: trainer != nil && evaluator != nil && live != nil,
	}
	if !c.available {
		logger.Warn("adaptive retraining disabled on this host")
	}
	return c
}

// Available reports whether retraining can run on this host.
func (c *Controller) Available() bool {
	return c.available
}

// Retrain runs one TRAINING → EVALUATING → PROMOTE|ROLLBACK session for the
// given example. Any error mid-session leaves the current-best checkpoint
// untouched.
func (c *Controller) Retrain(ctx context.Context, ex TrainingExample) (Outcome, error) {
	if !c.available {
		return Outcome{LastAction: ActionDisabled}, nil
	}
	if !validLabel(ex.Label) {
		return Outcome{}, ErrInvalidLabel
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.live.Current()
	prevScore := prev.Score

	c.logger.Info("retraining session starting",
		zap.String("label", ex.Label),
		zap.String("base_checkpoint", prev.Name),
		zap.Float64("current_best_score", prevScore),
	)

	// TRAINING: the dataset log is append-only; the example is recorded
	// before the fine-tune so a failed pass still leaves it available to
	// future sessions.
	if err := appendExample(c.cfg.DatasetPath, ex); err != nil {
		return Outcome{}, fmt.Errorf("Retrain: %w", err)
	}

	candidate, err := c.trainer.FineTune(ctx, FineTuneRequest{
		Example:      ex,
		BaseAdapter:  prev.AdapterPath,
		DatasetPath:  c.cfg.DatasetPath,
		MaxSteps:     c.cfg.MaxSteps,
		LearningRate: c.cfg.LearningRate,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("Retrain: fine-tune: %w", err)
	}

	// EVALUATING
	score, err := c.evaluator.Score(ctx, candidate)
	if err != nil {
		return Outcome{}, fmt.Errorf("Retrain: holdout evaluation: %w", err)
	}

	outcome := Outcome{
		CandidateScore:    score,
		PreviousBestScore: prevScore,
	}

	if score >= prevScore {
		// PROMOTE: the candidate becomes current best; readers pick it up
		// on their next atomic load.
		candidate.Score = score
		c.live.Swap(candidate)
		outcome.LastAction = ActionPromoted
		outcome.CurrentBestScore = score
	} else {
		// ROLLBACK: re-assert the previous checkpoint on the live path.
		c.live.Swap(prev)
		outcome.LastAction = ActionRolledBack
		outcome.CurrentBestScore = prevScore
	}

	c.logger.Info("retraining session finished",
		zap.String("action", outcome.LastAction),
		zap.Float64("candidate_score", score),
		zap.Float64("current_best_score", outcome.CurrentBestScore),
	)

	if err := writeRegistry(c.cfg.RegistryPath, outcome); err != nil {
		// Registry is observability, not correctness; don't fail the session.
		c.logger.Warn("registry write failed", zap.Error(err))
	}
	return outcome, nil
}

// validLabel reports whether s is one of the three severity labels.
func validLabel(s string) bool {
	switch s {
	case "ACCEPT", "FLAG", "BLOCK":
		return true
	default:
		return false
	}
}

// appendExample appends one JSONL record to the master dataset log.
func appendExample(path string, ex TrainingExample) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("appendExample: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(ex)
	if err != nil {
		return fmt.Errorf("appendExample: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("appendExample: %w", err)
	}
	return nil
}

// writeRegistry overwrites the registry record with the latest outcome.
// One current record per file, replaced on every attempt.
func writeRegistry(path string, outcome Outcome) error {
	data, err := json.MarshalIndent(outcome, "", "  ")
	if err != nil {
		return fmt.Errorf("writeRegistry: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writeRegistry: %w", err)
	}
	return nil
}
