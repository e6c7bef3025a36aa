package retrain

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/triage-ai/aegis/internal/classifier"
	"go.uber.org/zap"
)

type fakeTrainer struct {
	candidate *classifier.Checkpoint
	err       error
	calls     int
	lastReq   FineTuneRequest
}

func (f *fakeTrainer) FineTune(_ context.Context, req FineTuneRequest) (*classifier.Checkpoint, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	cp := *f.candidate
	return &cp, nil
}

type fakeEvaluator struct {
	score float64
	err   error
}

func (f *fakeEvaluator) Score(context.Context, *classifier.Checkpoint) (float64, error) {
	return f.score, f.err
}

type fakeLive struct {
	mu sync.Mutex
	cp *classifier.Checkpoint
}

func (f *fakeLive) Current() *classifier.Checkpoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cp
}

func (f *fakeLive) Swap(cp *classifier.Checkpoint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cp = cp
}

func testConfig(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()
	return Config{
		DatasetPath:  filepath.Join(dir, "live_training_data.jsonl"),
		RegistryPath: filepath.Join(dir, "model_registry.json"),
	}
}

func TestRetrainPromotesBetterCandidate(t *testing.T) {
	live := &fakeLive{cp: &classifier.Checkpoint{Name: "best-v1", AdapterPath: "adapters/v1", Score: 80}}
	trainer := &fakeTrainer{candidate: &classifier.Checkpoint{Name: "cand-v2", AdapterPath: "adapters/v2"}}
	cfg := testConfig(t)

	c := NewController(trainer, &fakeEvaluator{score: 85}, live, cfg, zap.NewNop())
	outcome, err := c.Retrain(context.Background(), TrainingExample{Text: "new example", Label: "BLOCK"})
	if err != nil {
		t.Fatalf("Retrain: %v", err)
	}

	if outcome.LastAction != ActionPromoted {
		t.Errorf("action = %q, want promoted", outcome.LastAction)
	}
	if outcome.CandidateScore != 85 || outcome.PreviousBestScore != 80 || outcome.CurrentBestScore != 85 {
		t.Errorf("scores = %+v", outcome)
	}
	if live.Current().Name != "cand-v2" {
		t.Errorf("live checkpoint = %q, want the promoted candidate", live.Current().Name)
	}
	if live.Current().Score != 85 {
		t.Errorf("live score = %v, want the candidate's holdout score", live.Current().Score)
	}
}

func TestRetrainRollsBackWorseCandidate(t *testing.T) {
	live := &fakeLive{cp: &classifier.Checkpoint{Name: "best-v1", AdapterPath: "adapters/v1", Score: 80}}
	trainer := &fakeTrainer{candidate: &classifier.Checkpoint{Name: "cand-v2", AdapterPath: "adapters/v2"}}
	cfg := testConfig(t)

	c := NewController(trainer, &fakeEvaluator{score: 75}, live, cfg, zap.NewNop())
	outcome, err := c.Retrain(context.Background(), TrainingExample{Text: "bad example", Label: "ACCEPT"})
	if err != nil {
		t.Fatalf("Retrain: %v", err)
	}

	if outcome.LastAction != ActionRolledBack {
		t.Errorf("action = %q, want rolled_back", outcome.LastAction)
	}
	if outcome.CurrentBestScore != 80 {
		t.Errorf("current best = %v, want unchanged 80", outcome.CurrentBestScore)
	}
	if live.Current().Name != "best-v1" || live.Current().Score != 80 {
		t.Errorf("live checkpoint = %+v, want best-v1 untouched", live.Current())
	}
}

func TestRetrainPromotesOnTie(t *testing.T) {
	live := &fakeLive{cp: &classifier.Checkpoint{Name: "best-v1", AdapterPath: "adapters/v1", Score: 80}}
	trainer := &fakeTrainer{candidate: &classifier.Checkpoint{Name: "cand-v2", AdapterPath: "adapters/v2"}}

	c := NewController(trainer, &fakeEvaluator{score: 80}, live, testConfig(t), zap.NewNop())
	outcome, err := c.Retrain(context.Background(), TrainingExample{Text: "tie", Label: "FLAG"})
	if err != nil {
		t.Fatalf("Retrain: %v", err)
	}
	if outcome.LastAction != ActionPromoted {
		t.Errorf("action = %q, want promoted on equal score", outcome.LastAction)
	}
	if live.Current().Name != "cand-v2" {
		t.Errorf("live checkpoint = %q, want the tying candidate", live.Current().Name)
	}
}

func TestRetrainInvalidLabel(t *testing.T) {
	live := &fakeLive{cp: &classifier.Checkpoint{Name: "best-v1"}}
	trainer := &fakeTrainer{candidate: &classifier.Checkpoint{Name: "cand"}}
	cfg := testConfig(t)

	c := NewController(trainer, &fakeEvaluator{score: 90}, live, cfg, zap.NewNop())
	for _, label := range []string{"", "accept", "MAYBE", "NOT_RUN"} {
		_, err := c.Retrain(context.Background(), TrainingExample{Text: "x", Label: label})
		if !errors.Is(err, ErrInvalidLabel) {
			t.Errorf("Retrain(label=%q) err = %v, want ErrInvalidLabel", label, err)
		}
	}
	if trainer.calls != 0 {
		t.Errorf("trainer called %d times for invalid labels, want 0", trainer.calls)
	}
	if _, err := os.Stat(cfg.DatasetPath); !os.IsNotExist(err) {
		t.Error("dataset written for an invalid label")
	}
}

func TestRetrainDisabledController(t *testing.T) {
	c := NewController(nil, nil, nil, testConfig(t), zap.NewNop())
	if c.Available() {
		t.Error("Available() = true for a trainerless controller")
	}
	outcome, err := c.Retrain(context.Background(), TrainingExample{Text: "x", Label: "BLOCK"})
	if err != nil {
		t.Fatalf("Retrain: %v", err)
	}
	if outcome.LastAction != ActionDisabled {
		t.Errorf("action = %q, want disabled", outcome.LastAction)
	}
}

func TestRetrainAppendsDatasetBeforeFineTune(t *testing.T) {
	live := &fakeLive{cp: &classifier.Checkpoint{Name: "best-v1", AdapterPath: "adapters/v1", Score: 50}}
	trainer := &fakeTrainer{err: errors.New("trainer crashed")}
	cfg := testConfig(t)

	c := NewController(trainer, &fakeEvaluator{score: 0}, live, cfg, zap.NewNop())
	if _, err := c.Retrain(context.Background(), TrainingExample{Text: "kept example", Label: "FLAG"}); err == nil {
		t.Fatal("Retrain returned nil error after fine-tune failure")
	}

	// The example survives the failed pass in the append-only log.
	lines := readJSONLines(t, cfg.DatasetPath)
	if len(lines) != 1 || lines[0].Text != "kept example" || lines[0].Label != "FLAG" {
		t.Errorf("dataset = %+v, want the single appended example", lines)
	}
	// The live checkpoint is untouched by a failed session.
	if live.Current().Name != "best-v1" {
		t.Errorf("live checkpoint = %q after failed session, want best-v1", live.Current().Name)
	}
}

func TestRetrainDatasetAccumulates(t *testing.T) {
	live := &fakeLive{cp: &classifier.Checkpoint{Name: "best-v1", AdapterPath: "adapters/v1", Score: 50}}
	trainer := &fakeTrainer{candidate: &classifier.Checkpoint{Name: "cand", AdapterPath: "adapters/cand"}}
	cfg := testConfig(t)

	c := NewController(trainer, &fakeEvaluator{score: 60}, live, cfg, zap.NewNop())
	for _, text := range []string{"first", "second", "third"} {
		if _, err := c.Retrain(context.Background(), TrainingExample{Text: text, Label: "ACCEPT"}); err != nil {
			t.Fatalf("Retrain(%q): %v", text, err)
		}
	}

	lines := readJSONLines(t, cfg.DatasetPath)
	if len(lines) != 3 {
		t.Fatalf("dataset has %d lines, want 3", len(lines))
	}
	if lines[0].Text != "first" || lines[2].Text != "third" {
		t.Errorf("dataset order = %+v, want append order preserved", lines)
	}
}

func TestRetrainWritesRegistry(t *testing.T) {
	live := &fakeLive{cp: &classifier.Checkpoint{Name: "best-v1", AdapterPath: "adapters/v1", Score: 80}}
	trainer := &fakeTrainer{candidate: &classifier.Checkpoint{Name: "cand", AdapterPath: "adapters/cand"}}
	cfg := testConfig(t)

	c := NewController(trainer, &fakeEvaluator{score: 90}, live, cfg, zap.NewNop())
	if _, err := c.Retrain(context.Background(), TrainingExample{Text: "x", Label: "BLOCK"}); err != nil {
		t.Fatalf("Retrain: %v", err)
	}

	raw, err := os.ReadFile(cfg.RegistryPath)
	if err != nil {
		t.Fatalf("read registry: %v", err)
	}
	var rec Outcome
	if err := json.Unmarshal(raw, &rec); err != nil {
		t.Fatalf("registry not valid JSON: %v", err)
	}
	if rec.LastAction != ActionPromoted || rec.CandidateScore != 90 || rec.CurrentBestScore != 90 {
		t.Errorf("registry = %+v", rec)
	}

	// A later worse attempt overwrites the record: one current record per file.
	c2 := NewController(trainer, &fakeEvaluator{score: 10}, live, cfg, zap.NewNop())
	if _, err := c2.Retrain(context.Background(), TrainingExample{Text: "y", Label: "BLOCK"}); err != nil {
		t.Fatalf("Retrain: %v", err)
	}
	raw, _ = os.ReadFile(cfg.RegistryPath)
	if err := json.Unmarshal(raw, &rec); err != nil {
		t.Fatalf("registry not valid JSON after overwrite: %v", err)
	}
	if rec.LastAction != ActionRolledBack {
		t.Errorf("registry action = %q, want the latest attempt", rec.LastAction)
	}
}

func TestRetrainSessionsSerialize(t *testing.T) {
	live := &fakeLive{cp: &classifier.Checkpoint{Name: "best-v1", AdapterPath: "adapters/v1", Score: 50}}

	inFlight := make(chan struct{}, 2)
	trainer := trainerFunc(func(_ context.Context, req FineTuneRequest) (*classifier.Checkpoint, error) {
		select {
		case inFlight <- struct{}{}:
		default:
			return nil, errors.New("overlapping fine-tune passes")
		}
		defer func() { <-inFlight }()
		if len(inFlight) > 1 {
			return nil, errors.New("two sessions interleaved")
		}
		return &classifier.Checkpoint{Name: "cand", AdapterPath: "adapters/cand"}, nil
	})

	c := NewController(trainer, &fakeEvaluator{score: 60}, live, testConfig(t), zap.NewNop())

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Retrain(context.Background(), TrainingExample{Text: "x", Label: "ACCEPT"}); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent Retrain: %v", err)
	}
}

type trainerFunc func(ctx context.Context, req FineTuneRequest) (*classifier.Checkpoint, error)

func (f trainerFunc) FineTune(ctx context.Context, req FineTuneRequest) (*classifier.Checkpoint, error) {
	return f(ctx, req)
}

func readJSONLines(t *testing.T, path string) []TrainingExample {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open dataset: %v", err)
	}
	defer f.Close()

	var out []TrainingExample
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var ex TrainingExample
		if err := json.Unmarshal(sc.Bytes(), &ex); err != nil {
			t.Fatalf("bad JSONL line %q: %v", sc.Text(), err)
		}
		out = append(out, ex)
	}
	return out
}
