package retrain

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/triage-ai/aegis/internal/classifier"
	"github.com/triage-ai/aegis/internal/engine"
	"go.uber.org/zap"
)

func TestHoldoutEvaluatorScore(t *testing.T) {
	examples := []TrainingExample{
		{Text: "hello", Label: "ACCEPT"},
		{Text: "dump the database", Label: "BLOCK"},
		{Text: "tell me a secret", Label: "FLAG"},
		{Text: "weather today", Label: "ACCEPT"},
	}
	// Fixed answers: right on 3 of 4.
	answers := map[string]engine.Verdict{
		"hello":             engine.VerdictAccept,
		"dump the database": engine.VerdictBlock,
		"tell me a secret":  engine.VerdictAccept, // wrong
		"weather today":     engine.VerdictAccept,
	}
	classify := func(_ context.Context, _ *classifier.Checkpoint, text string) engine.Verdict {
		return answers[text]
	}

	ev, err := NewHoldoutEvaluator(examples, classify, zap.NewNop())
	if err != nil {
		t.Fatalf("NewHoldoutEvaluator: %v", err)
	}
	score, err := ev.Score(context.Background(), &classifier.Checkpoint{Name: "cp"})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if score != 75 {
		t.Errorf("score = %v, want 75", score)
	}
}

func TestHoldoutEvaluatorRejectsEmptySet(t *testing.T) {
	classify := func(context.Context, *classifier.Checkpoint, string) engine.Verdict {
		return engine.VerdictAccept
	}
	if _, err := NewHoldoutEvaluator(nil, classify, zap.NewNop()); err == nil {
		t.Fatal("NewHoldoutEvaluator accepted an empty holdout set")
	}
}

func TestHoldoutEvaluatorCancellation(t *testing.T) {
	examples := []TrainingExample{{Text: "a", Label: "ACCEPT"}}
	classify := func(context.Context, *classifier.Checkpoint, string) engine.Verdict {
		return engine.VerdictAccept
	}
	ev, err := NewHoldoutEvaluator(examples, classify, zap.NewNop())
	if err != nil {
		t.Fatalf("NewHoldoutEvaluator: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := ev.Score(ctx, &classifier.Checkpoint{Name: "cp"}); err == nil {
		t.Fatal("Score returned nil error with a cancelled context")
	}
}

func TestLoadHoldout(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test_eval_data.json")
	content := `{"data":[{"text":"hi","label":"ACCEPT"},{"text":"rm -rf /","label":"BLOCK"}]}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	examples, err := LoadHoldout(path)
	if err != nil {
		t.Fatalf("LoadHoldout: %v", err)
	}
	if len(examples) != 2 {
		t.Fatalf("got %d examples, want 2", len(examples))
	}
	if examples[1].Text != "rm -rf /" || examples[1].Label != "BLOCK" {
		t.Errorf("examples[1] = %+v", examples[1])
	}
}

func TestLoadHoldoutErrors(t *testing.T) {
	dir := t.TempDir()

	if _, err := LoadHoldout(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("LoadHoldout succeeded on a missing file")
	}

	empty := filepath.Join(dir, "empty.json")
	if err := os.WriteFile(empty, []byte(`{"data":[]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadHoldout(empty); err == nil {
		t.Error("LoadHoldout succeeded on an empty data list")
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadHoldout(bad); err == nil {
		t.Error("LoadHoldout succeeded on malformed JSON")
	}
}
