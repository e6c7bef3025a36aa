package engine

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// PIIScanner detects configured PII entity categories in raw text.
type PIIScanner interface {
	Scan(text string) (Verdict, string)
}

// LocalClassifier is a pre-trained text classifier invoked for every
// in-flight request. Health problems are encoded in the verdict itself
// (NOT_AVAILABLE, ERROR) rather than as errors, since an unavailable source
// merely contributes no information.
type LocalClassifier interface {
	Classify(ctx context.Context, text string) Verdict
}

// SecondOpinionClient re-derives the three-domain verdicts via an external
// large model.
type SecondOpinionClient interface {
	SecondOpinion(ctx context.Context, prompt string, initial FlagSet, model string) (FlagSet, error)
}

// ConsensusResult is the outcome of the hallucination check. Canonical is
// the answer owed to the caller whenever generation succeeded, whatever the
// hallucination verdict.
type ConsensusResult struct {
	Hallucinated bool
	Canonical    string
	Similarities []float64
}

// HallucinationChecker validates a generated answer by multi-sample
// agreement.
type HallucinationChecker interface {
	Check(ctx context.Context, prompt string, samples int, threshold float64) (ConsensusResult, error)
}

// Defaults holds server-wide fallbacks applied when a project policy leaves
// a knob unset.
type Defaults struct {
	ConsensusThreshold float64
	ConsensusSamples   int
	ExpertModel        string
}

// SentryEngine is the decision core: it screens prompts through the PII
// scanner and the local classifiers, fuses local and expert verdicts with
// the conservative merge, and validates accepted answers through the
// consensus detector.
type SentryEngine struct {
	scannerFor func(entities []string) PIIScanner
	slm        LocalClassifier
	misuse     LocalClassifier
	expert     SecondOpinionClient
	consensus  HallucinationChecker
	defaults   Defaults
	logger     *zap.Logger
}

// NewSentryEngine wires the engine from its collaborators. scannerFor builds
// a PII scanner for a given entity category set (empty set means server
// defaults).
func NewSentryEngine(
	scannerFor func(entities []string) PIIScanner,
	slm, misuse LocalClassifier,
	expert SecondOpinionClient,
	consensus HallucinationChecker,
	defaults Defaults,
	logger *zap.Logger,
) *SentryEngine {
	return &SentryEngine{
		scannerFor: scannerFor,
		slm:        slm,
		misuse:     misuse,
		expert:     expert,
		consensus:  consensus,
		defaults:   defaults,
		logger:     logger,
	}
}

// CheckQueryResult carries the first-stage verdicts for a prompt.
type CheckQueryResult struct {
	PIIStatus     Verdict
	SLMFlag       Verdict
	MaliciousFlag Verdict
	FinalFlag     Verdict
	PIIDetail     string
}

// LocalFlags renders the result as a LOCAL-tagged FlagSet for the fusion
// stage.
func (r CheckQueryResult) LocalFlags() FlagSet {
	return FlagSet{
		Origin:    OriginLocal,
		PII:       r.PIIStatus,
		Misuse:    r.SLMFlag,
		Malicious: r.MaliciousFlag,
	}
}

// CheckQuery runs the first-stage screen: PII scan, then the two local
// classifiers concurrently. A PII hit short-circuits — the classifier fields
// report NOT_RUN and no model call is made.
func (e *SentryEngine) CheckQuery(ctx context.Context, prompt string, entities []string) CheckQueryResult {
	piiVerdict, piiDetail := e.scannerFor(entities).Scan(prompt)
	if piiVerdict == VerdictBlock {
		e.logger.Info("pii scanner blocked prompt", zap.String("detail", piiDetail))
		return CheckQueryResult{
			PIIStatus:     VerdictBlock,
			SLMFlag:       VerdictNotRun,
			MaliciousFlag: VerdictNotRun,
			FinalFlag:     VerdictBlock,
			PIIDetail:     piiDetail,
		}
	}

	// Both classifiers are independent; run them in parallel.
	var slmFlag, maliciousFlag Verdict
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		slmFlag = e.slm.Classify(ctx, prompt)
	}()
	go func() {
		defer wg.Done()
		maliciousFlag = e.misuse.Classify(ctx, prompt)
	}()
	wg.Wait()

	// Conservative merge of whichever classifiers produced evidence. With
	// no valid source at all there is nothing to decide on: report ERROR
	// so the caller fails closed.
	var finalFlag Verdict
	switch {
	case slmFlag.Valid() || maliciousFlag.Valid():
		finalFlag = Merge(slmFlag, maliciousFlag)
	default:
		finalFlag = VerdictError
	}

	return CheckQueryResult{
		PIIStatus:     VerdictAccept,
		SLMFlag:       slmFlag,
		MaliciousFlag: maliciousFlag,
		FinalFlag:     finalFlag,
	}
}

// ProcessPrompt runs the second stage for a prompt that passed the local
// screen: expert review, conservative fusion, decision, and — when accepted —
// response generation plus the consensus hallucination check.
//
// Failure policy per phase:
//   - second-opinion transport failure: BLOCKED (fail closed)
//   - generation failure: BLOCKED (fail closed)
//   - embedding failure: POSSIBLE_HALLUCINATION (fail closed, answer kept)
//   - expert reply parse failure: handled fail-open inside the expert client
func (e *SentryEngine) ProcessPrompt(ctx context.Context, prompt string, initial FlagSet, policy *PolicyConfig) ProcessingResult {
	initial.Origin = OriginLocal

	// A BLOCK already present locally decides the outcome; don't spend an
	// expert call on it.
	if initial.AnyBlock() {
		return ProcessingResult{Status: StatusBlocked, Details: "A BLOCK flag was issued."}
	}

	expertFlags, err := e.expert.SecondOpinion(ctx, prompt, initial, policy.EffectiveExpertModel(e.defaults.ExpertModel))
	if err != nil {
		e.logger.Warn("expert review failed, blocking", zap.Error(err))
		return ProcessingResult{
			Status:  StatusBlocked,
			Details: fmt.Sprintf("expert second opinion failed: %v", err),
		}
	}

	report := BuildDiscrepancyReport(initial, expertFlags)
	merged := MergeFlagSets(initial, expertFlags)

	// DECIDE only runs over fully resolved verdicts. A domain with no valid
	// verdict from either source means both classifiers were down; fail
	// closed rather than guess.
	for _, d := range Domains() {
		if !merged.Get(d).Valid() {
			e.logger.Warn("no valid verdict from any source, blocking",
				zap.String("domain", d.String()),
			)
			return ProcessingResult{
				Status:      StatusBlocked,
				Details:     fmt.Sprintf("no classifier available for %s", d.String()),
				Discrepancy: report,
			}
		}
	}

	if merged.AnyBlock() {
		return ProcessingResult{
			Status:      StatusBlocked,
			Details:     "A BLOCK flag was issued.",
			Discrepancy: report,
		}
	}
	if merged.AnyFlag() {
		return ProcessingResult{
			Status:      StatusFlagged,
			Details:     "A FLAG was issued.",
			Discrepancy: report,
		}
	}

	res, err := e.consensus.Check(ctx, prompt,
		policy.EffectiveConsensusSamples(e.defaults.ConsensusSamples),
		policy.EffectiveConsensusThreshold(e.defaults.ConsensusThreshold),
	)
	if err != nil {
		e.logger.Warn("response generation failed, blocking", zap.Error(err))
		return ProcessingResult{
			Status:      StatusBlocked,
			Details:     fmt.Sprintf("response generation failed: %v", err),
			Discrepancy: report,
		}
	}

	final := res.Canonical
	if res.Hallucinated {
		return ProcessingResult{
			Status:        StatusPossibleHallucination,
			Details:       "Response consistency was low.",
			FinalResponse: &final,
			Discrepancy:   report,
		}
	}
	return ProcessingResult{
		Status:        StatusSuccess,
		Details:       "Prompt processed successfully.",
		FinalResponse: &final,
		Discrepancy:   report,
	}
}
