package engine

// Verdict represents a single source's judgement of a prompt.
//
// ACCEPT < FLAG < BLOCK form a severity order used by Merge. The remaining
// values describe source health (a check that was skipped, a model that never
// loaded, an inference failure) and never carry severity — they contribute no
// information when merging.
type Verdict int

const (
	VerdictUnspecified Verdict = iota
	VerdictNotRun
	VerdictNotAvailable
	VerdictError
	VerdictAccept
	VerdictFlag
	VerdictBlock
)

// String returns the uppercase wire name of the verdict.
func (v Verdict) String() string {
	switch v {
	case VerdictNotRun:
		return "NOT_RUN"
	case VerdictNotAvailable:
		return "NOT_AVAILABLE"
	case VerdictError:
		return "ERROR"
	case VerdictAccept:
		return "ACCEPT"
	case VerdictFlag:
		return "FLAG"
	case VerdictBlock:
		return "BLOCK"
	default:
		return "UNSPECIFIED"
	}
}

// Valid reports whether v is one of the three severity verdicts that may
// participate in a merge.
func (v Verdict) Valid() bool {
	return v == VerdictAccept || v == VerdictFlag || v == VerdictBlock
}

// ParseVerdict maps a wire string to a Verdict. The second return value is
// false for anything outside the closed set.
func ParseVerdict(s string) (Verdict, bool) {
	switch s {
	case "NOT_RUN":
		return VerdictNotRun, true
	case "NOT_AVAILABLE":
		return VerdictNotAvailable, true
	case "ERROR":
		return VerdictError, true
	case "ACCEPT":
		return VerdictAccept, true
	case "FLAG":
		return VerdictFlag, true
	case "BLOCK":
		return VerdictBlock, true
	default:
		return VerdictUnspecified, false
	}
}

// Merge combines two verdicts conservatively: the more severe one wins.
// A source-health value (NOT_RUN, NOT_AVAILABLE, ERROR) contributes no
// information, so merging against one yields the other operand unchanged.
// Commutative, idempotent and associative over the severity order.
func Merge(a, b Verdict) Verdict {
	if !a.Valid() {
		return b
	}
	if !b.Valid() {
		return a
	}
	if a >= b {
		return a
	}
	return b
}

// Domain identifies one of the independent risk dimensions a prompt is
// classified along.
type Domain int

const (
	DomainPII Domain = iota
	DomainMisuse
	DomainMalicious
)

// Domains lists every domain in a stable order.
func Domains() []Domain {
	return []Domain{DomainPII, DomainMisuse, DomainMalicious}
}

// String returns the wire field name for the domain, matching the JSON keys
// used by the check and process endpoints.
func (d Domain) String() string {
	switch d {
	case DomainPII:
		return "pii_status"
	case DomainMisuse:
		return "slm_flag"
	case DomainMalicious:
		return "malicious_flag"
	default:
		return "unknown"
	}
}

// Origin tags which side of the review produced a FlagSet.
type Origin int

const (
	OriginLocal Origin = iota
	OriginExpert
)

func (o Origin) String() string {
	if o == OriginExpert {
		return "EXPERT"
	}
	return "LOCAL"
}

// FlagSet holds one verdict per domain from a single source. Treated as an
// immutable value after creation.
type FlagSet struct {
	Origin    Origin  `json:"-"`
	PII       Verdict `json:"pii_status"`
	Misuse    Verdict `json:"slm_flag"`
	Malicious Verdict `json:"malicious_flag"`
}

// Get returns the verdict for a domain.
func (f FlagSet) Get(d Domain) Verdict {
	switch d {
	case DomainPII:
		return f.PII
	case DomainMisuse:
		return f.Misuse
	case DomainMalicious:
		return f.Malicious
	default:
		return VerdictUnspecified
	}
}

// AnyBlock reports whether any domain carries a BLOCK verdict.
func (f FlagSet) AnyBlock() bool {
	return f.PII == VerdictBlock || f.Misuse == VerdictBlock || f.Malicious == VerdictBlock
}

// AnyFlag reports whether any domain carries a FLAG verdict.
func (f FlagSet) AnyFlag() bool {
	return f.PII == VerdictFlag || f.Misuse == VerdictFlag || f.Malicious == VerdictFlag
}

// wireMap renders the FlagSet as string fields for logging and reports.
func (f FlagSet) wireMap() map[string]string {
	m := make(map[string]string, 3)
	for _, d := range Domains() {
		m[d.String()] = f.Get(d).String()
	}
	return m
}

// MergeFlagSets merges two FlagSets domain by domain under the severity
// order. Domains where neither source produced a severity verdict stay
// invalid in the result; the caller decides how to fail for those.
func MergeFlagSets(local, expert FlagSet) FlagSet {
	return FlagSet{
		PII:       Merge(local.PII, expert.PII),
		Misuse:    Merge(local.Misuse, expert.Misuse),
		Malicious: Merge(local.Malicious, expert.Malicious),
	}
}

// DiscrepancyReport records, per domain, whether the local and expert
// reviewers disagreed, along with copies of both flag sets.
type DiscrepancyReport struct {
	PIIDiscrepancy       bool              `json:"pii_discrepancy"`
	SLMDiscrepancy       bool              `json:"slm_discrepancy"`
	MaliciousDiscrepancy bool              `json:"malicious_discrepancy"`
	InitialFlags         map[string]string `json:"initial_flags"`
	ExpertFlags          map[string]string `json:"expert_flags"`
}

// BuildDiscrepancyReport compares the two flag sets and returns a report, or
// nil when every domain agrees. A nil report is deliberately distinct from an
// all-false one: emitting a report at all signals that the reviewers
// disagreed somewhere.
func BuildDiscrepancyReport(local, expert FlagSet) *DiscrepancyReport {
	r := &DiscrepancyReport{
		PIIDiscrepancy:       local.PII != expert.PII,
		SLMDiscrepancy:       local.Misuse != expert.Misuse,
		MaliciousDiscrepancy: local.Malicious != expert.Malicious,
	}
	if !r.PIIDiscrepancy && !r.SLMDiscrepancy && !r.MaliciousDiscrepancy {
		return nil
	}
	r.InitialFlags = local.wireMap()
	r.ExpertFlags = expert.wireMap()
	return r
}

// Status is the terminal outcome of processing one prompt.
type Status int

const (
	StatusBlocked Status = iota + 1
	StatusFlagged
	StatusPossibleHallucination
	StatusSuccess
)

// String returns the uppercase wire name of the status.
func (s Status) String() string {
	switch s {
	case StatusBlocked:
		return "BLOCKED"
	case StatusFlagged:
		return "FLAGGED"
	case StatusPossibleHallucination:
		return "POSSIBLE_HALLUCINATION"
	case StatusSuccess:
		return "SUCCESS"
	default:
		return "UNSPECIFIED"
	}
}

// ProcessingResult is the immutable terminal record for one processed prompt.
type ProcessingResult struct {
	Status        Status
	Details       string
	FinalResponse *string
	Discrepancy   *DiscrepancyReport
}
