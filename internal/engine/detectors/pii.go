package detectors

import (
	"regexp"

	"github.com/triage-ai/aegis/internal/engine"
)

// Entity category names accepted by the scanner. These match the wire
// strings callers pass in the check request's entities list.
const (
	EntityPhoneNumber  = "PHONE_NUMBER"
	EntityEmailAddress = "EMAIL_ADDRESS"
	EntityNationalID   = "US_SSN"
	EntityPaymentCard  = "CREDIT_CARD"
	EntityIBAN         = "IBAN"
)

// DefaultEntities is the server-default category set scanned when a request
// or policy does not override it.
var DefaultEntities = []string{
	EntityPhoneNumber,
	EntityEmailAddress,
	EntityNationalID,
	EntityPaymentCard,
}

// Pre-compiled PII patterns — high precision, targeted per entity category.
var piiPatterns = []struct {
	entity string
	re     *regexp.Regexp
	detail string
}{
	// SSN: 123-45-6789 or 123 45 6789
	{EntityNationalID, regexp.MustCompile(`\b\d{3}[-\s]\d{2}[-\s]\d{4}\b`), "PII: Social Security Number"},

	// Credit card numbers (Visa, MC, Amex, Discover — with optional spaces/dashes)
	// Visa: 4xxx
	{EntityPaymentCard, regexp.MustCompile(`\b4\d{3}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`), "PII: credit card (Visa)"},
	// Mastercard: 5[1-5]xx
	{EntityPaymentCard, regexp.MustCompile(`\b5[1-5]\d{2}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`), "PII: credit card (Mastercard)"},
	// Amex: 3[47]xx
	{EntityPaymentCard, regexp.MustCompile(`\b3[47]\d{2}[-\s]?\d{6}[-\s]?\d{5}\b`), "PII: credit card (Amex)"},
	// Discover: 6011
	{EntityPaymentCard, regexp.MustCompile(`\b6011[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`), "PII: credit card (Discover)"},

	// Email addresses
	{EntityEmailAddress, regexp.MustCompile(`\b[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}\b`), "PII: email address"},

	// Phone numbers (US formats)
	// (123) 456-7890 or 123-456-7890 or +1-123-456-7890
	{EntityPhoneNumber, regexp.MustCompile(`(\+1[-\s]?)?\(?\d{3}\)?[-\s.]?\d{3}[-\s.]?\d{4}\b`), "PII: phone number (US)"},

	// International phone with country code
	{EntityPhoneNumber, regexp.MustCompile(`\+\d{1,3}[-\s]?\d{1,4}[-\s]?\d{3,4}[-\s]?\d{3,4}\b`), "PII: phone number (international)"},

	// IBAN (International Bank Account Number)
	{EntityIBAN, regexp.MustCompile(`\b[A-Z]{2}\d{2}[-\s]?[A-Z0-9]{4}[-\s]?(?:[A-Z0-9]{4}[-\s]?){1,7}[A-Z0-9]{1,4}\b`), "PII: IBAN"},
}

// PIIScanner scans prompt text for personally identifiable information in a
// configured set of entity categories. A single hit of any configured
// category is sufficient to block — there is no partial credit.
//
// Scan is a pure function of (text, category set): no shared state, safe for
// concurrent use.
type PIIScanner struct {
	entities map[string]bool
}

// NewPIIScanner creates a scanner limited to the given entity categories.
// An empty list means the server defaults.
func NewPIIScanner(entities []string) *PIIScanner {
	if len(entities) == 0 {
		entities = DefaultEntities
	}
	set := make(map[string]bool, len(entities))
	for _, e := range entities {
		set[e] = true
	}
	return &PIIScanner{entities: set}
}

// Scan returns BLOCK and the first matched detail when any configured entity
// is present anywhere in the text, else ACCEPT.
func (s *PIIScanner) Scan(text string) (engine.Verdict, string) {
	var details []string
	for _, p := range piiPatterns {
		if !s.entities[p.entity] {
			continue
		}
		if p.re.MatchString(text) {
			details = append(details, p.detail)
		}
	}

	if len(details) == 0 {
		return engine.VerdictAccept, ""
	}
	detail := details[0]
	if len(details) > 1 {
		detail = "multiple PII types detected"
	}
	return engine.VerdictBlock, detail
}
