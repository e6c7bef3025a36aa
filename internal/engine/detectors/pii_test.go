package detectors

import (
	"testing"

	"github.com/triage-ai/aegis/internal/engine"
)

func TestScanBlocksConfiguredEntities(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		detail string
	}{
		{"us phone", "You can call me at 555-123-4567 tomorrow", "PII: phone number (US)"},
		{"phone with area code parens", "reach me at (415) 555-0100", "PII: phone number (US)"},
		{"email", "send it to jane.doe@example.com please", "PII: email address"},
		{"ssn", "my ssn is 123-45-6789", "PII: Social Security Number"},
		{"visa", "card 4111 1111 1111 1111 exp 09/27", "PII: credit card (Visa)"},
		{"mastercard", "pay with 5500-0000-0000-0004", "PII: credit card (Mastercard)"},
	}
	scanner := NewPIIScanner(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict, detail := scanner.Scan(tt.text)
			if verdict != engine.VerdictBlock {
				t.Fatalf("Scan(%q) = %v, want BLOCK", tt.text, verdict)
			}
			if detail != tt.detail {
				t.Errorf("detail = %q, want %q", detail, tt.detail)
			}
		})
	}
}

func TestScanAcceptsCleanText(t *testing.T) {
	scanner := NewPIIScanner(nil)
	for _, text := range []string{
		"What are the company holidays?",
		"Summarize the Q3 revenue report",
		"",
	} {
		verdict, detail := scanner.Scan(text)
		if verdict != engine.VerdictAccept {
			t.Errorf("Scan(%q) = %v (%q), want ACCEPT", text, verdict, detail)
		}
	}
}

func TestScanMultipleHitsCollapseDetail(t *testing.T) {
	scanner := NewPIIScanner(nil)
	verdict, detail := scanner.Scan("email jane@example.com or call 555-123-4567")
	if verdict != engine.VerdictBlock {
		t.Fatalf("verdict = %v, want BLOCK", verdict)
	}
	if detail != "multiple PII types detected" {
		t.Errorf("detail = %q, want the multi-hit summary", detail)
	}
}

func TestScanHonorsEntityFilter(t *testing.T) {
	// Only email configured: a phone number must not block.
	scanner := NewPIIScanner([]string{EntityEmailAddress})
	if verdict, _ := scanner.Scan("call me at 555-123-4567"); verdict != engine.VerdictAccept {
		t.Errorf("phone verdict = %v with email-only filter, want ACCEPT", verdict)
	}
	if verdict, _ := scanner.Scan("mail me at a@b.co"); verdict != engine.VerdictBlock {
		t.Errorf("email verdict = %v with email-only filter, want BLOCK", verdict)
	}
}

func TestScanIBANOnlyWhenConfigured(t *testing.T) {
	iban := "transfer to DE89 3704 0044 0532 0130 00"

	if verdict, _ := NewPIIScanner(nil).Scan(iban); verdict != engine.VerdictAccept {
		t.Errorf("default scanner blocked IBAN, want ACCEPT (not in default set)")
	}
	if verdict, _ := NewPIIScanner([]string{EntityIBAN}).Scan(iban); verdict != engine.VerdictBlock {
		t.Errorf("IBAN scanner verdict != BLOCK")
	}
}
