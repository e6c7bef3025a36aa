package expert

import "testing"

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{"bare object", `{"a":1}`, `{"a":1}`, true},
		{"prose around", `Sure! Here is the verdict: {"a":1} Hope that helps.`, `{"a":1}`, true},
		{
			"markdown fence",
			"```json\n{\"pii_status\": \"ACCEPT\"}\n```",
			`{"pii_status": "ACCEPT"}`,
			true,
		},
		{"nested object", `{"a":{"b":2}}`, `{"a":{"b":2}}`, true},
		{"braces inside string", `{"a":"}{"}`, `{"a":"}{"}`, true},
		{"escaped quote inside string", `{"a":"say \"hi\" {now}"}`, `{"a":"say \"hi\" {now}"}`, true},
		{"first of two objects", `{"a":1} {"b":2}`, `{"a":1}`, true},
		{"stray closer before opener", `} {"a":1}`, `{"a":1}`, true},
		{"no object", "the prompt looks fine to me", "", false},
		{"unterminated", `{"a":1`, "", false},
		{"empty", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := extractJSONObject(tt.input)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
