package policy

import (
	"strings"
	"testing"
)

func TestRedactPII(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		masks  []string
		absent []string
	}{
		{
			name:   "email",
			input:  "send it to sam@example.com please",
			masks:  []string{"[email]"},
			absent: []string{"sam@example.com"},
		},
		{
			name:   "card before phone",
			input:  "my card is 4242 4242 4242 4242",
			masks:  []string{"[card]"},
			absent: []string{"[phone]", "4242"},
		},
		{
			name:   "spoken phone number",
			input:  "call me back on +1 (555) 123-9876",
			masks:  []string{"[phone]"},
			absent: []string{"123-9876"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, changed := RedactPII(tt.input)
			if !changed {
				t.Fatalf("changed = false for %q", tt.input)
			}
			for _, m := range tt.masks {
				if !strings.Contains(out, m) {
					t.Fatalf("output missing %q: %q", m, out)
				}
			}
			for _, a := range tt.absent {
				if strings.Contains(out, a) {
					t.Fatalf("output still contains %q: %q", a, out)
				}
			}
		})
	}
}

func TestRedactLeavesPlainSpeechAlone(t *testing.T) {
	in := "table for two at seven thirty"
	out, changed := RedactPII(in)
	if changed || out != in {
		t.Fatalf("RedactPII(%q) = %q, %v", in, out, changed)
	}
	if got := Redact(in); got != in {
		t.Fatalf("Redact(%q) = %q", in, got)
	}
}
