package governance

import "regexp"

// PIIPattern pairs a detector regex with its redaction token.
type PIIPattern struct {
	Name    string
	Pattern *regexp.Regexp
	Mask    string
}

// piiPatterns is the redaction catalogue applied to context and responses
// before they leave the trust boundary.
var piiPatterns = []PIIPattern{
	{
		Name:    "email",
		Pattern: regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
		Mask:    "[REDACTED_EMAIL]",
	},
	{
		Name:    "ssn",
		Pattern: regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
		Mask:    "[REDACTED_SSN]",
	},
	{
		Name:    "credit_card",
		Pattern: regexp.MustCompile(`\b\d{4}[\s-]?\d{4}[\s-]?\d{4}[\s-]?\d{4}\b`),
		Mask:    "[REDACTED_CREDIT_CARD]",
	},
	{
		Name:    "phone",
		Pattern: regexp.MustCompile(`\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`),
		Mask:    "[REDACTED_PHONE]",
	},
	{
		Name:    "ip_address",
		Pattern: regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`),
		Mask:    "[REDACTED_IP_ADDRESS]",
	},
}

// Redactor applies the PII catalogue to text.
type Redactor struct {
	enabled bool
}

// NewRedactor creates a redactor; when disabled it passes text through
// unchanged.
func NewRedactor(enabled bool) *Redactor {
	return &Redactor{enabled: enabled}
}

// Redact replaces all PII matches with their redaction tokens and returns
// the redacted text and the number of replacements made.
// Order matters: credit cards are redacted before phone numbers so the
// 16-digit pattern is not partially consumed by the 10-digit one.
func (r *Redactor) Redact(text string) (string, int) {
	if !r.enabled {
		return text, 0
	}

	count := 0
	for _, p := range piiPatterns {
		matches := p.Pattern.FindAllStringIndex(text, -1)
		if len(matches) == 0 {
			continue
		}
		count += len(matches)
		text = p.Pattern.ReplaceAllString(text, p.Mask)
	}
	return text, count
}
