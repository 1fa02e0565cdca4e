// Package governance implements the security screens every request passes
// through: prompt-injection detection, PII redaction, cross-tenant isolation
// checks, and behaviour-based abuse detection.
package governance

import (
	"fmt"
	"regexp"
	"strings"
)

// injectionPatterns is the fixed catalogue of prompt-injection markers.
// Matched case-insensitively against the raw query.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bignore\b`),
	regexp.MustCompile(`\bdisregard\b`),
	regexp.MustCompile(`\boverride\b`),
	regexp.MustCompile(`\bbypass\b`),
	regexp.MustCompile(`\bforget\b`),
	regexp.MustCompile(`\bclear context\b`),
	regexp.MustCompile(`\bnew instructions\b`),
	regexp.MustCompile(`\byou are now\b`),
	regexp.MustCompile(`\brespond as\b`),
	regexp.MustCompile(`\bact as\b`),
	regexp.MustCompile(`\bpretend\b`),
	regexp.MustCompile(`\brole\s*play\b`),
	regexp.MustCompile(`\bdeveloper mode\b`),
	regexp.MustCompile(`\bsystem override\b`),
	regexp.MustCompile(`\bexecute this command\b`),
}

// outputViolationPatterns flag LLM responses that suggest a successful
// injection.
var outputViolationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`as you requested`),
	regexp.MustCompile(`new instructions`),
	regexp.MustCompile(`following the new`),
	regexp.MustCompile(`role\s*play`),
	regexp.MustCompile(`pretend\s+`),
}

// codeExecutionPatterns flag responses carrying executable payloads.
var codeExecutionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)import\s+`),
	regexp.MustCompile(`(?i)exec\(`),
	regexp.MustCompile(`(?i)eval\(`),
	regexp.MustCompile(`(?i)subprocess`),
	regexp.MustCompile(`(?i)os\.system`),
	regexp.MustCompile(`(?i)bash\s+-c`),
	regexp.MustCompile(`(?i)sh\s+-c`),
	regexp.MustCompile(`(?i)DROP\s+TABLE`),
	regexp.MustCompile(`(?i)DELETE\s+FROM`),
}

// ScreenPrompt checks a query for injection markers. Returns the matched
// pattern when the query is suspect.
func ScreenPrompt(query string) (suspect bool, pattern string) {
	lower := strings.ToLower(query)
	for _, re := range injectionPatterns {
		if re.MatchString(lower) {
			return true, re.String()
		}
	}
	return false, ""
}

// ValidateResponse checks an LLM response for signs of injection
// exploitation or embedded code-execution payloads.
func ValidateResponse(response string) error {
	lower := strings.ToLower(response)
	for _, re := range outputViolationPatterns {
		if re.MatchString(lower) {
			return fmt.Errorf("response shows signs of injection: %s", re.String())
		}
	}
	for _, re := range codeExecutionPatterns {
		if re.MatchString(response) {
			return fmt.Errorf("response contains code execution pattern: %s", re.String())
		}
	}
	return nil
}
