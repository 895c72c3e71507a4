package runner

import (
	"regexp"
	"strings"
)

// FailureKind categorizes a non-zero phase exit from its stderr tail. The
// category feeds both the advisor and the retry policy.
type FailureKind string

const (
	FailureOOM        FailureKind = "oom"
	FailureTimeout    FailureKind = "timeout"
	FailureTruncation FailureKind = "truncation"
	FailureQuality    FailureKind = "quality"
	FailureSchema     FailureKind = "schema"
	FailureIO         FailureKind = "io"
	FailureUnknown    FailureKind = "unknown"
)

// stderrTailBytes is how much of the end of stderr is kept and matched.
const stderrTailBytes = 8 * 1024

var failurePatterns = []struct {
	kind FailureKind
	re   *regexp.Regexp
}{
	{FailureOOM, regexp.MustCompile(`(?i)out of memory|cuda out of memory|oom[- ]?kill|memoryerror|cannot allocate memory`)},
	{FailureTimeout, regexp.MustCompile(`(?i)timed? ?out|deadline exceeded`)},
	{FailureTruncation, regexp.MustCompile(`(?i)truncat|unexpected end of|incomplete (read|write|chunk)`)},
	{FailureQuality, regexp.MustCompile(`(?i)hallucinat|validation tier|quality (check|gate) failed|wer threshold`)},
	{FailureSchema, regexp.MustCompile(`(?i)schema|invalid (json|state)|keyerror|missing required field`)},
	{FailureIO, regexp.MustCompile(`(?i)no such file|file ?not ?found|permission denied|disk (full|quota)|i/o error|broken pipe`)},
}

var fileNotFoundRE = regexp.MustCompile(`(?i)no such file|file ?not ?found`)

// Classify maps a stderr tail to a failure category. First match wins in
// severity order; unmatched output is unknown.
func Classify(stderrTail string) FailureKind {
	for _, p := range failurePatterns {
		if p.re.MatchString(stderrTail) {
			return p.kind
		}
	}
	return FailureUnknown
}

// Retryable reports whether a failure category is worth another attempt.
// Schema failures and missing input files are structural: the retry would
// reproduce them exactly.
func Retryable(kind FailureKind, stderrTail string) bool {
	switch kind {
	case FailureSchema:
		return false
	case FailureIO:
		return !fileNotFoundRE.MatchString(stderrTail)
	default:
		return true
	}
}

// tail returns at most n trailing bytes of s, starting at a line boundary
// where possible.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := s[len(s)-n:]
	if idx := strings.IndexByte(cut, '\n'); idx >= 0 && idx+1 < len(cut) {
		return cut[idx+1:]
	}
	return cut
}
