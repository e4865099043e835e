package acquire

import (
	"strings"

	"github.com/sells-group/breakdown-cli/internal/model"
)

var (
	dnsPatterns = []string{
		"nodename nor servname provided",
		"name or service not known",
		"temporary failure in name resolution",
		"failed to resolve",
		"no such host",
	}
	authStalePatterns = []string{
		"fresh cookies",
		"cookies are needed",
		"login required",
	}
)

// Classify maps a failed attempt log to an error code. It is a pure
// function of the attempts; the first matching rule wins.
func Classify(attempts []model.AdapterAttempt) model.ErrorCode {
	parts := make([]string, 0, len(attempts))
	for _, a := range attempts {
		if a.ToolMissing {
			return model.ErrToolMissing
		}
		parts = append(parts, a.StderrTail)
	}
	stderr := strings.ToLower(strings.Join(parts, "\n"))

	switch {
	case containsAny(stderr, dnsPatterns):
		return model.ErrNetworkDNS
	case strings.Contains(stderr, "cookies.binarycookies"),
		strings.Contains(stderr, "operation not permitted") && strings.Contains(stderr, "cookie"):
		return model.ErrCookiePermission
	case containsAny(stderr, authStalePatterns):
		return model.ErrAuthStale
	case strings.Contains(stderr, "http error 403"), strings.Contains(stderr, "forbidden"):
		return model.ErrAccessDenied
	case strings.Contains(stderr, "404"):
		return model.ErrContentNotFound
	default:
		return model.ErrUnknownDownloadFailure
	}
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
