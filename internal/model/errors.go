package model

import "time"

// ErrorCode is the stable identifier of a stage-level failure.
type ErrorCode string

const (
	ErrUnsupportedPlatform         ErrorCode = "UnsupportedPlatform"
	ErrToolMissing                 ErrorCode = "ToolMissing"
	ErrNetworkDNS                  ErrorCode = "NetworkDNS"
	ErrCookiePermission            ErrorCode = "CookiePermission"
	ErrAuthStale                   ErrorCode = "AuthStale"
	ErrAccessDenied                ErrorCode = "AccessDenied"
	ErrContentNotFound             ErrorCode = "ContentNotFound"
	ErrUnknownDownloadFailure      ErrorCode = "UnknownDownloadFailure"
	ErrUpstreamStageFailed         ErrorCode = "UpstreamStageFailed"
	ErrInteractiveInputUnavailable ErrorCode = "InteractiveInputUnavailable"
	ErrInvalidCookieFile           ErrorCode = "InvalidCookieFile"
	ErrPipelineFailed              ErrorCode = "PipelineFailed"
)

type remediation struct {
	reason     string
	nextAction string
}

var remediations = map[ErrorCode]remediation{
	ErrUnsupportedPlatform: {
		"only douyin, xiaohongshu and wechat official-account links are supported",
		"provide a douyin.com / xiaohongshu.com / xhslink.com / mp.weixin.qq.com link",
	},
	ErrToolMissing: {
		"yt-dlp is not installed",
		"install yt-dlp (python3 -m pip install --user yt-dlp) and make sure it is on PATH",
	},
	ErrNetworkDNS: {
		"the platform domain could not be resolved",
		"check network and DNS settings, then retry from a connected terminal or through a proxy",
	},
	ErrCookiePermission: {
		"browser cookies could not be read due to missing permissions",
		"use a Chrome login session or pass an exported cookies file with --cookies",
	},
	ErrAuthStale: {
		"the platform requires a fresh login session",
		"open the post in a logged-in browser, then retry; provide a cookies file if it persists",
	},
	ErrAccessDenied: {
		"access was denied (HTTP 403)",
		"refresh the login session and retry, or confirm the post is not private",
	},
	ErrContentNotFound: {
		"the content does not exist or was removed",
		"check that the link is valid and the post is still online",
	},
	ErrUnknownDownloadFailure: {
		"download failed or produced no analysable media",
		"check the link, the login state, and that yt-dlp or a platform downloader is installed",
	},
	ErrUpstreamStageFailed: {
		"an upstream stage reported failure",
		"fix the failing upstream stage first, then re-run this stage",
	},
	ErrInteractiveInputUnavailable: {
		"interactive terminal input is not available",
		"run with --non-interactive or from an interactive terminal",
	},
	ErrInvalidCookieFile: {
		"the cookies file does not exist",
		"check the cookies file path and run again",
	},
	ErrPipelineFailed: {
		"a pipeline step failed",
		"inspect run_meta.json and the step stderr, fix the cause and retry",
	},
}

// Reason returns the fixed human-readable reason for the code.
func (c ErrorCode) Reason() string {
	return remediations[c].reason
}

// NextAction returns the fixed remediation for the code.
func (c ErrorCode) NextAction() string {
	return remediations[c].nextAction
}

// StructuredError is the only error representation that crosses a stage
// boundary. It never carries stack traces.
type StructuredError struct {
	Code       ErrorCode      `json:"code"`
	Reason     string         `json:"reason"`
	NextAction string         `json:"next_action"`
	Timestamp  string         `json:"timestamp"`
	Extra      map[string]any `json:"extra,omitempty"`
}

// NewStructuredError builds an error with the code's fixed reason and
// remediation. A non-empty reason overrides the default.
func NewStructuredError(code ErrorCode, reason string, extra map[string]any) *StructuredError {
	if reason == "" {
		reason = code.Reason()
	}
	return &StructuredError{
		Code:       code,
		Reason:     reason,
		NextAction: code.NextAction(),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Extra:      extra,
	}
}

// Error implements the error interface so a StructuredError can be logged.
func (e *StructuredError) Error() string {
	return string(e.Code) + ": " + e.Reason
}

// Failure is the terminal document written by a stage that could not
// produce its normal output.
type Failure struct {
	OK    bool             `json:"ok"`
	Error *StructuredError `json:"error"`
}

// NewFailure wraps err as a stage failure document.
func NewFailure(err *StructuredError) Failure {
	return Failure{OK: false, Error: err}
}
