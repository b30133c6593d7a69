package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies gateway failures.
type ErrorKind string

const (
	ErrBadRequest          ErrorKind = "bad_request"
	ErrNoCredentials       ErrorKind = "no_credentials"
	ErrUnknownProvider     ErrorKind = "unknown_provider"
	ErrAuthRefreshFailed   ErrorKind = "auth_refresh_failed"
	ErrUpstreamRejected    ErrorKind = "upstream_rejected"
	ErrUpstreamUnreachable ErrorKind = "upstream_unreachable"
	ErrTimeout             ErrorKind = "timeout"
	ErrSubprocessFailed    ErrorKind = "subprocess_failed"
	ErrProtocolParse       ErrorKind = "protocol_parse_failed"
)

// GatewayError is the typed error surfaced to the HTTP layer.
type GatewayError struct {
	Kind     ErrorKind
	Message  string
	Status   int    // upstream HTTP status, when applicable
	Provider string
	Err      error
}

func (e *GatewayError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Provider, e.Kind, e.Message)
	}

	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// KindOf extracts the error kind, or empty when err is not a GatewayError.
func KindOf(err error) ErrorKind {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Kind
	}

	return ""
}

func NewBadRequest(format string, args ...any) *GatewayError {
	return &GatewayError{Kind: ErrBadRequest, Message: fmt.Sprintf(format, args...)}
}

func NewUnknownProvider(provider string) *GatewayError {
	return &GatewayError{
		Kind:     ErrUnknownProvider,
		Provider: provider,
		Message:  fmt.Sprintf("Unsupported provider: %s", provider),
	}
}

func NewNoCredentials(provider string) *GatewayError {
	return &GatewayError{
		Kind:     ErrNoCredentials,
		Provider: provider,
		Message:  fmt.Sprintf("no credentials configured for provider %q; run login first", provider),
	}
}

func NewAuthRefreshFailed(provider string, err error) *GatewayError {
	return &GatewayError{
		Kind:     ErrAuthRefreshFailed,
		Provider: provider,
		Message:  fmt.Sprintf("token refresh failed: %v", err),
		Err:      err,
	}
}

// excerptLimit bounds how much upstream body is echoed into error messages.
const excerptLimit = 500

// NewUpstreamRejected records a non-2xx upstream response with a truncated
// body excerpt.
func NewUpstreamRejected(provider string, status int, body []byte) *GatewayError {
	excerpt := string(body)
	if len(excerpt) > excerptLimit {
		excerpt = excerpt[:excerptLimit] + "..."
	}

	return &GatewayError{
		Kind:     ErrUpstreamRejected,
		Provider: provider,
		Status:   status,
		Message:  fmt.Sprintf("upstream returned %d: %s", status, excerpt),
	}
}

func NewUpstreamUnreachable(provider string, err error) *GatewayError {
	return &GatewayError{
		Kind:     ErrUpstreamUnreachable,
		Provider: provider,
		Message:  fmt.Sprintf("upstream unreachable: %v", err),
		Err:      err,
	}
}

func NewTimeout(provider string) *GatewayError {
	return &GatewayError{Kind: ErrTimeout, Provider: provider, Message: "upstream call timed out"}
}

func NewSubprocessFailed(code int, stderr string) *GatewayError {
	if len(stderr) > excerptLimit {
		stderr = stderr[:excerptLimit] + "..."
	}

	return &GatewayError{
		Kind:    ErrSubprocessFailed,
		Message: fmt.Sprintf("subprocess exited with code %d: %s", code, stderr),
	}
}
