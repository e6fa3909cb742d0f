package model

import (
	"errors"
	"net/http"
)

// ErrorKind is the machine-readable error code returned to clients.
type ErrorKind string

const (
	KindAssetNotFound       ErrorKind = "asset_not_found"
	KindAssetForbidden      ErrorKind = "asset_forbidden"
	KindMethodNotAllowed    ErrorKind = "method_not_allowed"
	KindInvalidBody         ErrorKind = "invalid_body"
	KindBodyTooLarge        ErrorKind = "body_too_large"
	KindProxyTimeout        ErrorKind = "proxy_timeout"
	KindProxyUnreachable    ErrorKind = "proxy_unreachable"
	KindProxyBadGateway     ErrorKind = "proxy_bad_gateway"
	KindClientClosed        ErrorKind = "client_closed"
	KindBackpressure        ErrorKind = "backpressure"
	KindRateLimited         ErrorKind = "rate_limited"
	KindUpgradeUnsupported  ErrorKind = "upgrade_unsupported"
	KindSerializationFailed ErrorKind = "body_serialization_mismatch"
	KindInternal            ErrorKind = "internal_error"
)

// Status returns the HTTP status code for the kind.
func (k ErrorKind) Status() int {
	switch k {
	case KindAssetNotFound:
		return http.StatusNotFound
	case KindAssetForbidden:
		return http.StatusForbidden
	case KindMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case KindInvalidBody:
		return http.StatusBadRequest
	case KindBodyTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindProxyTimeout:
		return http.StatusGatewayTimeout
	case KindProxyUnreachable, KindProxyBadGateway, KindClientClosed:
		return http.StatusBadGateway
	case KindBackpressure:
		return http.StatusServiceUnavailable
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUpgradeUnsupported:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified per-request failure. Details is safe to show to
// clients; Err is the underlying cause and is only logged.
type Error struct {
	Kind    ErrorKind
	Details string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Details + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + e.Details
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinel errors by kind, so errors.Is(err, ErrProxyTimeout)
// holds for any *Error of that kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// Sentinels for errors.Is checks.
var (
	ErrAssetNotFound       = &Error{Kind: KindAssetNotFound, Details: "asset not found"}
	ErrAssetForbidden      = &Error{Kind: KindAssetForbidden, Details: "path escapes asset root"}
	ErrMethodNotAllowed    = &Error{Kind: KindMethodNotAllowed, Details: "method not allowed"}
	ErrInvalidBody         = &Error{Kind: KindInvalidBody, Details: "request body is not valid JSON"}
	ErrBodyTooLarge        = &Error{Kind: KindBodyTooLarge, Details: "request body too large"}
	ErrProxyTimeout        = &Error{Kind: KindProxyTimeout, Details: "backend did not respond in time"}
	ErrProxyUnreachable    = &Error{Kind: KindProxyUnreachable, Details: "backend unreachable"}
	ErrProxyBadGateway     = &Error{Kind: KindProxyBadGateway, Details: "backend returned an invalid response"}
	ErrClientClosed        = &Error{Kind: KindClientClosed, Details: "client disconnected"}
	ErrBackpressure        = &Error{Kind: KindBackpressure, Details: "too many concurrent backend requests"}
	ErrRateLimited         = &Error{Kind: KindRateLimited, Details: "rate limit exceeded"}
	ErrUpgradeUnsupported  = &Error{Kind: KindUpgradeUnsupported, Details: "protocol upgrade not supported"}
	ErrSerializationFailed = &Error{Kind: KindSerializationFailed, Details: "forwarded body length did not match Content-Length"}
)

// Wrap returns a copy of the sentinel carrying cause.
func Wrap(sentinel *Error, cause error) *Error {
	return &Error{Kind: sentinel.Kind, Details: sentinel.Details, Err: cause}
}

// ErrorBody is the JSON error response shape.
type ErrorBody struct {
	Error   ErrorKind `json:"error"`
	Details string    `json:"details"`
}

// AsError classifies err, falling back to an internal error.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindInternal, Details: "internal error", Err: err}
}
