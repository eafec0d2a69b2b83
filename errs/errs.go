// Package errs provides structured error types and helpers for the trading core.
package errs

import (
	"errors"
	"sort"
	"strconv"
	"strings"
)

// Code identifies a vendor-specific error category.
type Code string

const (
	// CodeRateLimited indicates that the request exceeded rate limits.
	CodeRateLimited Code = "rate_limited"
	// CodeAuth indicates authentication or authorization errors.
	CodeAuth Code = "auth"
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_request"
	// CodeVendor indicates an upstream vendor failure.
	CodeVendor Code = "vendor_error"
	// CodeNetwork indicates a network transport failure.
	CodeNetwork Code = "network"
	// CodeNotFound indicates a missing resource.
	CodeNotFound Code = "not_found"
	// CodeConflict indicates a concurrent mutation conflict.
	CodeConflict Code = "conflict"
	// CodeUnavailable indicates the service is temporarily unavailable.
	CodeUnavailable Code = "unavailable"
)

// CanonicalCode captures vendor-agnostic error categories the data layer acts on.
type CanonicalCode string

const (
	// CanonicalUnknown captures uncategorized failures.
	CanonicalUnknown CanonicalCode = "unknown"
	// CanonicalMissingCredentials indicates the client was built without usable credentials.
	CanonicalMissingCredentials CanonicalCode = "missing_credentials"
	// CanonicalAuthFailed indicates credentials were rejected after the single permitted retry.
	CanonicalAuthFailed CanonicalCode = "auth_failed"
	// CanonicalUnsupportedInterval indicates the vendor cannot serve the requested interval.
	CanonicalUnsupportedInterval CanonicalCode = "unsupported_interval"
	// CanonicalCircuitOpen indicates the vendor breaker is open and the request was not attempted.
	CanonicalCircuitOpen CanonicalCode = "circuit_open"
	// CanonicalStreamingUnsupported indicates the vendor cannot stream bars.
	CanonicalStreamingUnsupported CanonicalCode = "streaming_unsupported"
	// CanonicalThrottled indicates the request was rate limited upstream.
	CanonicalThrottled CanonicalCode = "throttled"
	// CanonicalInvalidSymbol indicates an unsupported or malformed symbol.
	CanonicalInvalidSymbol CanonicalCode = "invalid_symbol"
)

// E captures structured error information produced across the trading core.
type E struct {
	Vendor         string
	Code           Code
	HTTP           int
	RawCode        string
	RawMsg         string
	Message        string
	Canonical      CanonicalCode
	VendorMetadata map[string]string
	Remediation    string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the vendor and error code.
func New(vendor string, code Code, opts ...Option) *E {
	e := &E{
		Vendor:         strings.TrimSpace(vendor),
		Code:           code,
		HTTP:           0,
		RawCode:        "",
		RawMsg:         "",
		Message:        "",
		Canonical:      CanonicalUnknown,
		VendorMetadata: nil,
		Remediation:    "",
		cause:          nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithRemediation attaches remediation guidance to the error.
func WithRemediation(remediation string) Option {
	trimmed := strings.TrimSpace(remediation)
	return func(e *E) {
		e.Remediation = trimmed
	}
}

// WithHTTP records the associated HTTP status code.
func WithHTTP(status int) Option {
	return func(e *E) {
		e.HTTP = status
	}
}

// WithRawCode captures the raw vendor error code.
func WithRawCode(code string) Option {
	trimmed := strings.TrimSpace(code)
	return func(e *E) {
		e.RawCode = trimmed
	}
}

// WithRawMessage captures the raw vendor error message.
func WithRawMessage(msg string) Option {
	return func(e *E) {
		e.RawMsg = msg
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

// WithCanonicalCode sets the canonical error code describing the failure category.
func WithCanonicalCode(code CanonicalCode) Option {
	trimmed := strings.TrimSpace(string(code))
	return func(e *E) {
		if trimmed == "" {
			e.Canonical = CanonicalUnknown
			return
		}
		e.Canonical = CanonicalCode(trimmed)
	}
}

// WithVendorMetadata merges the provided vendor metadata into the error envelope.
func WithVendorMetadata(meta map[string]string) Option {
	return func(e *E) {
		if len(meta) == 0 {
			return
		}
		if e.VendorMetadata == nil {
			e.VendorMetadata = make(map[string]string, len(meta))
		}
		for k, v := range meta {
			key := strings.TrimSpace(k)
			if key == "" {
				continue
			}
			value := strings.TrimSpace(v)
			e.VendorMetadata[key] = value
		}
	}
}

// WithVendorField appends a single vendor metadata key/value pair.
func WithVendorField(key, value string) Option {
	return func(e *E) {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			return
		}
		if e.VendorMetadata == nil {
			e.VendorMetadata = make(map[string]string, 1)
		}
		e.VendorMetadata[trimmedKey] = strings.TrimSpace(value)
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	vendor := strings.TrimSpace(e.Vendor)
	if vendor == "" {
		vendor = "unknown"
	}
	parts = append(parts, "vendor="+vendor)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if cc := strings.TrimSpace(string(e.Canonical)); cc != "" && cc != string(CanonicalUnknown) {
		parts = append(parts, "canonical="+cc)
	}

	if e.HTTP > 0 {
		parts = append(parts, "http="+strconv.Itoa(e.HTTP))
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.Remediation != "" {
		parts = append(parts, "remediation="+strconv.Quote(e.Remediation))
	}
	if e.RawCode != "" {
		parts = append(parts, "raw_code="+strconv.Quote(e.RawCode))
	}
	if e.RawMsg != "" {
		parts = append(parts, "raw_msg="+strconv.Quote(e.RawMsg))
	}
	if len(e.VendorMetadata) > 0 {
		keys := make([]string, 0, len(e.VendorMetadata))
		for k := range e.VendorMetadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			v := e.VendorMetadata[k]
			pairs = append(pairs, k+"="+strconv.Quote(v))
		}
		parts = append(parts, "meta="+strings.Join(pairs, ","))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// As unwraps err into an *E envelope when one is present in the chain.
func As(err error, target **E) bool {
	return errors.As(err, target)
}

// CanonicalOf extracts the canonical code carried by err, or CanonicalUnknown
// when the chain holds no envelope.
func CanonicalOf(err error) CanonicalCode {
	var envelope *E
	if errors.As(err, &envelope) && envelope != nil {
		return envelope.Canonical
	}
	return CanonicalUnknown
}

// NotSupported returns a standardized error for unsupported capabilities.
func NotSupported(msg string) *E {
	return New("", CodeVendor, WithMessage(strings.TrimSpace(msg)), WithCanonicalCode(CanonicalStreamingUnsupported))
}
