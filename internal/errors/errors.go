package errors

import (
	stdErrors "errors"
	"fmt"
	"sync"
)

// Code is the unified error code used across the wallet core.
type Code string

// Severity describes how serious an error is for alerting and audit.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Attributes carries the default behaviour for a code.
type Attributes struct {
	Message   string
	Severity  Severity
	Retryable bool
	Alert     bool
	// Halt marks codes that must stop further automated submissions for the
	// affected account until an operator intervenes.
	Halt bool
}

const (
	CodeUnknown                   Code = "UNKNOWN"
	CodeInvalidInput              Code = "INVALID_INPUT"
	CodeReplayOrStale             Code = "REPLAY_OR_STALE"
	CodeUnsupportedEntryPoint     Code = "UNSUPPORTED_ENTRY_POINT"
	CodeUntrustedOrigin           Code = "UNTRUSTED_ORIGIN"
	CodeDestinationNotWhitelisted Code = "DESTINATION_NOT_WHITELISTED"
	CodeUnauthorizedRecoverer     Code = "UNAUTHORIZED_RECOVERER"
	CodeRecoveryNotYetUnlocked    Code = "RECOVERY_NOT_YET_UNLOCKED"
	CodeNoPendingRecovery         Code = "NO_PENDING_RECOVERY"
	CodeConfigurationError        Code = "CONFIGURATION_ERROR"
	CodeUnauthorizedCaller        Code = "UNAUTHORIZED_CALLER"
	CodeRecoveryAlreadyPending    Code = "RECOVERY_ALREADY_PENDING"
	CodeNotFound                  Code = "NOT_FOUND"
	CodeStorageFailure            Code = "STORAGE_FAILURE"
	CodeDeploymentFailure         Code = "DEPLOYMENT_FAILURE"
	CodePublishFailure            Code = "PUBLISH_FAILURE"
)

var (
	registryMu sync.RWMutex
	registry   = map[Code]Attributes{
		CodeUnknown: {
			Message:  "unknown error",
			Severity: SeverityCritical,
			Alert:    true,
		},
		CodeInvalidInput: {
			Message:  "malformed request",
			Severity: SeverityInfo,
		},
		CodeReplayOrStale: {
			Message:  "nonce does not match account state",
			Severity: SeverityInfo,
		},
		CodeUnsupportedEntryPoint: {
			Message:  "method selector is not the relay entry point",
			Severity: SeverityInfo,
		},
		CodeUntrustedOrigin: {
			Message:  "relayer is not the trusted origin",
			Severity: SeverityWarning,
		},
		CodeDestinationNotWhitelisted: {
			Message:  "destination is not whitelisted",
			Severity: SeverityInfo,
		},
		CodeUnauthorizedRecoverer: {
			Message:  "caller is not the configured recoverer",
			Severity: SeverityWarning,
		},
		CodeRecoveryNotYetUnlocked: {
			Message:  "recovery delay has not elapsed",
			Severity: SeverityInfo,
		},
		CodeNoPendingRecovery: {
			Message:  "no pending recovery",
			Severity: SeverityInfo,
		},
		CodeConfigurationError: {
			Message:  "plugin configuration error",
			Severity: SeverityCritical,
			Alert:    true,
			Halt:     true,
		},
		CodeUnauthorizedCaller: {
			Message:  "caller is not an account owner",
			Severity: SeverityWarning,
		},
		CodeRecoveryAlreadyPending: {
			Message:  "a recovery is already pending",
			Severity: SeverityInfo,
		},
		CodeNotFound: {
			Message:  "resource not found",
			Severity: SeverityInfo,
		},
		CodeStorageFailure: {
			Message:   "storage failure",
			Severity:  SeverityCritical,
			Retryable: true,
			Alert:     true,
		},
		CodeDeploymentFailure: {
			Message:   "deployment failure",
			Severity:  SeverityWarning,
			Retryable: true,
			Alert:     true,
		},
		CodePublishFailure: {
			Message:   "event publish failure",
			Severity:  SeverityWarning,
			Retryable: true,
		},
	}
)

// Register lets a package add or override a code description at init time.
func Register(code Code, attr Attributes) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[code] = attr
}

// AttributesOf returns the attributes of code, falling back to UNKNOWN.
func AttributesOf(code Code) Attributes {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}

// Known reports whether code has been registered.
func Known(code Code) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[code]
	return ok
}

// Error is the unified error type.
type Error struct {
	code      Code
	message   string
	cause     error
	metadata  map[string]string
	retryable *bool
	alert     *bool
	halt      *bool
	severity  *Severity
}

// Option customises an Error.
type Option func(*Error)

// WithMetadata attaches a key/value pair.
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithRetryable overrides the default retry flag.
func WithRetryable(retryable bool) Option {
	return func(e *Error) {
		e.retryable = &retryable
	}
}

// WithAlert overrides the default alert flag.
func WithAlert(alert bool) Option {
	return func(e *Error) {
		e.alert = &alert
	}
}

// WithHalt overrides the default halt flag. Request-scoped configuration
// errors use it so that a single caller cannot halt an account.
func WithHalt(halt bool) Option {
	return func(e *Error) {
		e.halt = &halt
	}
}

// WithSeverity overrides the default severity.
func WithSeverity(sev Severity) Option {
	return func(e *Error) {
		e.severity = &sev
	}
}

// New creates an error. An empty message takes the registered default.
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = AttributesOf(code).Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Newf is New with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap creates an error with an underlying cause.
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

// Error implements error.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

// Unwrap implements errors.Unwrap.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is matches on code so that errors.Is(err, New(CodeX, "")) works.
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.code == t.code
}

// Code returns the error code.
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message returns the human readable message.
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Metadata returns a copy of the attached metadata.
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	clone := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		clone[k] = v
	}
	return clone
}

// Retryable reports whether resubmitting the same operation may succeed.
func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	if e.retryable != nil {
		return *e.retryable
	}
	return AttributesOf(e.code).Retryable
}

// ShouldAlert reports whether the error must reach an operator.
func (e *Error) ShouldAlert() bool {
	if e == nil {
		return false
	}
	if e.alert != nil {
		return *e.alert
	}
	return AttributesOf(e.code).Alert
}

// ShouldHalt reports whether the error must halt the affected account.
func (e *Error) ShouldHalt() bool {
	if e == nil {
		return false
	}
	if e.halt != nil {
		return *e.halt
	}
	return AttributesOf(e.code).Halt
}

// Severity returns the error severity.
func (e *Error) Severity() Severity {
	if e == nil {
		return SeverityInfo
	}
	if e.severity != nil {
		return *e.severity
	}
	return AttributesOf(e.code).Severity
}

// From extracts the unified error type from err.
func From(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var target *Error
	if stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf returns the code of err, or UNKNOWN.
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// HasCode reports whether err carries code.
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// RetryableError reports whether any error is retryable.
func RetryableError(err error) bool {
	if e, ok := From(err); ok {
		return e.Retryable()
	}
	return false
}

// ShouldAlert reports whether any error must trigger an alert.
func ShouldAlert(err error) bool {
	if e, ok := From(err); ok {
		return e.ShouldAlert()
	}
	return false
}

// ShouldHalt reports whether err must halt automated submissions.
func ShouldHalt(err error) bool {
	if e, ok := From(err); ok {
		return e.ShouldHalt()
	}
	return false
}

// SeverityOf returns the severity of any error.
func SeverityOf(err error) Severity {
	if e, ok := From(err); ok {
		return e.Severity()
	}
	return AttributesOf(CodeUnknown).Severity
}
