package bbdl

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Sentinel errors matched by the typed errors below via errors.Is.
var (
	ErrConnection = errors.New("bbdl: connection error")
	ErrTimeout    = errors.New("bbdl: timeout")
	ErrParse      = errors.New("bbdl: parse error")
	ErrValidation = errors.New("bbdl: validation error")
)

// ConnectionError reports a failure talking to the Data License server,
// with the operation that failed and the underlying transport error.
type ConnectionError struct {
	// Host is the server the client was talking to.
	Host string

	// Op is the transport operation (e.g., "dial", "upload", "download").
	Op string

	// Err is the underlying error from the transport library.
	Err error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("bbdl: %s %s: %v", e.Op, e.Host, e.Err)
}

// Unwrap returns the underlying transport error.
func (e *ConnectionError) Unwrap() error { return e.Err }

// Is reports whether target is ErrConnection.
func (e *ConnectionError) Is(target error) bool { return target == ErrConnection }

// TimeoutError is returned when Bloomberg does not produce a reply file
// within the configured wait time.
type TimeoutError struct {
	// File is the reply file name the client was waiting for.
	File string

	// Waited is how long the client polled before giving up.
	Waited time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("bbdl: timeout waiting for reply file %s after %s", e.File, e.Waited)
}

// Is reports whether target is ErrTimeout.
func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// ParseError reports a malformed request or reply file.
type ParseError struct {
	// Line is the 1-based line number where parsing failed (0 if unknown).
	Line int

	// Text is the offending line, if any.
	Text string

	// Reason describes what was expected.
	Reason string
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("bbdl: parse error at line %d (%q): %s", e.Line, e.Text, e.Reason)
	}
	return "bbdl: parse error: " + e.Reason
}

// Is reports whether target is ErrParse.
func (e *ParseError) Is(target error) bool { return target == ErrParse }

// ValidationError reports invalid settings or request inputs.
type ValidationError struct {
	// Field names the setting or argument that failed validation.
	Field string

	// Reason describes the problem.
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("bbdl: invalid %s: %s", e.Field, e.Reason)
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ReturnCode is the per-security status Bloomberg writes in the second
// column of every reply row. Zero means success.
type ReturnCode int

// RCOK is the return code of a successfully resolved security.
const RCOK ReturnCode = 0

var returnCodeMessages = map[ReturnCode]string{
	-14: "Field is not recognized or supported by the gethistory program.",
	-13: "Field, security, and date range combination is not applicable.",
	-12: "Field is not available.",
	-10: "Start date > End date.",
	9:   "Asset class not supported for BVAL Tier1 pricing.",
	10:  "Bloomberg cannot find the security as specified.",
	11:  "Restricted Security.",
	123: "User not authorized for private loan (PRPL).",
	605: "Invalid macro value.",
	988: "System Error on security level.",
	989: "Unrecognized pricing source.",
	990: "System Error. Contact Product Support and Technical Assistance.",
	991: "Invalid override value (e.g., bad date or number) or Maximum number of overrides (20) exceeded.",
	992: "Unknown override field.",
	993: "Maximum number of overrides exceeded",
	994: "Permission denied.",
	995: "Maximum number of fields exceeded.",
	996: "Maximum number of data points exceeded (some data for this security is missing).",
	997: "General override error (e.g., formatting error).",
	998: "Security identifier type (e.g., CUSIP) is not recognized.",
	999: "Unloadable security",
}

// Message returns Bloomberg's documented description of the code, or an
// empty string for undocumented codes.
func (rc ReturnCode) Message() string {
	return returnCodeMessages[rc]
}

// String implements fmt.Stringer.
func (rc ReturnCode) String() string {
	return strconv.Itoa(int(rc))
}

// SecurityError is a reply row Bloomberg could not resolve. These are data,
// not Go errors: they are collected in Result.Errors.
type SecurityError struct {
	Identifier string
	ReturnCode ReturnCode
	NFields    int
	// Date is set for history replies only.
	Date time.Time
	// Message is ReturnCode.Message(), empty for undocumented codes.
	Message string
}

// Error implements the error interface so a SecurityError can be
// returned or wrapped by callers that want to treat it as one.
func (e SecurityError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("bloomberg error %d: %s", e.ReturnCode, e.Identifier)
	}
	return fmt.Sprintf("bloomberg error %d (%s): %s", e.ReturnCode, e.Message, e.Identifier)
}
