package message

import "fmt"

// ErrorCode is the machine-readable reason stored with a rejected message.
type ErrorCode string

const (
	ErrCodeInvalidFormat           ErrorCode = "INVALID_FORMAT"
	ErrCodeContentHashMismatch     ErrorCode = "CONTENT_HASH_MISMATCH"
	ErrCodeInvalidSignature        ErrorCode = "INVALID_SIGNATURE"
	ErrCodeContentValidationFailed ErrorCode = "CONTENT_VALIDATION_FAILED"
	ErrCodeContentUnavailable      ErrorCode = "CONTENT_UNAVAILABLE"
	ErrCodeVMVolumeNotFound        ErrorCode = "VM_VOLUME_NOT_FOUND"
	ErrCodePermissionDenied        ErrorCode = "PERMISSION_DENIED"
	ErrCodeRetriesExceeded         ErrorCode = "EXCEEDED_AMT_OF_RETRIES"
)

// Rejection is a permanent refusal of a message. It implements error so
// handlers can return it through regular error paths; the pipeline unwraps it
// into a rejected_messages row.
type Rejection struct {
	Code    ErrorCode
	Reason  string
	Details map[string]interface{}
}

func (r *Rejection) Error() string {
	if r.Reason == "" {
		return string(r.Code)
	}
	return fmt.Sprintf("%s: %s", r.Code, r.Reason)
}

// Reject builds a Rejection with a formatted reason.
func Reject(code ErrorCode, format string, args ...interface{}) *Rejection {
	return &Rejection{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// RejectWithDetails builds a Rejection carrying structured details, for codes
// like VM_VOLUME_NOT_FOUND that report the offending refs.
func RejectWithDetails(code ErrorCode, reason string, details map[string]interface{}) *Rejection {
	return &Rejection{Code: code, Reason: reason, Details: details}
}

// DetailMap returns the structured details to persist with the rejection,
// deriving the usual {"errors": [reason]} shape when none were attached.
func (r *Rejection) DetailMap() map[string]interface{} {
	if r.Details != nil {
		return r.Details
	}
	if r.Reason == "" {
		return nil
	}
	return map[string]interface{}{"errors": []string{r.Reason}}
}
