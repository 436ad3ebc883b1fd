package domain

// Identifier is the opaque token naming one remote post. It is embedded
// verbatim into URL and selector templates.
type Identifier string

// ErrorCode classifies the outcome of a render job.
type ErrorCode string

const (
	CodeOK               ErrorCode = "ok"
	CodeBackendNotReady  ErrorCode = "backend_not_ready"
	CodeNavigation       ErrorCode = "navigation"
	CodeWaitTimeout      ErrorCode = "wait_timeout"
	CodeNotFound         ErrorCode = "not_found"
	CodeScript           ErrorCode = "script"
	CodeCapture          ErrorCode = "capture"
	CodeDeadlineExceeded ErrorCode = "deadline_exceeded"
	CodeQueueFull        ErrorCode = "queue_full"
	CodeShuttingDown     ErrorCode = "shutting_down"
	CodeInternal         ErrorCode = "internal"
)

// Retryable reports whether a caller may reasonably retry after this code.
// A missing post is permanent; everything transient is retryable.
func Retryable(code ErrorCode) bool {
	switch code {
	case CodeOK, CodeNotFound:
		return false
	default:
		return true
	}
}

// Result is the outcome of one render job. Image is non-empty iff Code is CodeOK.
type Result struct {
	Image   []byte
	Code    ErrorCode
	Message string
}

// OK reports whether the result carries an image.
func (r Result) OK() bool {
	return r.Code == CodeOK && len(r.Image) > 0
}

// Success builds a successful result.
func Success(image []byte) Result {
	return Result{Image: image, Code: CodeOK}
}

// Failure builds an empty result classified from err.
func Failure(err error) Result {
	res := Result{Image: []byte{}, Code: Classify(err)}
	if err != nil {
		res.Message = err.Error()
	}
	return res
}
