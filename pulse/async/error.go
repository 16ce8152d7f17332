package async

import (
	"context"
	"os"
	"strings"

	"github.com/teranos/scribe/errors"
)

// Stages a job failure can be attributed to.
const (
	StageSource = "source"
	StageFetch  = "fetch"
	StageEngine = "engine"
)

// ErrorCode represents the classification of an error
type ErrorCode string

const (
	ErrorCodeSourceMissing ErrorCode = "source_missing"
	ErrorCodeFetchFailed   ErrorCode = "fetch_failed"
	ErrorCodeEngineFailed  ErrorCode = "engine_failed"
	ErrorCodeCanceled      ErrorCode = "canceled"
	ErrorCodeUnknown       ErrorCode = "unknown"
)

// ErrorContext provides structured error information for job failures
type ErrorContext struct {
	Stage   string    // Where the error occurred
	Code    ErrorCode // Error classification
	Message string    // Human-readable message
}

// ClassifyError categorizes a job failure by stage and cause. The code is
// logged next to the failure; the job itself only stores the message.
func ClassifyError(stage string, err error) ErrorContext {
	if err == nil {
		return ErrorContext{Stage: stage, Code: ErrorCodeUnknown, Message: "unknown error"}
	}

	ctx := ErrorContext{Stage: stage, Message: err.Error()}
	lower := strings.ToLower(ctx.Message)

	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
		strings.Contains(lower, "context canceled"):
		ctx.Code = ErrorCodeCanceled
	case stage == StageSource || errors.Is(err, os.ErrNotExist):
		ctx.Code = ErrorCodeSourceMissing
	case stage == StageFetch:
		ctx.Code = ErrorCodeFetchFailed
	case stage == StageEngine:
		ctx.Code = ErrorCodeEngineFailed
	default:
		ctx.Code = ErrorCodeUnknown
	}
	return ctx
}
