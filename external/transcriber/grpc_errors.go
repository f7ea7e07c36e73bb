package transcriber

import (
	"context"
	"errors"
	"strings"

	"github.com/broadcomms/brainstormx-transcribe/internal/transcriber"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var grpcCodeTable = map[codes.Code]transcriber.Code{
	codes.Unauthenticated:    transcriber.CodeInvalidCredentials,
	codes.PermissionDenied:   transcriber.CodeAccessDenied,
	codes.FailedPrecondition: transcriber.CodeSubscriptionRequired,
	codes.ResourceExhausted:  transcriber.CodeThrottled,
	codes.OutOfRange:         transcriber.CodeLimitExceeded,
	codes.Unavailable:        transcriber.CodeNetwork,
	codes.DeadlineExceeded:   transcriber.CodeNetwork,
}

// classify maps a cloud error onto the taxonomy. fallback is used for
// status codes outside the table.
func classify(err error, message string, fallback transcriber.Code) *transcriber.Error {
	if err == nil {
		return nil
	}
	var typed *transcriber.Error
	if errors.As(err, &typed) {
		return typed
	}
	if st, ok := status.FromError(err); ok {
		if code, ok := grpcCodeTable[st.Code()]; ok {
			return transcriber.Wrap(code, message, err)
		}
		return transcriber.Wrap(fallback, message, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return transcriber.Wrap(transcriber.CodeNetwork, message, err)
	}
	return transcriber.Wrap(fallback, message, err)
}

// isReconnectableStreamError reports whether the server ended the stream
// because of its own duration limits rather than a fault. A bare io.EOF
// does not qualify; the caller must resolve it to the stream's status first.
func isReconnectableStreamError(err error) bool {
	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.Aborted {
		return false
	}
	msg := strings.ToLower(st.Message())
	return strings.Contains(msg, "max duration of 5 minutes") ||
		strings.Contains(msg, "stream timed out after receiving no more client requests")
}
