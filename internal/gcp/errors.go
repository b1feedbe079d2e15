package gcp

import (
	"errors"
	"net/http"

	"github.com/Lllllllleong/documentingestion/internal/pipeline"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var grpcToHTTP = map[codes.Code]int{
	codes.Unauthenticated:   http.StatusUnauthorized,
	codes.PermissionDenied:  http.StatusForbidden,
	codes.ResourceExhausted: http.StatusTooManyRequests,
	codes.Unavailable:       http.StatusServiceUnavailable,
	codes.DeadlineExceeded:  http.StatusGatewayTimeout,
	codes.Internal:          http.StatusInternalServerError,
	codes.Unknown:           http.StatusInternalServerError,
	codes.Aborted:           http.StatusConflict,
	codes.InvalidArgument:   http.StatusBadRequest,
	codes.NotFound:          http.StatusNotFound,
}

// ClassifyVertexError converts gRPC and googleapi failures into *pipeline.StatusError so
// the executor can classify them by status code. Other errors are returned unchanged.
func ClassifyVertexError(err error) error {
	if err == nil {
		return nil
	}
	var se *pipeline.StatusError
	if errors.As(err, &se) {
		return err
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return &pipeline.StatusError{StatusCode: gerr.Code, Message: gerr.Message, Err: err}
	}
	if s, ok := status.FromError(err); ok {
		if code, known := grpcToHTTP[s.Code()]; known {
			return &pipeline.StatusError{StatusCode: code, Message: s.Message(), Err: err}
		}
	}
	return err
}
