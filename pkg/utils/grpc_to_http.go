package utils

import (
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// httpStatusByCode covers every code the backend services return. Aborted is
// a create still in flight under the same idempotency key and
// FailedPrecondition a rejected stock reservation or status change; both are
// conflicts the caller can resolve by retrying or re-reading. DeadlineExceeded
// and Unavailable come from a product or auth call the order service gave up
// on, so they surface as gateway errors rather than 500s.
var httpStatusByCode = map[codes.Code]int{
	codes.NotFound:           http.StatusNotFound,
	codes.InvalidArgument:    http.StatusBadRequest,
	codes.Unauthenticated:    http.StatusUnauthorized,
	codes.PermissionDenied:   http.StatusForbidden,
	codes.AlreadyExists:      http.StatusConflict,
	codes.Aborted:            http.StatusConflict,
	codes.FailedPrecondition: http.StatusConflict,
	codes.ResourceExhausted:  http.StatusTooManyRequests,
	codes.DeadlineExceeded:   http.StatusGatewayTimeout,
	codes.Unavailable:        http.StatusServiceUnavailable,
}

// GRPCStatusToHTTP maps a gRPC client error to the HTTP status the gateway
// answers with. Unknown codes and non-status errors are 500s.
func GRPCStatusToHTTP(err error) int {
	s, ok := status.FromError(err)
	if !ok {
		return http.StatusInternalServerError
	}

	if code, ok := httpStatusByCode[s.Code()]; ok {
		return code
	}

	return http.StatusInternalServerError
}
