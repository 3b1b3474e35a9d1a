package grpcserver

import (
	"errors"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/and161185/appstore/internal/errs"
)

// toStatus maps service errors to gRPC statuses. Resource failures are logged and reported generically.
func toStatus(log *zap.Logger, op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errs.IsValidation(err), strings.HasPrefix(err.Error(), "validation:"):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, errs.ErrDuplicateIdentity), errors.Is(err, errs.ErrAlreadyExists):
		return status.Error(codes.AlreadyExists, err.Error())
	case errs.IsConflict(err):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, errs.ErrPermissionDenied):
		return status.Error(codes.PermissionDenied, "permission denied")
	case errors.Is(err, errs.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, "unauthorized")
	case errors.Is(err, errs.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	default:
		log.Error(op, zap.Error(err))
		return status.Error(codes.Internal, op+": internal error")
	}
}
