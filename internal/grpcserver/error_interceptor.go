package grpcserver

import (
	"context"
	"errors"
	"net/http"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/park285/deck-orchestrator-go/internal/apperr"
	"github.com/park285/deck-orchestrator-go/internal/httperror"
)

func errorMapperInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		resp, err := handler(ctx, req)
		if err == nil {
			return resp, nil
		}

		// status.Error(...)를 이미 반환한 경우, 중복 매핑으로 code/message가 변형되는 것 방지함.
		if _, ok := status.FromError(err); ok {
			return resp, err
		}

		return resp, statusFromError(err)
	}
}

func statusFromError(err error) error {
	if err == nil {
		return nil
	}

	if kind, ok := apperr.KindOf(err); ok {
		apiErr := httperror.FromError(err)
		switch kind {
		case apperr.KindRateLimitExceeded:
			return status.Error(codes.ResourceExhausted, apiErr.Message)
		case apperr.KindUpstreamUnavailable, apperr.KindUnparseable:
			return status.Error(codes.Unavailable, apiErr.Message)
		case apperr.KindTimeout:
			return status.Error(codes.DeadlineExceeded, apiErr.Message)
		case apperr.KindStructuralInvalid:
			return status.Error(codes.FailedPrecondition, apiErr.Message)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return status.Error(codes.DeadlineExceeded, "generation request timed out")
	}
	if errors.Is(err, context.Canceled) {
		return status.Error(codes.Canceled, "request canceled")
	}

	apiErr := httperror.FromError(err)
	switch apiErr.Status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return status.Error(codes.InvalidArgument, apiErr.Message)
	case http.StatusUnauthorized:
		return status.Error(codes.Unauthenticated, apiErr.Message)
	case http.StatusNotFound:
		return status.Error(codes.NotFound, apiErr.Message)
	case http.StatusTooManyRequests:
		return status.Error(codes.ResourceExhausted, apiErr.Message)
	case http.StatusServiceUnavailable:
		return status.Error(codes.Unavailable, apiErr.Message)
	case http.StatusGatewayTimeout:
		return status.Error(codes.DeadlineExceeded, apiErr.Message)
	default:
		return status.Error(codes.Internal, apiErr.Message)
	}
}
