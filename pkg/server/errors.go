package server

import (
	"context"
	"errors"

	"github.com/pixperk/zlock/pkg/types"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// converts domain errors to gRPC status errors
func toGRPCError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, types.ErrLeaseNotFound), errors.Is(err, types.ErrKeyNotFound):
		return status.Error(codes.NotFound, err.Error())

	case errors.Is(err, types.ErrLeaseExpired):
		return status.Error(codes.FailedPrecondition, err.Error())

	case errors.Is(err, types.ErrInvalidLeaseTTL):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, types.ErrNotLeader):
		return status.Error(codes.Unavailable, err.Error())

	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())

	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// returns a not leader error with the given leader address
// includes the current leader address in the error message
func notLeaderError(leaderAddr string) error {
	return status.Errorf(codes.Unavailable,
		"%s, leader is at : %s", types.ErrNotLeader, leaderAddr)
}
