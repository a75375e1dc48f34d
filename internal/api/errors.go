package api

import (
	"errors"

	"github.com/relayctl/relay/internal/models"
	"github.com/relayctl/relay/internal/storage"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// toStatus translates a storage or kernel error into the gRPC status code
// the spec's RPC surface is contracted to return (§4.4), so handlers never
// have to repeat this mapping themselves.
func toStatus(err error, fallbackMsg string) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, storage.ErrEntityNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, storage.ErrEntityExists):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, storage.ErrPreconditionFailure):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, storage.ErrParse):
		return status.Error(codes.Internal, err.Error())
	default:
		return status.Error(codes.Internal, fallbackMsg)
	}
}

func invalidArgument(msg string) error {
	return status.Error(codes.InvalidArgument, msg)
}

func validateID(kind, id string) error {
	if !models.ValidateID(id) {
		return invalidArgument(kind + " id must be 3-32 characters of [A-Za-z0-9_]")
	}
	return nil
}
