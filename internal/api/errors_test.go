package api

import (
	"errors"
	"testing"

	"github.com/relayctl/relay/internal/storage"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestToStatusTranslatesStorageSentinels(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code codes.Code
	}{
		{"not found", storage.ErrEntityNotFound, codes.NotFound},
		{"exists", storage.ErrEntityExists, codes.AlreadyExists},
		{"precondition", storage.ErrPreconditionFailure, codes.FailedPrecondition},
		{"parse", storage.ErrParse, codes.Internal},
		{"unmapped", errors.New("boom"), codes.Internal},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := toStatus(c.err, "fallback")
			st, ok := status.FromError(err)
			if !ok {
				t.Fatalf("expected a grpc status error, got %v", err)
			}
			if st.Code() != c.code {
				t.Errorf("expected code %s, got %s", c.code, st.Code())
			}
		})
	}
}

func TestToStatusNilIsNil(t *testing.T) {
	if err := toStatus(nil, "fallback"); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestValidateIDRejectsTooShort(t *testing.T) {
	if err := validateID("pipeline", "ab"); err == nil {
		t.Errorf("expected an error for a 2-character id")
	}
}

func TestValidateIDAcceptsValid(t *testing.T) {
	if err := validateID("pipeline", "build_1"); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}
