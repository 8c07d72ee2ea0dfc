package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
)

func TestNodeError_IsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("failed to propose: %w", InsufficientReplicas(2, 3))

	assert.True(t, stderrors.Is(err, ErrInsufficientReplicas))
	assert.False(t, stderrors.Is(err, ErrProposalNotFound))
	assert.Equal(t, ErrCodeInsufficientReplicas, GetCode(err))
}

func TestNodeError_Mappings(t *testing.T) {
	tests := []struct {
		name     string
		err      *NodeError
		grpcCode codes.Code
		httpCode int
	}{
		{"proposal not found", ProposalNotFound("p1"), codes.NotFound, http.StatusNotFound},
		{"voter not registered", VoterNotRegistered("v1"), codes.PermissionDenied, http.StatusForbidden},
		{"insufficient replicas", InsufficientReplicas(1, 3), codes.Unavailable, http.StatusServiceUnavailable},
		{"invalid proposal", InvalidProposal("required_votes must be positive"), codes.InvalidArgument, http.StatusBadRequest},
		{"expired", ProposalExpired("p2"), codes.DeadlineExceeded, http.StatusGatewayTimeout},
		{"internal", InternalError("boom", nil), codes.Internal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.grpcCode, tt.err.ToGRPCStatus().Code())
			assert.Equal(t, tt.httpCode, tt.err.HTTPStatus())
		})
	}
}

func TestNodeError_UnwrapAndDetails(t *testing.T) {
	cause := stderrors.New("disk on fire")
	err := InitializationFailure("os", "abc", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "os", err.Details["domain"])
	assert.Contains(t, err.Error(), "disk on fire")
	assert.Equal(t, "INITIALIZATION_FAILURE", err.Code.String())
}

func TestGetCode_PlainErrors(t *testing.T) {
	assert.Equal(t, ErrCodeOK, GetCode(nil))
	assert.Equal(t, ErrCodeInternal, GetCode(stderrors.New("plain")))
	assert.False(t, IsNodeError(stderrors.New("plain")))
}
