package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorCode represents internal error codes for consensus and orchestration operations
type ErrorCode int

const (
	// Success
	ErrCodeOK ErrorCode = 0

	// Client errors (4xx equivalent)
	ErrCodeInvalidArgument    ErrorCode = 1000
	ErrCodeProposalNotFound   ErrorCode = 1001
	ErrCodeVoterNotRegistered ErrorCode = 1002
	ErrCodeInvalidProposal    ErrorCode = 1003
	ErrCodeInvalidVote        ErrorCode = 1004
	ErrCodeProposalExists     ErrorCode = 1005
	ErrCodeDomainNotFound     ErrorCode = 1006
	ErrCodeReplicaNotFound    ErrorCode = 1007
	ErrCodeUnsupportedCommand ErrorCode = 1008

	// Server errors (5xx equivalent)
	ErrCodeInternal              ErrorCode = 2000
	ErrCodeUnavailable           ErrorCode = 2001
	ErrCodeInsufficientReplicas  ErrorCode = 2002
	ErrCodeInitializationFailure ErrorCode = 2003
	ErrCodeHealthCheckFailure    ErrorCode = 2004
	ErrCodeProposalExpired       ErrorCode = 2005
	ErrCodeTransportFailure      ErrorCode = 2006
	ErrCodeDomainAlreadyStarted  ErrorCode = 2007
	ErrCodeShuttingDown          ErrorCode = 2008
	ErrCodeStoreFailure          ErrorCode = 2009
)

var codeNames = map[ErrorCode]string{
	ErrCodeOK:                    "OK",
	ErrCodeInvalidArgument:       "INVALID_ARGUMENT",
	ErrCodeProposalNotFound:      "PROPOSAL_NOT_FOUND",
	ErrCodeVoterNotRegistered:    "VOTER_NOT_REGISTERED",
	ErrCodeInvalidProposal:       "INVALID_PROPOSAL",
	ErrCodeInvalidVote:           "INVALID_VOTE",
	ErrCodeProposalExists:        "PROPOSAL_EXISTS",
	ErrCodeDomainNotFound:        "DOMAIN_NOT_FOUND",
	ErrCodeReplicaNotFound:       "REPLICA_NOT_FOUND",
	ErrCodeUnsupportedCommand:    "UNSUPPORTED_COMMAND",
	ErrCodeInternal:              "INTERNAL_ERROR",
	ErrCodeUnavailable:           "SERVICE_UNAVAILABLE",
	ErrCodeInsufficientReplicas:  "INSUFFICIENT_REPLICAS",
	ErrCodeInitializationFailure: "INITIALIZATION_FAILURE",
	ErrCodeHealthCheckFailure:    "HEALTH_CHECK_FAILURE",
	ErrCodeProposalExpired:       "PROPOSAL_EXPIRED",
	ErrCodeTransportFailure:      "TRANSPORT_FAILURE",
	ErrCodeDomainAlreadyStarted:  "DOMAIN_ALREADY_STARTED",
	ErrCodeShuttingDown:          "SHUTTING_DOWN",
	ErrCodeStoreFailure:          "STORE_FAILURE",
}

// String returns the wire name of the code
func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ERROR_%d", int(c))
}

// Sentinels for errors.Is comparisons. Matching is by code only.
var (
	ErrInvalidArgument       = &NodeError{Code: ErrCodeInvalidArgument, Message: "invalid argument"}
	ErrProposalNotFound      = &NodeError{Code: ErrCodeProposalNotFound, Message: "proposal not found"}
	ErrVoterNotRegistered    = &NodeError{Code: ErrCodeVoterNotRegistered, Message: "voter not registered"}
	ErrInvalidProposal       = &NodeError{Code: ErrCodeInvalidProposal, Message: "invalid proposal"}
	ErrInvalidVote           = &NodeError{Code: ErrCodeInvalidVote, Message: "invalid vote"}
	ErrProposalExists        = &NodeError{Code: ErrCodeProposalExists, Message: "proposal already active"}
	ErrDomainNotFound        = &NodeError{Code: ErrCodeDomainNotFound, Message: "domain not found"}
	ErrReplicaNotFound       = &NodeError{Code: ErrCodeReplicaNotFound, Message: "replica not found"}
	ErrUnsupportedCommand    = &NodeError{Code: ErrCodeUnsupportedCommand, Message: "unsupported command"}
	ErrInsufficientReplicas  = &NodeError{Code: ErrCodeInsufficientReplicas, Message: "insufficient healthy replicas"}
	ErrInitializationFailure = &NodeError{Code: ErrCodeInitializationFailure, Message: "initialization failure"}
	ErrHealthCheckFailure    = &NodeError{Code: ErrCodeHealthCheckFailure, Message: "health check failure"}
	ErrProposalExpired       = &NodeError{Code: ErrCodeProposalExpired, Message: "proposal expired"}
	ErrDomainAlreadyStarted  = &NodeError{Code: ErrCodeDomainAlreadyStarted, Message: "domain already started"}
	ErrShuttingDown          = &NodeError{Code: ErrCodeShuttingDown, Message: "shutting down"}
)

// NodeError represents a structured error with code and context
type NodeError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *NodeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *NodeError) Unwrap() error {
	return e.Cause
}

// Is matches another NodeError carrying the same code
func (e *NodeError) Is(target error) bool {
	t, ok := target.(*NodeError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// ToGRPCStatus converts NodeError to gRPC status
func (e *NodeError) ToGRPCStatus() *status.Status {
	return status.New(e.toGRPCCode(), e.Error())
}

func (e *NodeError) toGRPCCode() codes.Code {
	switch e.Code {
	case ErrCodeOK:
		return codes.OK
	case ErrCodeInvalidArgument, ErrCodeInvalidProposal, ErrCodeInvalidVote:
		return codes.InvalidArgument
	case ErrCodeProposalNotFound, ErrCodeDomainNotFound, ErrCodeReplicaNotFound:
		return codes.NotFound
	case ErrCodeVoterNotRegistered:
		return codes.PermissionDenied
	case ErrCodeProposalExists, ErrCodeDomainAlreadyStarted:
		return codes.AlreadyExists
	case ErrCodeUnsupportedCommand:
		return codes.Unimplemented
	case ErrCodeInsufficientReplicas, ErrCodeUnavailable, ErrCodeShuttingDown, ErrCodeTransportFailure:
		return codes.Unavailable
	case ErrCodeProposalExpired:
		return codes.DeadlineExceeded
	default:
		return codes.Internal
	}
}

// HTTPStatus maps the error code to an HTTP status for the admin API
func (e *NodeError) HTTPStatus() int {
	switch e.Code {
	case ErrCodeOK:
		return http.StatusOK
	case ErrCodeInvalidArgument, ErrCodeInvalidProposal, ErrCodeInvalidVote:
		return http.StatusBadRequest
	case ErrCodeProposalNotFound, ErrCodeDomainNotFound, ErrCodeReplicaNotFound:
		return http.StatusNotFound
	case ErrCodeVoterNotRegistered:
		return http.StatusForbidden
	case ErrCodeProposalExists, ErrCodeDomainAlreadyStarted:
		return http.StatusConflict
	case ErrCodeUnsupportedCommand:
		return http.StatusNotImplemented
	case ErrCodeInsufficientReplicas, ErrCodeUnavailable, ErrCodeShuttingDown, ErrCodeTransportFailure:
		return http.StatusServiceUnavailable
	case ErrCodeProposalExpired:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// NewNodeError creates a new NodeError
func NewNodeError(code ErrorCode, message string, cause error) *NodeError {
	return &NodeError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *NodeError) WithDetail(key string, value interface{}) *NodeError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Convenience constructors for common errors

func InvalidArgument(message string, cause error) *NodeError {
	return NewNodeError(ErrCodeInvalidArgument, message, cause)
}

func ProposalNotFound(proposalID string) *NodeError {
	return NewNodeError(ErrCodeProposalNotFound, fmt.Sprintf("proposal not found: %s", proposalID), nil).
		WithDetail("proposal_id", proposalID)
}

func VoterNotRegistered(voterID string) *NodeError {
	return NewNodeError(ErrCodeVoterNotRegistered, fmt.Sprintf("voter not registered: %s", voterID), nil).
		WithDetail("voter_id", voterID)
}

func InvalidProposal(reason string) *NodeError {
	return NewNodeError(ErrCodeInvalidProposal, fmt.Sprintf("invalid proposal: %s", reason), nil).
		WithDetail("reason", reason)
}

func InvalidVote(reason string) *NodeError {
	return NewNodeError(ErrCodeInvalidVote, fmt.Sprintf("invalid vote: %s", reason), nil).
		WithDetail("reason", reason)
}

func ProposalExists(proposalID string) *NodeError {
	return NewNodeError(ErrCodeProposalExists, fmt.Sprintf("proposal already active: %s", proposalID), nil).
		WithDetail("proposal_id", proposalID)
}

func DomainNotFound(domain string) *NodeError {
	return NewNodeError(ErrCodeDomainNotFound, fmt.Sprintf("domain not found: %s", domain), nil).
		WithDetail("domain", domain)
}

func ReplicaNotFound(domain string, index int) *NodeError {
	return NewNodeError(ErrCodeReplicaNotFound, fmt.Sprintf("replica %d not found in domain %s", index, domain), nil).
		WithDetail("domain", domain).
		WithDetail("index", index)
}

func UnsupportedCommand(domain, command string) *NodeError {
	return NewNodeError(ErrCodeUnsupportedCommand, fmt.Sprintf("command '%s' not supported by %s core", command, domain), nil).
		WithDetail("domain", domain).
		WithDetail("command", command)
}

func InsufficientReplicas(healthy, required int) *NodeError {
	return NewNodeError(ErrCodeInsufficientReplicas, fmt.Sprintf("insufficient healthy replicas: %d healthy, %d required", healthy, required), nil).
		WithDetail("healthy", healthy).
		WithDetail("required", required)
}

func InitializationFailure(domain, instanceID string, cause error) *NodeError {
	return NewNodeError(ErrCodeInitializationFailure, fmt.Sprintf("failed to initialize %s replica %s", domain, instanceID), cause).
		WithDetail("domain", domain).
		WithDetail("instance_id", instanceID)
}

func HealthCheckFailure(replicaID string, cause error) *NodeError {
	return NewNodeError(ErrCodeHealthCheckFailure, fmt.Sprintf("health check failed for replica %s", replicaID), cause).
		WithDetail("replica_id", replicaID)
}

func ProposalExpired(proposalID string) *NodeError {
	return NewNodeError(ErrCodeProposalExpired, fmt.Sprintf("proposal expired without quorum: %s", proposalID), nil).
		WithDetail("proposal_id", proposalID)
}

func TransportFailure(topic string, cause error) *NodeError {
	return NewNodeError(ErrCodeTransportFailure, fmt.Sprintf("transport failure on topic %s", topic), cause).
		WithDetail("topic", topic)
}

func DomainAlreadyStarted(domain string) *NodeError {
	return NewNodeError(ErrCodeDomainAlreadyStarted, fmt.Sprintf("domain already started: %s", domain), nil).
		WithDetail("domain", domain)
}

func ShuttingDown(message string) *NodeError {
	return NewNodeError(ErrCodeShuttingDown, message, nil)
}

func StoreFailure(message string, cause error) *NodeError {
	return NewNodeError(ErrCodeStoreFailure, message, cause)
}

func InternalError(message string, cause error) *NodeError {
	return NewNodeError(ErrCodeInternal, message, cause)
}

func Unavailable(message string, cause error) *NodeError {
	return NewNodeError(ErrCodeUnavailable, message, cause)
}

// AsNodeError extracts a NodeError anywhere in the chain
func AsNodeError(err error) (*NodeError, bool) {
	var ne *NodeError
	if stderrors.As(err, &ne) {
		return ne, true
	}
	return nil, false
}

// IsNodeError checks if an error is a NodeError
func IsNodeError(err error) bool {
	_, ok := AsNodeError(err)
	return ok
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	if ne, ok := AsNodeError(err); ok {
		return ne.Code
	}
	return ErrCodeInternal
}
