package types

import (
	"errors"
	"net/http"
)

// Sentinel errors for the cluster API. Callers classify failures with
// errors.Is; wrap these with fmt.Errorf("...: %w", err) to add context.
var (
	ErrNotFound                      = errors.New("not found")
	ErrConflict                      = errors.New("conflict")
	ErrInvalidArgument               = errors.New("invalid argument")
	ErrInsufficientCapacity          = errors.New("insufficient capacity")
	ErrInsufficientReplicationTarget = errors.New("insufficient replication targets")
	ErrMappingForbidden              = errors.New("mapping forbidden")
	ErrUnauthorized                  = errors.New("unauthorized")
	ErrTokenExpired                  = errors.New("token expired")
	ErrTokenReplay                   = errors.New("token already consumed")
	ErrNoActiveTargets               = errors.New("no active targets")
	ErrTargetIO                      = errors.New("target io failure")
	ErrRebuildStalled                = errors.New("rebuild stalled")
)

// StatusCode maps a cluster error to its HTTP status. Unrecognized
// errors map to 500.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict), errors.Is(err, ErrTokenReplay):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, ErrInsufficientCapacity),
		errors.Is(err, ErrInsufficientReplicationTarget):
		return http.StatusConflict
	case errors.Is(err, ErrMappingForbidden),
		errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrTokenExpired):
		return http.StatusForbidden
	case errors.Is(err, ErrNoActiveTargets):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrTargetIO), errors.Is(err, ErrRebuildStalled):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
