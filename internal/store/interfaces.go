// Package store archives resolved consensus results.
package store

import (
	"context"
	"time"

	"github.com/Alfredo-rv/SAAI/internal/model"
)

// ResultStore persists consensus results for later inspection
type ResultStore interface {
	Save(ctx context.Context, result *model.ConsensusResult) error
	List(ctx context.Context, filter ResultFilter) ([]*model.ConsensusResult, error)
	Ping(ctx context.Context) error
	Close() error
}

// ResultFilter narrows a List call. Zero values match everything.
type ResultFilter struct {
	Decision model.VoteDecision
	Since    time.Time
	Limit    int
}

const defaultListLimit = 100

func (f ResultFilter) limit() int {
	if f.Limit <= 0 {
		return defaultListLimit
	}
	return f.Limit
}

func (f ResultFilter) matches(r *model.ConsensusResult) bool {
	if f.Decision != "" && r.Decision != f.Decision {
		return false
	}
	if !f.Since.IsZero() && r.Timestamp.Before(f.Since) {
		return false
	}
	return true
}
