package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alfredo-rv/SAAI/internal/config"
	"github.com/Alfredo-rv/SAAI/internal/model"
)

func result(id string, decision model.VoteDecision, at time.Time) *model.ConsensusResult {
	return &model.ConsensusResult{
		ProposalID:            id,
		Decision:              decision,
		VoteCount:             map[model.VoteDecision]int{decision: 3},
		ConfidenceScore:       0.9,
		ParticipatingReplicas: []string{"a", "b", "c"},
		Timestamp:             at,
	}
}

func TestMemoryResultStore_NewestFirstAndEviction(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryResultStore(3)
	base := time.Now().UTC()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Save(ctx, result(fmt.Sprintf("p%d", i), model.VoteApprove, base.Add(time.Duration(i)*time.Second))))
	}
	assert.Equal(t, 3, s.Len())

	got, err := s.List(ctx, ResultFilter{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "p4", got[0].ProposalID)
	assert.Equal(t, "p3", got[1].ProposalID)
	assert.Equal(t, "p2", got[2].ProposalID)
}

func TestMemoryResultStore_Filter(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryResultStore(10)
	base := time.Now().UTC()

	require.NoError(t, s.Save(ctx, result("old", model.VoteApprove, base.Add(-time.Hour))))
	require.NoError(t, s.Save(ctx, result("rejected", model.VoteReject, base)))
	require.NoError(t, s.Save(ctx, result("approved", model.VoteApprove, base)))

	tests := []struct {
		name   string
		filter ResultFilter
		want   []string
	}{
		{"all", ResultFilter{}, []string{"approved", "rejected", "old"}},
		{"by decision", ResultFilter{Decision: model.VoteApprove}, []string{"approved", "old"}},
		{"since", ResultFilter{Since: base.Add(-time.Minute)}, []string{"approved", "rejected"}},
		{"limit", ResultFilter{Limit: 1}, []string{"approved"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.List(ctx, tt.filter)
			require.NoError(t, err)
			ids := make([]string, 0, len(got))
			for _, r := range got {
				ids = append(ids, r.ProposalID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestMemoryResultStore_SavesCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryResultStore(2)
	r := result("p", model.VoteApprove, time.Now())
	require.NoError(t, s.Save(ctx, r))

	r.Decision = model.VoteReject
	got, _ := s.List(ctx, ResultFilter{})
	assert.Equal(t, model.VoteApprove, got[0].Decision)
}

func TestNew_SelectsDriver(t *testing.T) {
	s, err := New(context.Background(), config.StoreConfig{Driver: "memory", MemoryCapacity: 5})
	require.NoError(t, err)
	assert.IsType(t, &MemoryResultStore{}, s)
	assert.NoError(t, s.Ping(context.Background()))

	_, err = New(context.Background(), config.StoreConfig{Driver: "sqlite"})
	assert.Error(t, err)
}
