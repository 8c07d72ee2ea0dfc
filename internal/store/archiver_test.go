package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Alfredo-rv/SAAI/internal/fabric"
	"github.com/Alfredo-rv/SAAI/internal/model"
)

// MockResultStore is a mock implementation of ResultStore
type MockResultStore struct {
	mock.Mock
}

func (m *MockResultStore) Save(ctx context.Context, result *model.ConsensusResult) error {
	args := m.Called(ctx, result)
	return args.Error(0)
}

func (m *MockResultStore) List(ctx context.Context, filter ResultFilter) ([]*model.ConsensusResult, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]*model.ConsensusResult), args.Error(1)
}

func (m *MockResultStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockResultStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func newTestFabric(t *testing.T) *fabric.Fabric {
	f := fabric.NewFabric(fabric.NewMemoryTransport(16, zap.NewNop()), "test", nil, zap.NewNop())
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestArchiver_SavesPublishedResults(t *testing.T) {
	f := newTestFabric(t)
	mockStore := new(MockResultStore)
	mockStore.On("Save", mock.Anything, mock.MatchedBy(func(r *model.ConsensusResult) bool {
		return r.ProposalID == "p-1" && r.Decision == model.VoteApprove
	})).Return(nil).Once()

	a := NewArchiver(f, mockStore, zap.NewNop())
	require.NoError(t, a.Start())

	require.NoError(t, f.PublishEvent(context.Background(), model.Event{
		Type:    model.EventTypeConsensusResult,
		Payload: mustJSON(t, result("p-1", model.VoteApprove, time.Now().UTC())),
	}))

	assert.Eventually(t, func() bool {
		saved, _ := a.Counts()
		return saved == 1
	}, time.Second, 5*time.Millisecond)
	mockStore.AssertExpectations(t)
	require.NoError(t, a.Stop())
}

func TestArchiver_CountsFailures(t *testing.T) {
	f := newTestFabric(t)
	mockStore := new(MockResultStore)
	mockStore.On("Save", mock.Anything, mock.Anything).Return(errors.New("db down"))

	a := NewArchiver(f, mockStore, zap.NewNop())
	require.NoError(t, a.Start())

	ctx := context.Background()
	require.NoError(t, f.PublishEvent(ctx, model.Event{
		Type:    model.EventTypeConsensusResult,
		Payload: mustJSON(t, result("p-2", model.VoteReject, time.Now().UTC())),
	}))
	require.NoError(t, f.PublishEvent(ctx, model.Event{
		Type:    model.EventTypeConsensusResult,
		Payload: []byte("{not json"),
	}))

	assert.Eventually(t, func() bool {
		_, failed := a.Counts()
		return failed == 2
	}, time.Second, 5*time.Millisecond)
	saved, _ := a.Counts()
	assert.Zero(t, saved)
}
