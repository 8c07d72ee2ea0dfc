package consensus

import (
	lru "github.com/hashicorp/golang-lru"

	"github.com/Alfredo-rv/SAAI/internal/model"
)

type outcome struct {
	status model.ProposalStatus
	result *model.ConsensusResult
}

// outcomeCache remembers how recently finished proposals ended so callers can
// tell an expired proposal apart from one that never existed.
type outcomeCache struct {
	cache *lru.Cache
}

func newOutcomeCache(size int) (*outcomeCache, error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &outcomeCache{cache: c}, nil
}

func (c *outcomeCache) resolved(id string, result *model.ConsensusResult) {
	c.cache.Add(id, outcome{status: model.ProposalStatusResolved, result: result})
}

func (c *outcomeCache) expired(id string) {
	c.cache.Add(id, outcome{status: model.ProposalStatusExpired})
}

func (c *outcomeCache) get(id string) (outcome, bool) {
	v, ok := c.cache.Get(id)
	if !ok {
		return outcome{}, false
	}
	return v.(outcome), true
}
