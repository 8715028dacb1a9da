package cache

import (
	"fmt"
	"time"

	"github.com/nkashyap/hireflow/model"
	c "github.com/patrickmn/go-cache"
)

// ExecutionStateCache remembers terminal execution statuses so hot paths can
// skip a storage fetch for executions that can no longer change.
type ExecutionStateCache struct {
	cache *c.Cache
}

func NewExecutionStateCache() *ExecutionStateCache {
	return &ExecutionStateCache{
		cache: c.New(c.NoExpiration, 10*time.Minute),
	}
}

func (ch *ExecutionStateCache) SaveStatus(executionId string, status model.ExecutionStatus) {
	ch.cache.Add(executionId, string(status), c.NoExpiration)
}

func (ch *ExecutionStateCache) GetStatus(executionId string) (model.ExecutionStatus, bool) {
	statusStr, found := ch.cache.Get(executionId)
	if found {
		return model.ExecutionStatus(fmt.Sprintf("%v", statusStr)), true
	}
	return model.ExecutionStatus(""), false
}
