package fields

import (
	"sync"

	"github.com/google/uuid"

	"github.com/cliniccore/cliniccore/internal/domain/formula"
)

type calcKey struct {
	entityID     uuid.UUID
	definitionID uuid.UUID
}

// CalcCache memoizes calculated-field results per (entity, definition). It is
// an explicit dependency injected into the services, never an ambient
// singleton, and it is invalidated at every mutation site. Volatile results
// are never served from it.
type CalcCache struct {
	mu      sync.Mutex
	entries map[calcKey]formula.Value
}

func NewCalcCache() *CalcCache {
	return &CalcCache{entries: make(map[calcKey]formula.Value)}
}

func (c *CalcCache) Get(entityID, definitionID uuid.UUID) (formula.Value, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[calcKey{entityID, definitionID}]
	return v, ok
}

func (c *CalcCache) Put(entityID, definitionID uuid.UUID, v formula.Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[calcKey{entityID, definitionID}] = v
}

func (c *CalcCache) Invalidate(entityID, definitionID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, calcKey{entityID, definitionID})
}

// InvalidateEntity drops every cached result for an entity. Called on any
// value mutation, since dependents of the changed field live on the same
// entity.
func (c *CalcCache) InvalidateEntity(entityID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if k.entityID == entityID {
			delete(c.entries, k)
		}
	}
}

// Clear empties the cache entirely.
func (c *CalcCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[calcKey]formula.Value)
}

// Len reports the number of cached results.
func (c *CalcCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
