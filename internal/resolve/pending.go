package resolve

import "github.com/p-blackswan/portfolio-agent/internal/domain"

// Kind names the entity kind being resolved.
type Kind string

const (
	KindProject Kind = "project"
	KindTask    Kind = "task"
	KindSubtask Kind = "subtask"
)

// Entry is one entity created earlier in the batch.
type Entry struct {
	Kind         Kind   `json:"kind"`
	OwnerID      string `json:"ownerId"`
	ID           string `json:"id"`
	Title        string `json:"title"`
	Materialized bool   `json:"materialized"`
}

type cacheKey struct {
	kind  Kind
	owner string
	title string
}

// PendingCache maps (owner, normalized title) to entities created earlier
// in the same batch. It is scoped to one batch and passed explicitly
// through validation and execution; it is never shared between batches.
type PendingCache struct {
	byKey map[cacheKey]*Entry
	byID  map[string]*Entry
	order []*Entry
}

// NewPendingCache returns an empty cache.
func NewPendingCache() *PendingCache {
	return &PendingCache{
		byKey: make(map[cacheKey]*Entry),
		byID:  make(map[string]*Entry),
	}
}

// Register reserves an entity under its owner. It returns false when the
// owner already has a pending entity with the same normalized title.
func (c *PendingCache) Register(kind Kind, ownerID, id, title string) bool {
	k := cacheKey{kind: kind, owner: ownerID, title: domain.NormalizeTitle(title)}
	if _, exists := c.byKey[k]; exists {
		return false
	}
	e := &Entry{Kind: kind, OwnerID: ownerID, ID: id, Title: title}
	c.byKey[k] = e
	c.byID[id] = e
	c.order = append(c.order, e)
	return true
}

// Lookup finds a pending entity by id or by title under ownerID.
func (c *PendingCache) Lookup(kind Kind, ownerID, ref string) (Entry, bool) {
	if e, ok := c.byID[ref]; ok && e.Kind == kind && e.OwnerID == ownerID {
		return *e, true
	}
	if e, ok := c.byKey[cacheKey{kind: kind, owner: ownerID, title: domain.NormalizeTitle(ref)}]; ok {
		return *e, true
	}
	return Entry{}, false
}

// Materialize marks an entity as created in the working snapshot.
func (c *PendingCache) Materialize(id string) {
	if e, ok := c.byID[id]; ok {
		e.Materialized = true
	}
}

// Entries returns the cache contents in registration order.
func (c *PendingCache) Entries() []Entry {
	out := make([]Entry, len(c.order))
	for i, e := range c.order {
		out[i] = *e
	}
	return out
}

// Len returns the number of pending entities.
func (c *PendingCache) Len() int { return len(c.order) }
