// Package ledger keeps every recorded delta keyed by turn and action index
// and performs undo against a graph.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/portfolio-agent/internal/delta"
	"github.com/p-blackswan/portfolio-agent/internal/domain"
	perrors "github.com/p-blackswan/portfolio-agent/internal/errors"
)

// Entry is one recorded delta.
type Entry struct {
	TurnID     string      `json:"turn_id"`
	Index      int         `json:"index"`
	Delta      delta.Delta `json:"delta"`
	Undone     bool        `json:"undone"`
	RecordedAt time.Time   `json:"recorded_at"`
	UndoneAt   *time.Time  `json:"undone_at,omitempty"`
}

// Backend persists ledger entries. A nil backend keeps the ledger in memory.
type Backend interface {
	SaveDelta(ctx context.Context, e Entry) error
	MarkUndone(ctx context.Context, turnID string, index int, at time.Time) error
	LoadDeltas(ctx context.Context) ([]Entry, error)
	ClearDeltas(ctx context.Context) error
}

// UndoResult reports what an Undo call did.
type UndoResult struct {
	Entry         Entry `json:"entry"`
	AlreadyUndone bool  `json:"already_undone"`
}

type key struct {
	turn  string
	index int
}

// Ledger is safe for concurrent use.
type Ledger struct {
	mu      sync.RWMutex
	entries map[key]*Entry
	backend Backend
	now     func() time.Time
	logger  zerolog.Logger
}

// New creates a ledger writing through to backend.
func New(backend Backend, logger zerolog.Logger) *Ledger {
	return &Ledger{
		entries: make(map[key]*Entry),
		backend: backend,
		now:     time.Now,
		logger:  logger.With().Str("component", "ledger").Logger(),
	}
}

// Load replaces in-memory entries with the backend's.
func (l *Ledger) Load(ctx context.Context) error {
	if l.backend == nil {
		return nil
	}
	rows, err := l.backend.LoadDeltas(ctx)
	if err != nil {
		return fmt.Errorf("load deltas: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make(map[key]*Entry, len(rows))
	for i := range rows {
		e := rows[i]
		l.entries[key{e.TurnID, e.Index}] = &e
	}
	l.logger.Info().Int("count", len(rows)).Msg("ledger loaded")
	return nil
}

// Record stores the delta produced by action index of turn. When the backend
// write fails the entry is dropped again, so the caller must not commit the
// mutation it describes.
func (l *Ledger) Record(ctx context.Context, turnID string, index int, d delta.Delta) error {
	e := Entry{TurnID: turnID, Index: index, Delta: d, RecordedAt: l.now().UTC()}

	l.mu.Lock()
	k := key{turnID, index}
	if _, exists := l.entries[k]; exists {
		l.mu.Unlock()
		return fmt.Errorf("%w: delta for %s#%d already recorded", perrors.ErrInvalidInput, turnID, index)
	}
	l.entries[k] = &e
	l.mu.Unlock()

	if l.backend != nil {
		if err := l.backend.SaveDelta(ctx, e); err != nil {
			l.mu.Lock()
			delete(l.entries, k)
			l.mu.Unlock()
			return fmt.Errorf("save delta %s#%d: %w", turnID, index, err)
		}
	}
	return nil
}

// Undo reverses one delta against g. Undoing an entry twice is a no-op that
// reports AlreadyUndone. An entry whose created entity is still referenced
// by another live delta is refused with ErrHasDependents.
func (l *Ledger) Undo(ctx context.Context, turnID string, index int, g *domain.Graph) (UndoResult, error) {
	l.mu.Lock()
	e, ok := l.entries[key{turnID, index}]
	if !ok {
		l.mu.Unlock()
		return UndoResult{}, fmt.Errorf("%w: no delta for turn %s action %d", perrors.ErrNotFound, turnID, index)
	}
	if e.Undone {
		out := *e
		l.mu.Unlock()
		return UndoResult{Entry: out, AlreadyUndone: true}, nil
	}
	if deps := l.dependentsLocked(e); len(deps) > 0 {
		l.mu.Unlock()
		return UndoResult{}, fmt.Errorf("%w: %s is referenced by %v", perrors.ErrHasDependents, e.Delta.Creates(), deps)
	}
	if err := e.Delta.Apply(g); err != nil {
		l.mu.Unlock()
		return UndoResult{}, fmt.Errorf("undo %s#%d: %w", turnID, index, err)
	}
	at := l.now().UTC()
	e.Undone = true
	e.UndoneAt = &at
	out := *e
	l.mu.Unlock()

	l.logger.Info().
		Str("turn_id", turnID).
		Int("action_index", index).
		Str("delta", e.Delta.Describe()).
		Msg("delta undone")

	if l.backend != nil {
		if err := l.backend.MarkUndone(ctx, turnID, index, at); err != nil {
			return UndoResult{Entry: out}, fmt.Errorf("mark undone %s#%d: %w", turnID, index, err)
		}
	}
	return UndoResult{Entry: out}, nil
}

// dependentsLocked lists live entries that touch the entity target created.
func (l *Ledger) dependentsLocked(target *Entry) []string {
	created := target.Delta.Creates()
	if created == "" {
		return nil
	}
	var deps []string
	for _, e := range l.entries {
		if e == target || e.Undone {
			continue
		}
		for _, id := range e.Delta.Touches() {
			if id == created && e.Delta.Creates() != created {
				deps = append(deps, fmt.Sprintf("%s#%d", e.TurnID, e.Index))
				break
			}
		}
	}
	sort.Strings(deps)
	return deps
}

// Get returns one entry.
func (l *Ledger) Get(turnID string, index int) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[key{turnID, index}]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Turn returns the entries for one turn ordered by action index.
func (l *Ledger) Turn(turnID string) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Entry
	for k, e := range l.entries {
		if k.turn == turnID {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// HasTurn reports whether any delta was recorded under turnID.
func (l *Ledger) HasTurn(turnID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for k := range l.entries {
		if k.turn == turnID {
			return true
		}
	}
	return false
}

// Len returns the number of recorded entries.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Reset drops every entry. Used when the graph is replaced wholesale and old
// deltas no longer describe it.
func (l *Ledger) Reset(ctx context.Context) error {
	l.mu.Lock()
	l.entries = make(map[key]*Entry)
	l.mu.Unlock()
	if l.backend != nil {
		return l.backend.ClearDeltas(ctx)
	}
	return nil
}
