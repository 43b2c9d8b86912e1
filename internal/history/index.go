// Package history is the durable job index: the list of analysis ids a
// session has submitted or viewed, persisted under one well-known key. Each
// session token gets its own copy under that key suffixed with the token's
// fingerprint; a context without a token uses the bare key.
//
// The index never fails its callers. A storage failure on read yields an
// empty list; a failure on write is logged and counted, and the in-memory
// copy keeps serving the current process.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/Ftthreign/Aisthesis-hackaton-KOLOSALAI/internal/metrics"
	"github.com/Ftthreign/Aisthesis-hackaton-KOLOSALAI/internal/session"
	"github.com/Ftthreign/Aisthesis-hackaton-KOLOSALAI/internal/store"
	"github.com/Ftthreign/Aisthesis-hackaton-KOLOSALAI/pkg/models"
)

// DefaultKey is the storage key the dashboard has always used.
const DefaultKey = "aisthesis_analysis_history"

// ErrStorage wraps every persistence or decode failure. Exported methods log
// it and carry on; it is exposed so tests and hooks can match it.
var ErrStorage = errors.New("history storage error")

// Index is safe for concurrent use. Each read-modify-write holds one lock
// from load to save, so two callers never interleave partial updates.
type Index struct {
	storage store.Storage
	key     string
	logger  *slog.Logger

	mu     sync.Mutex
	spaces map[string]*space
}

// space is the index of one session scope. mem mirrors the last state this
// process read or wrote; while dirty (the last write failed) it is
// authoritative over storage.
type space struct {
	key   string
	mem   []models.HistoryEntry
	dirty bool
}

// Option customizes an Index.
type Option func(*Index)

func WithKey(key string) Option {
	return func(ix *Index) {
		if key != "" {
			ix.key = key
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(ix *Index) {
		if l != nil {
			ix.logger = l
		}
	}
}

func New(s store.Storage, opts ...Option) *Index {
	ix := &Index{
		storage: s,
		key:     DefaultKey,
		logger:  slog.Default(),
		spaces:  make(map[string]*space),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// List returns all entries, newest first by CreatedAt.
func (ix *Index) List(ctx context.Context) []models.HistoryEntry {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return clone(ix.read(ctx, ix.space(ctx)))
}

// Get returns the entry for id.
func (ix *Index) Get(ctx context.Context, id string) (models.HistoryEntry, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, e := range ix.read(ctx, ix.space(ctx)) {
		if e.ID == id {
			return e, true
		}
	}
	return models.HistoryEntry{}, false
}

func (ix *Index) Has(ctx context.Context, id string) bool {
	_, ok := ix.Get(ctx, id)
	return ok
}

// Upsert inserts entry when its id is absent, or merges its non-zero fields
// into the existing entry. It returns the stored entry.
//
// A server-declared terminal status is never moved back to a non-terminal
// one, nor replaced by a local timeout. A failure the dashboard inferred on
// its own (a poll timeout) can still be corrected by later server data.
func (ix *Index) Upsert(ctx context.Context, entry models.HistoryEntry) models.HistoryEntry {
	if entry.ID == "" {
		return entry
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()

	sp := ix.space(ctx)
	entries := clone(ix.read(ctx, sp))
	stored := entry
	found := false
	for i := range entries {
		if entries[i].ID == entry.ID {
			entries[i] = merge(entries[i], entry)
			stored = entries[i]
			found = true
			break
		}
	}
	if !found {
		entries = append(entries, entry)
	}
	ix.write(ctx, sp, entries)
	return stored
}

// Update merges patch into the entry for id. It does nothing and reports
// false when id is not indexed.
func (ix *Index) Update(ctx context.Context, id string, patch models.HistoryEntry) (models.HistoryEntry, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	sp := ix.space(ctx)
	entries := clone(ix.read(ctx, sp))
	for i := range entries {
		if entries[i].ID == id {
			patch.ID = id
			entries[i] = merge(entries[i], patch)
			ix.write(ctx, sp, entries)
			return entries[i], true
		}
	}
	return models.HistoryEntry{}, false
}

// Remove deletes the entry for id. Removing an absent id is a no-op.
func (ix *Index) Remove(ctx context.Context, id string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	sp := ix.space(ctx)
	entries := ix.read(ctx, sp)
	out := make([]models.HistoryEntry, 0, len(entries))
	for _, e := range entries {
		if e.ID != id {
			out = append(out, e)
		}
	}
	if len(out) == len(entries) {
		return
	}
	ix.write(ctx, sp, out)
}

// Clear drops every entry of the session in ctx.
func (ix *Index) Clear(ctx context.Context) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	sp := ix.space(ctx)
	sp.mem = nil
	sp.dirty = false
	if err := ix.storage.RemoveItem(ctx, sp.key); err != nil {
		sp.dirty = true
		ix.fail(ctx, sp, "write", fmt.Errorf("%w: remove %s: %w", ErrStorage, sp.key, err))
	}
}

// space returns the scope of the session in ctx. Callers hold mu.
func (ix *Index) space(ctx context.Context) *space {
	scope := session.Scope(ctx)
	sp, ok := ix.spaces[scope]
	if !ok {
		key := ix.key
		if scope != "" {
			key = ix.key + ":" + scope
		}
		sp = &space{key: key}
		ix.spaces[scope] = sp
	}
	return sp
}

// read loads the entries from storage, sorted. On failure it falls back to
// the in-memory copy, which is empty on a fresh process. Callers hold mu.
func (ix *Index) read(ctx context.Context, sp *space) []models.HistoryEntry {
	if sp.dirty {
		return sp.mem
	}

	raw, found, err := ix.storage.GetItem(ctx, sp.key)
	if err != nil {
		ix.fail(ctx, sp, "read", fmt.Errorf("%w: read %s: %w", ErrStorage, sp.key, err))
		return sp.mem
	}
	if !found {
		sp.mem = nil
		return nil
	}

	var entries []models.HistoryEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		ix.fail(ctx, sp, "decode", fmt.Errorf("%w: decode %s: %w", ErrStorage, sp.key, err))
		return sp.mem
	}
	sortEntries(entries)
	sp.mem = entries
	return entries
}

// write persists entries and updates the in-memory copy. Callers hold mu.
func (ix *Index) write(ctx context.Context, sp *space, entries []models.HistoryEntry) {
	sortEntries(entries)
	sp.mem = entries

	raw, err := json.Marshal(entries)
	if err != nil {
		sp.dirty = true
		ix.fail(ctx, sp, "write", fmt.Errorf("%w: encode: %w", ErrStorage, err))
		return
	}
	if err := ix.storage.SetItem(ctx, sp.key, raw); err != nil {
		sp.dirty = true
		ix.fail(ctx, sp, "write", fmt.Errorf("%w: write %s: %w", ErrStorage, sp.key, err))
		return
	}
	sp.dirty = false
}

func (ix *Index) fail(ctx context.Context, sp *space, op string, err error) {
	metrics.IncIndexStorageError(op)
	ix.logger.WarnContext(ctx, "history index storage failure", "op", op, "key", sp.key, "error", err)
}

// merge applies the non-zero fields of patch onto cur, keeping a
// server-declared terminal status from regressing.
func merge(cur, patch models.HistoryEntry) models.HistoryEntry {
	out := cur
	if !patch.CreatedAt.IsZero() {
		out.CreatedAt = patch.CreatedAt
	}
	if patch.ImageURL != "" {
		out.ImageURL = patch.ImageURL
	}
	if patch.ProductName != "" {
		out.ProductName = patch.ProductName
	}
	if patch.Status != "" && !regresses(cur, patch) {
		out.Status = patch.Status
		out.FailureReason = patch.FailureReason
		if out.Status == models.StatusFailed && out.FailureReason == "" {
			out.FailureReason = cur.FailureReason
		}
	}
	return out
}

// regresses reports whether applying patch would discard a status the server
// declared terminal, either by moving it back or by overwriting it with a
// locally inferred timeout.
func regresses(cur, patch models.HistoryEntry) bool {
	if !cur.Status.IsTerminal() || cur.FailureReason == models.FailureTimeout {
		return false
	}
	if !patch.Status.IsTerminal() {
		return true
	}
	return patch.FailureReason == models.FailureTimeout
}

func sortEntries(entries []models.HistoryEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].ID < entries[j].ID
		}
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
}

func clone(entries []models.HistoryEntry) []models.HistoryEntry {
	return append([]models.HistoryEntry(nil), entries...)
}
