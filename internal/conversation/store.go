// Package conversation holds the ordered log of entries that make up one conversation thread.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/MegaGrindStone/poolsight/internal/models"
)

// Journal persists a conversation so it survives a restart. Entries are identified by their ID, and
// PutEntry must keep the position of an entry it has seen before.
type Journal interface {
	Entries(ctx context.Context, key string) ([]models.Entry, error)
	PutEntry(ctx context.Context, key string, entry models.Entry) error
	Drop(ctx context.Context, key string) error
}

var (
	// ErrEntryNotFound is returned by UpdateByID when no entry carries the requested ID.
	ErrEntryNotFound = errors.New("entry not found")
	// ErrStoreClosed is returned by UpdateByID once the store has been closed.
	ErrStoreClosed = errors.New("store closed")
)

// InterruptedText replaces a placeholder restored from the journal, whose exchange never finished.
const InterruptedText = "❌ The reply was interrupted. Please try again."

const errLoggerKey = "err"

// Store is the single owner of a conversation's entries. Entries are kept in insertion order; the only
// in-place change allowed is replacing an entry's text.
//
// Store takes ownership of every image attached to an appended entry, and releases each of them exactly
// once, on Clear or Close. A closed store takes no more entries.
type Store struct {
	key     string
	journal Journal
	logger  *slog.Logger

	mu      sync.Mutex
	entries []models.Entry
	closed  bool
}

// NewStore creates an empty store. key identifies the conversation in the journal; journal may be nil,
// in which case nothing is persisted.
func NewStore(key string, journal Journal, logger *slog.Logger) *Store {
	return &Store{
		key:     key,
		journal: journal,
		logger:  logger.With(slog.String("module", "conversation")),
	}
}

// Append adds entry at the end of the conversation. On a closed store the entry is dropped and its image
// released.
func (s *Store) Append(entry models.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.logger.Debug("Dropping entry appended after close",
			slog.String("key", s.key),
			slog.String("id", entry.ID))
		if entry.Image != nil {
			entry.Image.Release()
		}
		return
	}
	s.entries = append(s.entries, entry)
	s.persist(entry)
}

// UpdateByID replaces the text of the entry with the given id by the result of mutate. ID, role,
// position and image are preserved. It returns ErrEntryNotFound if there is no such entry, and
// ErrStoreClosed after Close.
func (s *Store) UpdateByID(id string, mutate func(text string) string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	idx := slices.IndexFunc(s.entries, func(e models.Entry) bool { return e.ID == id })
	if idx == -1 {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	s.entries[idx].Text = mutate(s.entries[idx].Text)
	s.persist(s.entries[idx])
	return nil
}

// Snapshot returns a copy of the entries in conversation order.
func (s *Store) Snapshot() []models.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.entries)
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.entries)
}

// Clear empties the conversation, releases every image it holds and drops its journal. The store stays
// open.
func (s *Store) Clear(ctx context.Context) {
	s.drain(false)

	if s.journal == nil {
		return
	}
	if err := s.journal.Drop(ctx, s.key); err != nil {
		s.logger.Error("Failed to drop journal",
			slog.String("key", s.key),
			slog.String(errLoggerKey, err.Error()))
	}
}

// Close releases every image and empties the in-memory log, leaving the journal intact. Appends and
// updates after Close are dropped and never reach the journal.
func (s *Store) Close() {
	s.drain(true)
}

func (s *Store) drain(closing bool) {
	s.mu.Lock()
	entries := s.entries
	s.entries = nil
	if closing {
		s.closed = true
	}
	s.mu.Unlock()

	for _, e := range entries {
		if e.Image != nil {
			e.Image.Release()
		}
	}
}

// Restore loads the persisted conversation, appending it after any entries already in the store.
// Placeholders whose exchange never finished are rewritten as error entries.
func (s *Store) Restore(ctx context.Context) error {
	if s.journal == nil {
		return nil
	}

	entries, err := s.journal.Entries(ctx, s.key)
	if err != nil {
		return fmt.Errorf("failed to read journal: %w", err)
	}

	var interrupted []models.Entry
	for i := range entries {
		if entries[i].Pending() {
			entries[i].Text = InterruptedText
			interrupted = append(interrupted, entries[i])
		}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}
	s.entries = append(s.entries, entries...)
	for _, e := range interrupted {
		s.persist(e)
	}
	s.mu.Unlock()

	s.logger.Debug("Conversation restored",
		slog.String("key", s.key),
		slog.Int("entries", len(entries)),
		slog.Int("interrupted", len(interrupted)))
	return nil
}

// persist mirrors entry into the journal. Callers hold s.mu so the journal sees entries in log order.
func (s *Store) persist(entry models.Entry) {
	if s.journal == nil {
		return
	}
	if err := s.journal.PutEntry(context.Background(), s.key, entry); err != nil {
		s.logger.Error("Failed to persist entry",
			slog.String("key", s.key),
			slog.String("id", entry.ID),
			slog.String(errLoggerKey, err.Error()))
	}
}
