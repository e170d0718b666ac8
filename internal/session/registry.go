package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MegaGrindStone/poolsight/internal/conversation"
	"github.com/MegaGrindStone/poolsight/internal/models"
)

// ProfileService registers a signed-in user with the backend and returns their profile. The token may
// be empty when the identity provider hasn't issued one yet.
type ProfileService interface {
	SyncUser(ctx context.Context, token, subject string) (models.Profile, error)
}

// Registry keeps one Context per signed-in subject.
type Registry struct {
	journal  conversation.Journal
	profiles ProfileService
	logger   *slog.Logger

	mu       sync.Mutex
	contexts map[string]*Context
	// starting holds a channel per subject whose context is being created, closed once it is ready.
	starting map[string]chan struct{}
}

// NewRegistry creates a Registry. journal and profiles may be nil, in which case conversations aren't
// persisted and profiles aren't synced.
func NewRegistry(journal conversation.Journal, profiles ProfileService, logger *slog.Logger) *Registry {
	return &Registry{
		journal:  journal,
		profiles: profiles,
		logger:   logger,
		contexts: make(map[string]*Context),
		starting: make(map[string]chan struct{}),
	}
}

// Begin returns the context of the subject idp resolves to, creating it on first use. A new context
// restores the subject's persisted conversation and syncs their profile; neither failure prevents the
// context from being created. Concurrent first requests for one subject create a single context.
func (r *Registry) Begin(ctx context.Context, idp IdentityProvider) (*Context, error) {
	sub, err := idp.Subject(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoSubject, err)
	}
	if sub == "" {
		return nil, ErrNoSubject
	}

	for {
		r.mu.Lock()
		if sc, ok := r.contexts[sub]; ok {
			r.mu.Unlock()
			return sc, nil
		}
		ready, ok := r.starting[sub]
		if !ok {
			ready = make(chan struct{})
			r.starting[sub] = ready
			r.mu.Unlock()
			break
		}
		r.mu.Unlock()

		select {
		case <-ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	sc := r.newContext(ctx, idp, sub)

	r.mu.Lock()
	r.contexts[sub] = sc
	ready := r.starting[sub]
	delete(r.starting, sub)
	r.mu.Unlock()
	close(ready)

	return sc, nil
}

func (r *Registry) newContext(ctx context.Context, idp IdentityProvider, sub string) *Context {
	store := conversation.NewStore(sub, r.journal, r.logger)
	if err := store.Restore(ctx); err != nil {
		r.logger.Error("Failed to restore conversation",
			slog.String("subject", sub),
			slog.String(errLoggerKey, err.Error()))
	}
	sc := NewContext(sub, store)
	sc.SetProfile(r.syncProfile(ctx, idp, sub))
	return sc
}

func (r *Registry) syncProfile(ctx context.Context, idp IdentityProvider, sub string) models.Profile {
	if r.profiles == nil {
		return models.Profile{}
	}

	token, err := idp.Token(ctx)
	if err != nil {
		r.logger.Warn("ID token not ready, syncing user without authorization",
			slog.String("subject", sub),
			slog.String(errLoggerKey, err.Error()))
		token = ""
	}

	profile, err := r.profiles.SyncUser(ctx, token, sub)
	if err != nil {
		r.logger.Error("Failed to sync user",
			slog.String("subject", sub),
			slog.String(errLoggerKey, err.Error()))
		return models.Profile{}
	}
	return profile
}

// Lookup returns the context of a signed-in subject.
func (r *Registry) Lookup(sub string) (*Context, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sc, ok := r.contexts[sub]
	return sc, ok
}

// End signs sub out, releasing everything its context holds. The persisted conversation is kept.
func (r *Registry) End(sub string) {
	r.mu.Lock()
	sc, ok := r.contexts[sub]
	delete(r.contexts, sub)
	r.mu.Unlock()

	if ok {
		sc.Store.Close()
	}
}

// Close signs every subject out.
func (r *Registry) Close() {
	r.mu.Lock()
	contexts := r.contexts
	r.contexts = make(map[string]*Context)
	r.mu.Unlock()

	for _, sc := range contexts {
		sc.Store.Close()
	}
}
