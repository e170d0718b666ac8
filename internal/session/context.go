package session

import (
	"sync"

	"github.com/MegaGrindStone/poolsight/internal/conversation"
	"github.com/MegaGrindStone/poolsight/internal/models"
)

// Context is everything the application knows about one signed-in user: who they are, their profile,
// their conversation, the photo they have selected and whether a reply is being composed.
//
// A Context is created when an identity is resolved (see Registry.Begin) and torn down on sign-out
// (Registry.End). It is safe for concurrent use.
type Context struct {
	Subject string
	Store   *conversation.Store

	mu        sync.Mutex
	profile   models.Profile
	selected  *models.Upload
	inFlight  bool
	composing int
}

// NewContext creates a context for subject that records its conversation in store.
func NewContext(subject string, store *conversation.Store) *Context {
	return &Context{
		Subject: subject,
		Store:   store,
	}
}

// Select stages file for the next exchange, replacing any earlier selection.
func (c *Context) Select(file models.Upload) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.selected = &file
}

// Selected returns the staged file, or nil if there is none.
func (c *Context) Selected() *models.Upload {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.selected
}

// InFlight reports whether an exchange started from this context hasn't finished yet.
func (c *Context) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.inFlight
}

// Composing reports whether the assistant is composing a reply, which is when the send control
// should be disabled.
func (c *Context) Composing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.composing > 0
}

// Profile returns the user's profile.
func (c *Context) Profile() models.Profile {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.profile
}

// SetProfile replaces the user's profile.
func (c *Context) SetProfile(p models.Profile) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.profile = p
}

// claim takes the staged file for a new exchange and marks the context as in flight.
func (c *Context) claim() (*models.Upload, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inFlight {
		return nil, ErrInFlight
	}
	if c.selected == nil {
		return nil, ErrNoFile
	}
	file := c.selected
	c.selected = nil
	c.inFlight = true
	return file, nil
}

// unclaim gives the file back when an exchange couldn't start.
func (c *Context) unclaim(file *models.Upload) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.inFlight = false
	if c.selected == nil {
		c.selected = file
	}
}

// release ends a claim that couldn't start, dropping the file.
func (c *Context) release() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.inFlight = false
}

func (c *Context) startComposing() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.composing++
}

func (c *Context) finish() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.inFlight = false
	if c.composing > 0 {
		c.composing--
	}
}
