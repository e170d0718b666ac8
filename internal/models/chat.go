package models

import (
	"time"
)

// Entry represents a single item in a conversation thread. The ID is generated when the entry is created
// and stays stable for the entry's whole lifetime; only Text may change afterwards.
type Entry struct {
	ID        string
	Role      Role
	Text      string
	Timestamp time.Time

	// Image would be filled only for user entries that carry an uploaded photo. The entry owns the
	// reference, and whoever discards the entry must release it.
	Image ImageRef `json:"-"`
}

// ImageRef is a displayable view of an uploaded image held locally. Release frees the underlying
// resource, and must be called exactly once per allocation.
type ImageRef interface {
	URL() string
	Release()
}

// Role represents the role of a conversation participant.
type Role string

const (
	// RoleUser represents an entry created by the person uploading photos.
	RoleUser Role = "user"
	// RoleAssistant represents an entry produced by the analysis service, including placeholders and
	// error entries.
	RoleAssistant Role = "assistant"
)

const (
	// PlaceholderText is the text an assistant entry holds while its reply is still pending.
	PlaceholderText = "Typing..."
	// ImageSentText is the text of the user entry created for an uploaded photo.
	ImageSentText = "Image sent"
)

// Pending reports whether the entry is an assistant placeholder that hasn't been reconciled yet.
func (e Entry) Pending() bool {
	return e.Role == RoleAssistant && e.Text == PlaceholderText
}

// ImageURL returns the URL of the entry's image, or an empty string if the entry has none.
func (e Entry) ImageURL() string {
	if e.Image == nil {
		return ""
	}
	return e.Image.URL()
}
