package services

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/MegaGrindStone/poolsight/internal/models"
	"github.com/google/uuid"
)

// Blobs keeps uploaded images in memory and serves them over HTTP, so a conversation can show the
// photo a user sent. Every allocated image stays reachable until its reference is released.
type Blobs struct {
	prefix string

	mu    sync.RWMutex
	blobs map[string]blob
}

type blob struct {
	contentType string
	data        []byte
}

type blobRef struct {
	blobs *Blobs
	id    string
	url   string
	once  sync.Once
}

// ErrEmptyImage is returned when allocating an image without data.
var ErrEmptyImage = errors.New("image is empty")

// NewBlobs creates an empty Blobs whose image URLs start with prefix, e.g. "/images/".
func NewBlobs(prefix string) *Blobs {
	return &Blobs{
		prefix: prefix,
		blobs:  make(map[string]blob),
	}
}

// Allocate stores a copy of the image and returns a reference to it.
func (b *Blobs) Allocate(_ context.Context, file models.Upload) (models.ImageRef, error) {
	if len(file.Data) == 0 {
		return nil, ErrEmptyImage
	}

	contentType := file.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(file.Data)
	}

	id := uuid.New().String()
	b.mu.Lock()
	b.blobs[id] = blob{
		contentType: contentType,
		data:        append([]byte(nil), file.Data...),
	}
	b.mu.Unlock()

	return &blobRef{blobs: b, id: id, url: b.prefix + id}, nil
}

// Len returns the number of images currently held.
func (b *Blobs) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.blobs)
}

// ServeHTTP serves the image named by the "id" path value.
func (b *Blobs) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.RLock()
	bl, ok := b.blobs[r.PathValue("id")]
	b.mu.RUnlock()

	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", bl.contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(bl.data)))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	_, _ = w.Write(bl.data)
}

func (r *blobRef) URL() string {
	return r.url
}

func (r *blobRef) Release() {
	r.once.Do(func() {
		r.blobs.mu.Lock()
		delete(r.blobs.blobs, r.id)
		r.blobs.mu.Unlock()
	})
}
