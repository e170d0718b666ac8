package services_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/MegaGrindStone/poolsight/internal/models"
	"github.com/MegaGrindStone/poolsight/internal/services"
)

type fakeS3 struct {
	mu       sync.Mutex
	objects  map[string]string
	requests []string
}

func TestBlobs(t *testing.T) {
	blobs := services.NewBlobs("/images/")

	ref, err := blobs.Allocate(context.Background(), models.Upload{Name: "p.png", ContentType: "image/png", Data: []byte("png")})
	if err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}
	if !strings.HasPrefix(ref.URL(), "/images/") {
		t.Errorf("URL() = %q, want /images/ prefix", ref.URL())
	}

	mux := http.NewServeMux()
	mux.Handle("GET /images/{id}", blobs)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, ref.URL(), nil))
	if w.Code != http.StatusOK || w.Body.String() != "png" || w.Header().Get("Content-Type") != "image/png" {
		t.Errorf("GET image = %d %q %q", w.Code, w.Header().Get("Content-Type"), w.Body.String())
	}

	ref.Release()
	ref.Release()
	if blobs.Len() != 0 {
		t.Errorf("Len() = %d after Release, want 0", blobs.Len())
	}

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, ref.URL(), nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("GET released image = %d, want 404", w.Code)
	}

	if _, err := blobs.Allocate(context.Background(), models.Upload{}); !errors.Is(err, services.ErrEmptyImage) {
		t.Errorf("Allocate(empty) error = %v, want ErrEmptyImage", err)
	}
}

func TestMinIO(t *testing.T) {
	s3 := &fakeS3{objects: make(map[string]string)}
	srv := httptest.NewServer(s3)
	defer srv.Close()

	m, err := services.NewMinIO(services.MinIOConfig{
		Endpoint:  strings.TrimPrefix(srv.URL, "http://"),
		AccessKey: "access",
		SecretKey: "secret",
		Bucket:    "photos",
		Region:    "us-east-1",
	}, discardLogger())
	if err != nil {
		t.Fatalf("NewMinIO() error = %v", err)
	}

	ref, err := m.Allocate(context.Background(), models.Upload{Name: "pool.jpg", ContentType: "image/jpeg", Data: []byte("jpeg")})
	if err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}
	if !strings.Contains(ref.URL(), "/photos/uploads/") || !strings.Contains(ref.URL(), "X-Amz-Signature") {
		t.Errorf("URL() = %q, want a presigned object URL", ref.URL())
	}
	if s3.count() != 1 {
		t.Fatalf("stored %d objects, want 1", s3.count())
	}

	ref.Release()
	ref.Release()
	if s3.count() != 0 {
		t.Errorf("stored %d objects after Release, want 0", s3.count())
	}
	if n := s3.deletes(); n != 1 {
		t.Errorf("sent %d deletes, want 1", n)
	}
}

func TestNewMinIORequiresBucket(t *testing.T) {
	if _, err := services.NewMinIO(services.MinIOConfig{Endpoint: "localhost:9000"}, discardLogger()); err == nil {
		t.Error("NewMinIO() should require a bucket")
	}
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
	switch r.Method {
	case http.MethodPut:
		f.objects[r.URL.Path] = string(body)
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodDelete:
		delete(f.objects, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusOK)
	}
}

func (f *fakeS3) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.objects)
}

func (f *fakeS3) deletes() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, r := range f.requests {
		if strings.HasPrefix(r, http.MethodDelete) {
			n++
		}
	}
	return n
}
