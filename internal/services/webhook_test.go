package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MegaGrindStone/poolsight/internal/models"
	"github.com/MegaGrindStone/poolsight/internal/services"
)

func TestWebhookAnalyze(t *testing.T) {
	var gotAuth, gotSub, gotName, gotType string
	var gotImage []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/webhook/chat" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotSub = r.FormValue("sub")
		f, hdr, err := r.FormFile("image")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()
		gotName = hdr.Filename
		gotType = hdr.Header.Get("Content-Type")
		gotImage, _ = io.ReadAll(f)

		_, _ = w.Write([]byte(`<iframe srcdoc="Looks &amp; feels fine"></iframe>`))
	}))
	defer srv.Close()

	wh := services.NewWebhook(srv.URL+"/webhook/", time.Second, discardLogger())
	reply, err := wh.Analyze(context.Background(), models.AnalysisRequest{
		Subject: "auth0|1",
		Token:   "tok",
		Image:   models.Upload{Name: "pool.png", ContentType: "image/png", Data: []byte("png-bytes")},
	})
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}

	if reply != `<iframe srcdoc="Looks &amp; feels fine"></iframe>` {
		t.Errorf("Analyze() = %q, want the raw body", reply)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization = %q, want Bearer tok", gotAuth)
	}
	if gotSub != "auth0|1" {
		t.Errorf("sub = %q, want auth0|1", gotSub)
	}
	if gotName != "pool.png" || gotType != "image/png" || string(gotImage) != "png-bytes" {
		t.Errorf("image = (%q, %q, %q), want the uploaded file", gotName, gotType, gotImage)
	}
}

func TestWebhookAnalyzeErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{
			name:    "Server error",
			status:  http.StatusInternalServerError,
			body:    "boom",
			wantMsg: "chat failed: 500",
		},
		{
			name:    "Declined",
			status:  http.StatusUnprocessableEntity,
			body:    "AI is unable to analyze this image\n",
			wantMsg: "AI is unable to analyze this image",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			wh := services.NewWebhook(srv.URL, time.Second, discardLogger())
			_, err := wh.Analyze(context.Background(), models.AnalysisRequest{Subject: "s", Token: "t"})

			var statusErr *services.StatusError
			if !errors.As(err, &statusErr) {
				t.Fatalf("Analyze() error = %v, want StatusError", err)
			}
			if statusErr.Code != tt.status {
				t.Errorf("Code = %d, want %d", statusErr.Code, tt.status)
			}
			if err.Error() != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestWebhookAnalyzeTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	wh := services.NewWebhook(srv.URL, time.Second, discardLogger())
	if _, err := wh.Analyze(context.Background(), models.AnalysisRequest{}); err == nil {
		t.Error("Analyze() should fail when the service is unreachable")
	}
}

func TestWebhookAnalyzeReplyTooLarge(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		wantErr bool
	}{
		{name: "At the limit", size: services.MaxReplySize},
		{name: "Over the limit", size: services.MaxReplySize + 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = io.WriteString(w, strings.Repeat("a", tt.size))
			}))
			defer srv.Close()

			wh := services.NewWebhook(srv.URL, 5*time.Second, discardLogger())
			reply, err := wh.Analyze(context.Background(), models.AnalysisRequest{
				Subject: "sub-1",
				Token:   "tok",
				Image:   models.Upload{Name: "pool.jpg", ContentType: "image/jpeg", Data: []byte("jpeg")},
			})
			if tt.wantErr {
				if !errors.Is(err, services.ErrReplyTooLarge) {
					t.Errorf("Analyze() error = %v, want ErrReplyTooLarge", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Analyze() error = %v", err)
			}
			if len(reply) != tt.size {
				t.Errorf("reply length = %d, want %d", len(reply), tt.size)
			}
		})
	}
}

func TestWebhookSyncUser(t *testing.T) {
	var gotAuth string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/create-user" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"Nickname":"ege sumer","PoolType":"salt","PoolSize":"medium","Location":"outdoor"}`))
	}))
	defer srv.Close()

	wh := services.NewWebhook(srv.URL, time.Second, discardLogger())

	p, err := wh.SyncUser(context.Background(), "", "auth0|1")
	if err != nil {
		t.Fatalf("SyncUser() error = %v", err)
	}
	want := models.Profile{
		Nickname: "Ege Sumer",
		AgentID:  services.UnknownAgentID,
		Pool:     models.PoolSettings{PoolType: "salt", PoolSize: "medium", Location: "outdoor"},
	}
	if p != want {
		t.Errorf("SyncUser() = %+v, want %+v", p, want)
	}
	if gotAuth != "" {
		t.Errorf("Authorization = %q, want none without a token", gotAuth)
	}
	if gotBody["sub"] != "auth0|1" {
		t.Errorf("body = %v, want sub", gotBody)
	}

	if _, err := wh.SyncUser(context.Background(), "tok", "auth0|1"); err != nil {
		t.Fatal(err)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization = %q, want Bearer tok", gotAuth)
	}
}

func TestWebhookUpdates(t *testing.T) {
	bodies := make(map[string]map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		bodies[r.URL.Path] = body
		if r.URL.Path == "/update-user" && body["nickname"] == "fail" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	wh := services.NewWebhook(srv.URL, time.Second, discardLogger())

	err := wh.UpdatePool(context.Background(), "s", models.PoolSettings{PoolType: "salt", PoolSize: "small", Location: "indoor"})
	if err != nil {
		t.Fatalf("UpdatePool() error = %v", err)
	}
	want := map[string]string{"sub": "s", "poolType": "salt", "poolSize": "small", "location": "indoor"}
	for k, v := range want {
		if bodies["/update-pool"][k] != v {
			t.Errorf("update-pool %s = %q, want %q", k, bodies["/update-pool"][k], v)
		}
	}

	if err := wh.UpdateProfile(context.Background(), "s", "  Ege  "); err != nil {
		t.Fatalf("UpdateProfile() error = %v", err)
	}
	if bodies["/update-user"]["nickname"] != "Ege" {
		t.Errorf("nickname = %q, want trimmed", bodies["/update-user"]["nickname"])
	}

	err = wh.UpdateProfile(context.Background(), "s", "fail")
	if err == nil || err.Error() != "update-user failed: 502" {
		t.Errorf("UpdateProfile() error = %v, want update-user failed: 502", err)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
