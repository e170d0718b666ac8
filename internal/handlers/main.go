package handlers

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MegaGrindStone/poolsight"
	"github.com/MegaGrindStone/poolsight/internal/format"
	"github.com/MegaGrindStone/poolsight/internal/models"
	"github.com/MegaGrindStone/poolsight/internal/profile"
	"github.com/MegaGrindStone/poolsight/internal/session"
	"github.com/tmaxmax/go-sse"
)

// ProfileUpdater stores the settings a user edits. It may be nil when no profile service is
// configured, in which case settings are only kept for the session.
type ProfileUpdater interface {
	UpdatePool(ctx context.Context, subject string, settings models.PoolSettings) error
	UpdateProfile(ctx context.Context, subject, nickname string) error
}

// IdentityFunc resolves the identity behind a request.
type IdentityFunc func(r *http.Request) session.IdentityProvider

// Main handles the web interface: it owns the SSE server and the templates, and connects requests to
// the session registry and the uploader.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template

	registry *session.Registry
	uploader session.Uploader
	profiles ProfileUpdater
	identify IdentityFunc

	logger *slog.Logger
}

type homePageData struct {
	Nickname  string
	AgentID   string
	Pool      models.PoolSettings
	Composing bool
	Messages  []message
}

type message struct {
	ID        string
	Role      string
	Text      string
	ImageURL  string
	Pending   bool
	Timestamp time.Time
}

// SSE event types for real-time updates.
var (
	messagesSSEType = sse.Type("messages")
)

const errLoggerKey = "err"

// NewMain creates a new Main instance. It parses the required HTML templates from the embedded
// filesystem and configures the SSE server so every client subscribes to the conversation of the
// identity its request carries.
func NewMain(
	registry *session.Registry,
	uploader session.Uploader,
	profiles ProfileUpdater,
	identify IdentityFunc,
	logger *slog.Logger,
) (Main, error) {
	// We parse templates from three distinct directories to separate layout, pages, and partial views
	tmpl, err := template.New("").Funcs(template.FuncMap{
		"formatReply":   format.HTML,
		"poolTypes":     func() []profile.Option { return profile.PoolTypes },
		"poolSizes":     func() []profile.Option { return profile.PoolSizes },
		"poolLocations": func() []profile.Option { return profile.Locations },
	}).ParseFS(
		poolsight.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return Main{}, err
	}

	logger = logger.With(slog.String("module", "handlers"))

	return Main{
		sseSrv: &sse.Server{
			OnSession: func(s *sse.Session) (sse.Subscription, bool) {
				sub, err := identify(s.Req).Subject(s.Req.Context())
				if err != nil {
					logger.Warn("Rejecting SSE session without identity", slog.String(errLoggerKey, err.Error()))
					return sse.Subscription{}, false
				}

				return sse.Subscription{
					Client:      s,
					LastEventID: s.LastEventID,
					Topics:      []string{sse.DefaultTopic, conversationTopic(sub)},
				}, true
			},
		},
		templates: tmpl,
		registry:  registry,
		uploader:  uploader,
		profiles:  profiles,
		identify:  identify,
		logger:    logger,
	}, nil
}

func conversationTopic(subject string) string {
	return fmt.Sprintf("conversation-%s", subject)
}

// HandleSSE serves the server-sent events stream.
func (m Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	m.sseSrv.ServeHTTP(w, r)
}

// Shutdown gracefully terminates the Main instance's SSE server and signs every user out. It broadcasts
// a close message to all connected clients and waits up to 5 seconds for connections to terminate.
// After the timeout, any remaining connections are forcefully closed.
func (m Main) Shutdown(ctx context.Context) error {
	e := &sse.Message{Type: sse.Type("closeChat")}
	// We create a close event that complies with SSE spec requiring data
	e.AppendData("bye")

	// We ignore the error here since we're shutting down anyway
	_ = m.sseSrv.Publish(e)

	m.registry.Close()

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}

// context resolves the session context of the user behind r, signing them in on first use.
func (m Main) context(r *http.Request) (*session.Context, session.IdentityProvider, error) {
	idp := m.identify(r)
	sc, err := m.registry.Begin(r.Context(), idp)
	if err != nil {
		return nil, nil, err
	}
	return sc, idp, nil
}

func (m Main) pageData(sc *session.Context) homePageData {
	p := sc.Profile()
	return homePageData{
		Nickname:  p.Nickname,
		AgentID:   p.AgentID,
		Pool:      p.Pool,
		Composing: sc.Composing(),
		Messages:  messages(sc.Store.Snapshot()),
	}
}

func messages(entries []models.Entry) []message {
	msgs := make([]message, len(entries))
	for i, e := range entries {
		msgs[i] = message{
			ID:        e.ID,
			Role:      string(e.Role),
			Text:      e.Text,
			ImageURL:  e.ImageURL(),
			Pending:   e.Pending(),
			Timestamp: e.Timestamp,
		}
	}
	return msgs
}

// publishConversation pushes the rendered conversation of sc to the subject's SSE clients.
func (m Main) publishConversation(sc *session.Context) {
	var sb strings.Builder
	if err := m.templates.ExecuteTemplate(&sb, "chatbox", m.pageData(sc)); err != nil {
		m.logger.Error("Failed to render chatbox",
			slog.String("subject", sc.Subject),
			slog.String(errLoggerKey, err.Error()))
		return
	}

	msg := sse.Message{
		Type: messagesSSEType,
	}
	msg.AppendData(sb.String())
	if err := m.sseSrv.Publish(&msg, conversationTopic(sc.Subject)); err != nil {
		m.logger.Error("Failed to publish conversation",
			slog.String("subject", sc.Subject),
			slog.String(errLoggerKey, err.Error()))
	}
}
