package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/MegaGrindStone/poolsight/internal/models"
	"github.com/MegaGrindStone/poolsight/internal/profile"
)

// Webhook talks to the assistant's backend workflows: the photo analysis endpoint and the user profile
// endpoints. Every call is a single attempt, bounded by the client timeout.
type Webhook struct {
	baseURL string

	client *http.Client

	logger *slog.Logger
}

// StatusError is returned when a webhook answers with a non-successful status.
type StatusError struct {
	Path string
	Code int
	Body string
}

type webhookUser struct {
	Nickname string `json:"Nickname"`
	AgentID  string `json:"agent_id"`
	PoolType string `json:"PoolType"`
	PoolSize string `json:"PoolSize"`
	Location string `json:"Location"`
}

type webhookPoolUpdate struct {
	Sub string `json:"sub"`
	models.PoolSettings
}

type webhookProfileUpdate struct {
	Sub      string `json:"sub"`
	Nickname string `json:"nickname"`
}

const (
	// DefaultWebhookTimeout bounds a webhook call when no timeout is configured.
	DefaultWebhookTimeout = 90 * time.Second

	// UnknownAgentID is the agent ID of a user the backend hasn't assigned an agent to.
	UnknownAgentID = "unknown"

	// MaxReplySize is the largest reply body accepted from the chat workflow.
	MaxReplySize = 4 << 20

	maxErrorBodyBytes = 64 << 10

	errLoggerKey = "err"
)

// ErrReplyTooLarge is returned when the chat workflow replies with more than MaxReplySize bytes.
var ErrReplyTooLarge = errors.New("reply too large")

// NewWebhook creates a Webhook for the workflows under baseURL. A zero timeout means
// DefaultWebhookTimeout.
func NewWebhook(baseURL string, timeout time.Duration, logger *slog.Logger) Webhook {
	if timeout == 0 {
		timeout = DefaultWebhookTimeout
	}
	return Webhook{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With(slog.String("module", "webhook")),
	}
}

// Analyze sends the photo and the user's subject as a multipart form to the chat workflow, authorized
// with the user's bearer token, and returns the reply body as is.
func (w Webhook) Analyze(ctx context.Context, req models.AnalysisRequest) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	contentType := req.Image.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(req.Image.Data)
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, req.Image.Name))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return "", fmt.Errorf("failed to create image part: %w", err)
	}
	if _, err := part.Write(req.Image.Data); err != nil {
		return "", fmt.Errorf("failed to write image part: %w", err)
	}
	if err := mw.WriteField("sub", req.Subject); err != nil {
		return "", fmt.Errorf("failed to write sub field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to close multipart body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+"/chat", &body)
	if err != nil {
		return "", fmt.Errorf("error creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set("Authorization", "Bearer "+req.Token)

	resp, err := w.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", statusError("/chat", resp)
	}

	reply, err := io.ReadAll(io.LimitReader(resp.Body, MaxReplySize+1))
	if err != nil {
		return "", fmt.Errorf("error reading response: %w", err)
	}
	if len(reply) > MaxReplySize {
		return "", ErrReplyTooLarge
	}

	w.logger.Debug("Chat reply", slog.String("subject", req.Subject), slog.Int("bytes", len(reply)))

	return string(reply), nil
}

// SyncUser registers the user with the backend, creating them on first sign-in, and returns their
// profile. The token is attached only when there is one.
func (w Webhook) SyncUser(ctx context.Context, token, subject string) (models.Profile, error) {
	var user webhookUser
	if err := w.postJSON(ctx, "/create-user", token, map[string]string{"sub": subject}, &user); err != nil {
		return models.Profile{}, err
	}

	p := models.Profile{
		Nickname: profile.FormatName(user.Nickname),
		AgentID:  user.AgentID,
		Pool: models.PoolSettings{
			PoolType: user.PoolType,
			PoolSize: user.PoolSize,
			Location: user.Location,
		},
	}
	if p.AgentID == "" {
		p.AgentID = UnknownAgentID
	}
	return p, nil
}

// UpdatePool stores the user's pool settings.
func (w Webhook) UpdatePool(ctx context.Context, subject string, settings models.PoolSettings) error {
	return w.postJSON(ctx, "/update-pool", "", webhookPoolUpdate{Sub: subject, PoolSettings: settings}, nil)
}

// UpdateProfile stores the user's nickname.
func (w Webhook) UpdateProfile(ctx context.Context, subject, nickname string) error {
	return w.postJSON(ctx, "/update-user", "", webhookProfileUpdate{
		Sub:      subject,
		Nickname: strings.TrimSpace(nickname),
	}, nil)
}

func (w Webhook) postJSON(ctx context.Context, path, token string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("error marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(path, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("error decoding response: %w", err)
	}
	return nil
}

func statusError(path string, resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	return &StatusError{Path: path, Code: resp.StatusCode, Body: string(body)}
}

// Error returns the service's own message when it declined to analyze the photo, and the status code
// otherwise.
func (e *StatusError) Error() string {
	if strings.Contains(e.Body, models.DeclineMarker) {
		return strings.TrimSpace(e.Body)
	}
	return fmt.Sprintf("%s failed: %d", strings.TrimPrefix(e.Path, "/"), e.Code)
}
