// Package session runs image-analysis exchanges against a conversation.
//
// An exchange moves through Idle, Sending, then either Reconciling or Failed, and always ends in Done.
// Starting one inserts the user's photo entry and a pending assistant placeholder; finishing one
// replaces that placeholder, and only that placeholder, with the reply or with an error.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MegaGrindStone/poolsight/internal/conversation"
	"github.com/MegaGrindStone/poolsight/internal/models"
	"github.com/MegaGrindStone/poolsight/internal/reply"
	"github.com/google/uuid"
)

// Analyzer sends a photo to the analysis service and returns the raw reply body. A non-successful
// response must be reported as an error.
type Analyzer interface {
	Analyze(ctx context.Context, req models.AnalysisRequest) (string, error)
}

// ImageAllocator creates a displayable local view of an uploaded image.
type ImageAllocator interface {
	Allocate(ctx context.Context, file models.Upload) (models.ImageRef, error)
}

// IdentityProvider supplies the signed-in user's subject and bearer token. Either may be unavailable on
// any given attempt.
type IdentityProvider interface {
	Subject(ctx context.Context) (string, error)
	Token(ctx context.Context) (string, error)
}

// State is the stage an exchange is in.
type State int

const (
	// StateIdle is an exchange that hasn't started.
	StateIdle State = iota
	// StateSending is an exchange waiting for the analysis service.
	StateSending
	// StateReconciling is an exchange applying a reply to the conversation.
	StateReconciling
	// StateFailed is an exchange turning its placeholder into an error entry.
	StateFailed
	// StateDone is a finished exchange.
	StateDone
)

var (
	// ErrNoFile is returned when an exchange is started without a selected photo.
	ErrNoFile = errors.New("no image selected")
	// ErrInFlight is returned when an exchange is started while another one from the same context is
	// still running.
	ErrInFlight = errors.New("an upload is already in progress")
	// ErrNoToken is returned when the identity provider has no bearer token.
	ErrNoToken = errors.New("ID token not available for image upload")
	// ErrNoSubject is returned when the identity provider has no subject.
	ErrNoSubject = errors.New("user sub not available for image upload")
	// ErrEmptyReply is the failure recorded when the service answers with an empty body.
	ErrEmptyReply = errors.New("AI did not respond")
	// ErrAlreadyRun is returned when Run is called on an exchange more than once.
	ErrAlreadyRun = errors.New("exchange already run")
)

const errLoggerKey = "err"

// Uploader starts exchanges. The zero value is not usable; use NewUploader.
type Uploader struct {
	analyzer Analyzer
	images   ImageAllocator

	logger *slog.Logger
}

// Exchange is one photo sent for analysis and the conversation changes it causes.
type Exchange struct {
	uploader Uploader
	sc       *Context
	request  models.AnalysisRequest

	userID        string
	placeholderID string

	mu    sync.Mutex
	state State
	file  *models.Upload
	ran   bool
}

// Result describes how an exchange ended. Err is the failure shown in the conversation, if any; it has
// already been handled and is returned for diagnostics only.
type Result struct {
	Segments int
	Err      error
}

// NewUploader creates an Uploader that sends photos with analyzer and keeps their local views in images.
func NewUploader(analyzer Analyzer, images ImageAllocator, logger *slog.Logger) Uploader {
	return Uploader{
		analyzer: analyzer,
		images:   images,
		logger:   logger.With(slog.String("module", "session")),
	}
}

// Send starts an exchange for the photo selected in sc and runs it to completion.
func (u Uploader) Send(ctx context.Context, sc *Context, idp IdentityProvider) (Result, error) {
	ex, err := u.Begin(ctx, sc, idp)
	if err != nil {
		return Result{}, err
	}
	return ex.Run(ctx), nil
}

// Begin starts an exchange for the photo selected in sc. It requires a selected photo, no other exchange
// in flight on sc, and both a token and a subject from idp; if any of these is missing, the conversation
// is left untouched. A missing token or subject also drops the selection, while an allocation failure
// keeps it.
//
// On success the user's photo entry and a placeholder are appended, in that order, and sc starts
// composing. The returned exchange must be Run.
func (u Uploader) Begin(ctx context.Context, sc *Context, idp IdentityProvider) (*Exchange, error) {
	file, err := sc.claim()
	if err != nil {
		return nil, err
	}

	req, err := u.request(ctx, idp, *file)
	if err != nil {
		sc.release()
		return nil, err
	}

	image, err := u.images.Allocate(ctx, *file)
	if err != nil {
		sc.unclaim(file)
		return nil, fmt.Errorf("failed to allocate image: %w", err)
	}

	ex := &Exchange{
		uploader:      u,
		sc:            sc,
		request:       req,
		userID:        uuid.New().String(),
		placeholderID: uuid.New().String(),
		state:         StateSending,
		file:          file,
	}

	now := time.Now()
	sc.Store.Append(models.Entry{
		ID:        ex.userID,
		Role:      models.RoleUser,
		Text:      models.ImageSentText,
		Timestamp: now,
		Image:     image,
	})
	sc.Store.Append(models.Entry{
		ID:        ex.placeholderID,
		Role:      models.RoleAssistant,
		Text:      models.PlaceholderText,
		Timestamp: now,
	})
	sc.startComposing()

	u.logger.Debug("Exchange started",
		slog.String("subject", req.Subject),
		slog.String("placeholderID", ex.placeholderID),
		slog.Int("imageBytes", len(file.Data)))

	return ex, nil
}

func (u Uploader) request(ctx context.Context, idp IdentityProvider, file models.Upload) (models.AnalysisRequest, error) {
	token, err := idp.Token(ctx)
	if err != nil {
		return models.AnalysisRequest{}, fmt.Errorf("%w: %w", ErrNoToken, err)
	}
	if token == "" {
		return models.AnalysisRequest{}, ErrNoToken
	}

	sub, err := idp.Subject(ctx)
	if err != nil {
		return models.AnalysisRequest{}, fmt.Errorf("%w: %w", ErrNoSubject, err)
	}
	if sub == "" {
		return models.AnalysisRequest{}, ErrNoSubject
	}

	return models.AnalysisRequest{
		Subject: sub,
		Token:   token,
		Image:   file,
	}, nil
}

// Run sends the photo and applies the outcome to the conversation. On success the placeholder takes the
// first reply segment and every further segment is appended as a new assistant entry. On failure the
// placeholder takes an error message. Either way the exchange releases its photo and the context stops
// composing, exactly once.
func (e *Exchange) Run(ctx context.Context) (res Result) {
	e.mu.Lock()
	if e.ran {
		e.mu.Unlock()
		return Result{Err: ErrAlreadyRun}
	}
	e.ran = true
	e.mu.Unlock()

	defer e.finish()
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("exchange panic: %v", r)
			e.uploader.logger.Error("Exchange panicked",
				slog.String("placeholderID", e.placeholderID),
				slog.String(errLoggerKey, err.Error()))
			e.fail(err)
			res = Result{Err: err}
		}
	}()

	raw, err := e.uploader.analyzer.Analyze(ctx, e.request)
	if err == nil && strings.TrimSpace(raw) == "" {
		err = ErrEmptyReply
	}
	if err != nil {
		e.uploader.logger.Error("Image analysis failed",
			slog.String("subject", e.request.Subject),
			slog.String(errLoggerKey, err.Error()))
		e.fail(err)
		return Result{Err: err}
	}

	e.setState(StateReconciling)
	segments := reply.Decode(raw)
	e.reconcile(segments)

	return Result{Segments: len(segments)}
}

func (e *Exchange) reconcile(segments []string) {
	store := e.sc.Store

	err := store.UpdateByID(e.placeholderID, func(string) string { return segments[0] })
	if errors.Is(err, conversation.ErrStoreClosed) {
		e.uploader.logger.Info("Conversation closed, reply dropped",
			slog.String("placeholderID", e.placeholderID))
		return
	}
	if err != nil {
		e.uploader.logger.Error("Placeholder not found, reply dropped",
			slog.String("placeholderID", e.placeholderID),
			slog.Int("segments", len(segments)),
			slog.String(errLoggerKey, err.Error()))
		return
	}

	for _, seg := range segments[1:] {
		store.Append(models.Entry{
			ID:        uuid.New().String(),
			Role:      models.RoleAssistant,
			Text:      seg,
			Timestamp: time.Now(),
		})
	}
}

func (e *Exchange) fail(cause error) {
	e.setState(StateFailed)

	text := ErrorText(cause)
	err := e.sc.Store.UpdateByID(e.placeholderID, func(string) string { return text })
	if err == nil {
		return
	}
	if errors.Is(err, conversation.ErrStoreClosed) {
		e.uploader.logger.Info("Conversation closed, failure dropped",
			slog.String("placeholderID", e.placeholderID),
			slog.String(errLoggerKey, cause.Error()))
		return
	}

	e.uploader.logger.Error("Placeholder not found, appending error entry",
		slog.String("placeholderID", e.placeholderID),
		slog.String(errLoggerKey, err.Error()))
	e.sc.Store.Append(models.Entry{
		ID:        uuid.New().String(),
		Role:      models.RoleAssistant,
		Text:      text,
		Timestamp: time.Now(),
	})
}

func (e *Exchange) finish() {
	e.mu.Lock()
	e.file = nil
	e.state = StateDone
	e.mu.Unlock()

	e.sc.finish()
}

func (e *Exchange) setState(s State) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state = s
}

// State returns the stage the exchange is in.
func (e *Exchange) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.state
}

// File returns the photo being sent, or nil once the exchange is done.
func (e *Exchange) File() *models.Upload {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.file
}

// PlaceholderID returns the ID of the assistant entry reserved for the reply.
func (e *Exchange) PlaceholderID() string {
	return e.placeholderID
}

// UserEntryID returns the ID of the user's photo entry.
func (e *Exchange) UserEntryID() string {
	return e.userID
}

// ErrorText is the conversation text for a failed exchange. A failure in which the service declined to
// analyze the photo reads as a confused reply; anything else reads as an error with a retry hint.
func ErrorText(err error) string {
	msg := err.Error()
	if strings.Contains(msg, models.DeclineMarker) {
		return "🤔 " + msg
	}
	return "❌ " + msg + ". Please try again."
}

// String returns the name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateReconciling:
		return "reconciling"
	case StateFailed:
		return "failed"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}
