package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MegaGrindStone/poolsight/internal/models"
	"github.com/MegaGrindStone/poolsight/internal/session"
)

// MaxImageSize is the largest photo accepted for analysis.
const MaxImageSize = 10 << 20

var acceptedImageTypes = []string{"image/png", "image/jpeg"}

// HandleUploads accepts a photo through a multipart POST request and starts its analysis. It expects
// the photo in the "image" form field.
//
// The user's photo entry and the pending reply are rendered right away; the exchange itself runs in
// the background and the reconciled conversation is pushed to the user's SSE clients when it ends.
//
// The handler returns 400 for a missing or unsupported photo, 401 when the identity or token can't be
// resolved, and 409 while another photo from the same user is still being analyzed.
func (m Main) HandleUploads(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sc, idp, err := m.context(r)
	if err != nil {
		m.logger.Warn("Upload without identity", slog.String(errLoggerKey, err.Error()))
		http.Error(w, "Sign in required", http.StatusUnauthorized)
		return
	}

	upload, err := readImage(w, r)
	if err != nil {
		m.logger.Error("Invalid upload",
			slog.String("subject", sc.Subject),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sc.Select(upload)
	ex, err := m.uploader.Begin(r.Context(), sc, idp)
	if err != nil {
		m.logger.Error("Failed to start exchange",
			slog.String("subject", sc.Subject),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), beginStatus(err))
		return
	}

	// The exchange outlives the request; it has no mid-flight cancellation.
	go m.exchange(sc, ex)

	entries := sc.Store.Snapshot()
	var started []models.Entry
	for _, e := range entries {
		if e.ID == ex.UserEntryID() || e.ID == ex.PlaceholderID() {
			started = append(started, e)
		}
	}
	if err := m.templates.ExecuteTemplate(w, "exchange", messages(started)); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (m Main) exchange(sc *session.Context, ex *session.Exchange) {
	res := ex.Run(context.Background())
	if res.Err != nil {
		m.logger.Warn("Exchange failed",
			slog.String("subject", sc.Subject),
			slog.String("placeholderID", ex.PlaceholderID()),
			slog.String(errLoggerKey, res.Err.Error()))
	} else {
		m.logger.Info("Exchange done",
			slog.String("subject", sc.Subject),
			slog.Int("segments", res.Segments))
	}

	m.publishConversation(sc)
}

func readImage(w http.ResponseWriter, r *http.Request) (models.Upload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxImageSize+1<<20)

	f, hdr, err := r.FormFile("image")
	if err != nil {
		return models.Upload{}, fmt.Errorf("image is required: %w", err)
	}
	defer f.Close()

	if hdr.Size > MaxImageSize {
		return models.Upload{}, fmt.Errorf("image is larger than %d MB", MaxImageSize>>20)
	}

	data, err := io.ReadAll(io.LimitReader(f, MaxImageSize+1))
	if err != nil {
		return models.Upload{}, fmt.Errorf("failed to read image: %w", err)
	}
	if len(data) > MaxImageSize {
		return models.Upload{}, fmt.Errorf("image is larger than %d MB", MaxImageSize>>20)
	}

	contentType := http.DetectContentType(data)
	if !accepted(contentType) {
		return models.Upload{}, fmt.Errorf("unsupported image type %s", contentType)
	}

	return models.Upload{
		Name:        hdr.Filename,
		ContentType: contentType,
		Data:        data,
	}, nil
}

func accepted(contentType string) bool {
	for _, t := range acceptedImageTypes {
		if strings.HasPrefix(contentType, t) {
			return true
		}
	}
	return false
}

func beginStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrInFlight):
		return http.StatusConflict
	case errors.Is(err, session.ErrNoToken), errors.Is(err, session.ErrNoSubject):
		return http.StatusUnauthorized
	case errors.Is(err, session.ErrNoFile):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
