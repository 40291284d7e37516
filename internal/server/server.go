// Package server exposes the sync engine to the local UI over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	apperrors "github.com/shelfsync/shelfsync/internal/errors"
	"github.com/shelfsync/shelfsync/internal/models"
	"github.com/shelfsync/shelfsync/internal/syncer"
)

const (
	// maxRequestBody caps request bodies. Items are small; a whole
	// collection is never posted.
	maxRequestBody = 1 << 20

	defaultBackupReason = "manual backup"
)

// Config holds dependencies for building the router.
type Config struct {
	Registry *syncer.Registry
	Shares   *syncer.Shares
	Hub      *Hub
	Logger   *slog.Logger
}

type api struct {
	registry *syncer.Registry
	shares   *syncer.Shares
	hub      *Hub
	logger   *slog.Logger
}

// NewRouter builds the UI API.
func NewRouter(cfg Config) http.Handler {
	a := &api{registry: cfg.Registry, shares: cfg.Shares, hub: cfg.Hub, logger: cfg.Logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(cfg.Logger))

	r.Get("/health", a.health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/events", a.hub.ServeHTTP)

		r.Route("/shares", func(r chi.Router) {
			r.Get("/", a.listShares)
			r.Post("/", a.addShare)
			r.Post("/refresh", a.refreshShares)
			r.Delete("/{id}", a.removeShare)
		})

		r.Route("/{domain}", func(r chi.Router) {
			r.Get("/items", a.listItems)
			r.Post("/items", a.upsertItem)
			r.Delete("/items/{id}", a.removeItem)
			r.Post("/sync", a.sync)
			r.Get("/conflict", a.conflict)
			r.Post("/resolve", a.resolve)
			r.Get("/backups", a.listBackups)
			r.Post("/backups", a.createBackup)
			r.Post("/backups/{id}/restore", a.restoreBackup)
		})
	})

	return r
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			logger.Debug("request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusFor maps an engine error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrUnknownDomain), errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrInvalidChoice):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrNoPendingConflict),
		errors.Is(err, apperrors.ErrStaleConflict),
		errors.Is(err, apperrors.ErrSyncInProgress):
		return http.StatusConflict
	case errors.Is(err, apperrors.ErrNotAuthenticated), errors.Is(err, apperrors.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, apperrors.ErrGateway), errors.Is(err, apperrors.ErrMalformedDocument):
		return http.StatusBadGateway
	}

	return http.StatusInternalServerError
}

func decodeJSON(r *http.Request, w http.ResponseWriter, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	dec := json.NewDecoder(r.Body)
	dec.UseNumber()

	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}

	return nil
}

// detached keeps the request's values but not its cancellation, so a
// client hanging up does not abort a remote write halfway.
func detached(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

func (a *api) syncerFor(w http.ResponseWriter, r *http.Request) (*syncer.Syncer, bool) {
	d, err := models.ParseDomain(chi.URLParam(r, "domain"))
	if err == nil {
		var s *syncer.Syncer
		if s, err = a.registry.Get(d); err == nil {
			return s, true
		}
	}

	writeError(w, statusFor(err), err)

	return nil, false
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": a.hub.ClientCount(),
	})
}

func (a *api) listItems(w http.ResponseWriter, r *http.Request) {
	s, ok := a.syncerFor(w, r)
	if !ok {
		return
	}

	items, err := s.Items()
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	status, err := s.Status()
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": items, "status": status})
}

func (a *api) upsertItem(w http.ResponseWriter, r *http.Request) {
	s, ok := a.syncerFor(w, r)
	if !ok {
		return
	}

	var fields map[string]any
	if err := decodeJSON(r, w, &fields); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if fields == nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("item must be a JSON object"))
		return
	}

	id := ""
	switch v := fields["id"].(type) {
	case string:
		id = v
	case json.Number:
		id = v.String()
	}

	delete(fields, "id")
	delete(fields, "lastModified")

	it, err := s.Upsert(models.NewItem(id, "", fields))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	writeJSON(w, http.StatusCreated, it)
}

func (a *api) removeItem(w http.ResponseWriter, r *http.Request) {
	s, ok := a.syncerFor(w, r)
	if !ok {
		return
	}

	found, err := s.Remove(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	if !found {
		writeError(w, http.StatusNotFound, apperrors.ErrNotFound)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (a *api) sync(w http.ResponseWriter, r *http.Request) {
	s, ok := a.syncerFor(w, r)
	if !ok {
		return
	}

	res, err := s.Sync(detached(r), syncer.TriggerManual)
	if errors.Is(err, apperrors.ErrSyncInProgress) {
		writeError(w, http.StatusConflict, err)
		return
	}

	status := http.StatusOK
	if res.Action == syncer.ActionError {
		status = statusFor(err)
	}

	writeJSON(w, status, res)
}

func (a *api) conflict(w http.ResponseWriter, r *http.Request) {
	s, ok := a.syncerFor(w, r)
	if !ok {
		return
	}

	c := s.Pending()

	if r.URL.Query().Get("refresh") != "" {
		var err error
		if c, err = s.DetectConflict(detached(r)); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"conflict": c})
}

type resolveRequest struct {
	Choice string `json:"choice"`
}

func (a *api) resolve(w http.ResponseWriter, r *http.Request) {
	s, ok := a.syncerFor(w, r)
	if !ok {
		return
	}

	var req resolveRequest
	if err := decodeJSON(r, w, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	choice, err := syncer.ParseChoice(req.Choice)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	items, err := s.ResolveConflict(detached(r), choice)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *api) listBackups(w http.ResponseWriter, r *http.Request) {
	s, ok := a.syncerFor(w, r)
	if !ok {
		return
	}

	backups, err := s.Backups()
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	if backups == nil {
		backups = []models.Backup{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"backups": backups})
}

type backupRequest struct {
	Reason string `json:"reason"`
}

func (a *api) createBackup(w http.ResponseWriter, r *http.Request) {
	s, ok := a.syncerFor(w, r)
	if !ok {
		return
	}

	var req backupRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, w, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	if req.Reason == "" {
		req.Reason = defaultBackupReason
	}

	items, err := s.Items()
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	id, err := s.CreateBackup(detached(r), items, req.Reason)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (a *api) restoreBackup(w http.ResponseWriter, r *http.Request) {
	s, ok := a.syncerFor(w, r)
	if !ok {
		return
	}

	items, err := s.RestoreFromBackup(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	if items == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("backup %q: %w", chi.URLParam(r, "id"), apperrors.ErrNotFound))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *api) listShares(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"shares": a.shares.List()})
}

func (a *api) addShare(w http.ResponseWriter, r *http.Request) {
	var sh models.Share
	if err := decodeJSON(r, w, &sh); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if sh.ShareID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("share_id is required"))
		return
	}

	added, err := a.shares.Add(detached(r), sh)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	writeJSON(w, http.StatusCreated, added)
}

func (a *api) removeShare(w http.ResponseWriter, r *http.Request) {
	found, err := a.shares.Remove(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	if !found {
		writeError(w, http.StatusNotFound, apperrors.ErrNotFound)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (a *api) refreshShares(w http.ResponseWriter, r *http.Request) {
	a.shares.Refresh(detached(r))
	writeJSON(w, http.StatusOK, map[string]any{"shares": a.shares.List()})
}
