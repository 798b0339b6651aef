// Package web serves the management API: clip and phrase CRUD, voice
// channel control, status, health probes, and the Prometheus metrics
// endpoint.
//
// Audio uploads land in the clips directory under a random file name; the
// original name is only kept as metadata. After an upload the server
// transcribes the clip in the background so the clip's own speech can act as
// a trigger.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/heckle/internal/catalog"
	"github.com/MrWong99/heckle/internal/engine/segment"
	"github.com/MrWong99/heckle/internal/health"
	"github.com/MrWong99/heckle/internal/observe"
)

// maxUploadBytes caps clip uploads at 32 MiB.
const maxUploadBytes = 32 << 20

// speechDetectTimeout bounds the background transcription of an uploaded
// clip.
const speechDetectTimeout = 2 * time.Minute

// VoiceController is the engine surface the API drives.
type VoiceController interface {
	Join(ctx context.Context, channelID string) error
	Leave(channelID string) error
	Channels() []string
	RefreshCatalog(ctx context.Context) error
}

// Transcriber turns an utterance into text. Satisfied by the transcription
// gateway.
type Transcriber interface {
	Transcribe(ctx context.Context, u segment.Utterance) (string, error)
}

// Server is the management API. Construct with New, serve via Router.
type Server struct {
	store       catalog.Store
	voice       VoiceController
	transcriber Transcriber
	probes      *health.Handler
	metrics     *observe.Metrics
	clipsDir    string
}

// New creates a Server. transcriber may be nil to disable clip speech
// detection; probes may be nil to skip health endpoints.
func New(store catalog.Store, voice VoiceController, transcriber Transcriber, probes *health.Handler, metrics *observe.Metrics, clipsDir string) *Server {
	return &Server{
		store:       store,
		voice:       voice,
		transcriber: transcriber,
		probes:      probes,
		metrics:     metrics,
		clipsDir:    clipsDir,
	}
}

// Router builds the HTTP handler with all routes attached.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	if s.metrics != nil {
		r.Use(observe.HTTPMiddleware(s.metrics, func(req *http.Request) string {
			if rc := chi.RouteContext(req.Context()); rc != nil {
				return rc.RoutePattern()
			}
			return ""
		}))
	}

	if s.probes != nil {
		s.probes.Mount(r)
	}
	r.Method("GET", "/metrics", promhttp.Handler())

	r.Get("/v1/status", s.handleStatus)

	r.Post("/v1/channels/{id}/join", s.handleJoin)
	r.Post("/v1/channels/{id}/leave", s.handleLeave)

	r.Get("/v1/clips", s.handleListClips)
	r.Post("/v1/clips", s.handleUploadClip)
	r.Get("/v1/clips/{id}", s.handleGetClip)
	r.Put("/v1/clips/{id}", s.handleUpdateClip)
	r.Delete("/v1/clips/{id}", s.handleDeleteClip)

	r.Get("/v1/clips/{id}/phrases", s.handleListPhrases)
	r.Post("/v1/clips/{id}/phrases", s.handleAddPhrase)
	r.Delete("/v1/phrases/{id}", s.handleDeletePhrase)

	return r
}

// ─── Status and voice control ───────────────────────────────────────────────

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	clips, err := s.store.ListClips(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"channels": s.voice.Channels(),
		"clips":    len(clips),
	})
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_channel_id", "missing channel id")
		return
	}
	if err := s.voice.Join(r.Context(), id); err != nil {
		respondError(w, http.StatusConflict, "join_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"channel": id, "joined": true})
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_channel_id", "missing channel id")
		return
	}
	if err := s.voice.Leave(id); err != nil {
		respondError(w, http.StatusNotFound, "leave_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"channel": id, "joined": false})
}

// ─── Clips ──────────────────────────────────────────────────────────────────

type clipJSON struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	Description      string    `json:"description,omitempty"`
	OriginalFileName string    `json:"original_file_name,omitempty"`
	SpeechDetected   string    `json:"speech_detected,omitempty"`
	Plays            int64     `json:"plays"`
	CreatedOn        time.Time `json:"created_on"`
	LastPlayed       time.Time `json:"last_played"`
	Phrases          []string  `json:"phrases,omitempty"`
}

func toClipJSON(c catalog.Clip, phrases []catalog.Phrase) clipJSON {
	out := clipJSON{
		ID:               c.ID.String(),
		Title:            c.Title,
		Description:      c.Description,
		OriginalFileName: c.OriginalFileName,
		SpeechDetected:   c.SpeechDetected,
		Plays:            c.Plays,
		CreatedOn:        c.CreatedOn,
		LastPlayed:       c.LastPlayed,
	}
	for _, p := range phrases {
		out.Phrases = append(out.Phrases, p.Phrase)
	}
	return out
}

func (s *Server) handleListClips(w http.ResponseWriter, r *http.Request) {
	clips, err := s.store.ListClips(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_failed", err.Error())
		return
	}
	out := make([]clipJSON, 0, len(clips))
	for _, c := range clips {
		out = append(out, toClipJSON(c, nil))
	}
	respondJSON(w, http.StatusOK, map[string]any{"clips": out})
}

func (s *Server) handleGetClip(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	clip, err := s.store.GetClip(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	phrases, err := s.store.PhrasesForClip(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, toClipJSON(*clip, phrases))
}

func (s *Server) handleUploadClip(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_upload", err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_upload", "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	clipID := uuid.New()
	fileName := clipID.String() + strings.ToLower(filepath.Ext(header.Filename))
	path := filepath.Join(s.clipsDir, fileName)
	if err := saveUpload(path, file); err != nil {
		respondError(w, http.StatusInternalServerError, "save_failed", err.Error())
		return
	}

	title := strings.TrimSpace(r.FormValue("title"))
	if title == "" {
		title = strings.TrimSuffix(header.Filename, filepath.Ext(header.Filename))
	}
	clip := &catalog.Clip{
		ID:               clipID,
		AudioFile:        fileName,
		OriginalFileName: header.Filename,
		Title:            title,
		Description:      strings.TrimSpace(r.FormValue("description")),
	}
	if err := s.store.AddClip(r.Context(), clip); err != nil {
		os.Remove(path)
		respondError(w, http.StatusInternalServerError, "store_failed", err.Error())
		return
	}

	var phrases []catalog.Phrase
	for _, raw := range r.Form["phrase"] {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		p := catalog.Phrase{ID: uuid.New(), ClipID: clipID, Phrase: raw}
		if err := s.store.AddPhrase(r.Context(), &p); err != nil {
			respondError(w, http.StatusInternalServerError, "store_failed", err.Error())
			return
		}
		phrases = append(phrases, p)
	}

	s.refreshCatalog(r.Context())
	if s.transcriber != nil {
		go s.detectSpeech(clipID, path)
	}

	slog.Info("clip uploaded", "clip", clipID, "file", header.Filename, "phrases", len(phrases))
	respondJSON(w, http.StatusCreated, toClipJSON(*clip, phrases))
}

func (s *Server) handleUpdateClip(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Title       *string `json:"title"`
		Description *string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	clip, err := s.store.GetClip(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if req.Title != nil {
		clip.Title = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		clip.Description = strings.TrimSpace(*req.Description)
	}
	if err := s.store.UpdateClip(r.Context(), clip); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toClipJSON(*clip, nil))
}

func (s *Server) handleDeleteClip(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	clip, err := s.store.GetClip(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if err := s.store.RemoveClip(r.Context(), id); err != nil {
		respondError(w, http.StatusInternalServerError, "store_failed", err.Error())
		return
	}
	if err := os.Remove(filepath.Join(s.clipsDir, clip.AudioFile)); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("clip file removal failed", "clip", id, "err", err)
	}
	s.refreshCatalog(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// ─── Phrases ────────────────────────────────────────────────────────────────

type phraseJSON struct {
	ID        string    `json:"id"`
	ClipID    string    `json:"clip_id"`
	Phrase    string    `json:"phrase"`
	CreatedOn time.Time `json:"created_on"`
}

func (s *Server) handleListPhrases(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	if _, err := s.store.GetClip(r.Context(), id); err != nil {
		respondStoreError(w, err)
		return
	}
	phrases, err := s.store.PhrasesForClip(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_failed", err.Error())
		return
	}
	out := make([]phraseJSON, 0, len(phrases))
	for _, p := range phrases {
		out = append(out, phraseJSON{ID: p.ID.String(), ClipID: p.ClipID.String(), Phrase: p.Phrase, CreatedOn: p.CreatedOn})
	}
	respondJSON(w, http.StatusOK, map[string]any{"phrases": out})
}

func (s *Server) handleAddPhrase(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Phrase string `json:"phrase"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Phrase) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "phrase is required")
		return
	}
	if _, err := s.store.GetClip(r.Context(), id); err != nil {
		respondStoreError(w, err)
		return
	}

	p := catalog.Phrase{ID: uuid.New(), ClipID: id, Phrase: req.Phrase}
	if err := s.store.AddPhrase(r.Context(), &p); err != nil {
		respondError(w, http.StatusInternalServerError, "store_failed", err.Error())
		return
	}
	s.refreshCatalog(r.Context())
	respondJSON(w, http.StatusCreated, phraseJSON{ID: p.ID.String(), ClipID: p.ClipID.String(), Phrase: p.Phrase, CreatedOn: p.CreatedOn})
}

func (s *Server) handleDeletePhrase(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	if err := s.store.RemovePhrase(r.Context(), id); err != nil {
		respondError(w, http.StatusInternalServerError, "store_failed", err.Error())
		return
	}
	s.refreshCatalog(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// refreshCatalog swaps in a fresh matcher snapshot after a catalog change.
func (s *Server) refreshCatalog(ctx context.Context) {
	if err := s.voice.RefreshCatalog(ctx); err != nil {
		slog.Warn("catalog refresh failed", "err", err)
	}
}

func saveUpload(path string, src io.Reader) error {
	dst, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("web: create clip file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(path)
		return fmt.Errorf("web: write clip file: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("web: close clip file: %w", err)
	}
	return nil
}

func parseID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_id", "not a valid uuid")
		return uuid.UUID{}, false
	}
	return id, true
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response encode failed", "err", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func respondStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, catalog.ErrNotFound) {
		respondError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	respondError(w, http.StatusInternalServerError, "store_failed", err.Error())
}
