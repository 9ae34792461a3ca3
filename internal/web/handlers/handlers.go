package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/DrSmoothl/HMML2/internal/auth"
	"github.com/DrSmoothl/HMML2/internal/chatstream"
	"github.com/DrSmoothl/HMML2/internal/database"
	"github.com/DrSmoothl/HMML2/internal/emoji"
	"github.com/DrSmoothl/HMML2/internal/expression"
	"github.com/DrSmoothl/HMML2/internal/maintenance"
	"github.com/DrSmoothl/HMML2/internal/pathcache"
	"github.com/DrSmoothl/HMML2/internal/personinfo"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// VersionInfo holds application version information
type VersionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// Handlers contains all HTTP handlers
type Handlers struct {
	dbManager   *database.Manager
	expressions *expression.Service
	emojis      *emoji.Service
	persons     *personinfo.Service
	streams     *chatstream.Service
	pathCache   *pathcache.Manager
	audit       *auth.Auditor
	maintenance *maintenance.Scheduler
	startedAt   time.Time

	versionInfo VersionInfo
	versionMu   sync.RWMutex
}

// New creates a new Handlers instance
func New(dbManager *database.Manager, pathCache *pathcache.Manager, audit *auth.Auditor) *Handlers {
	var roots emoji.RootSource
	if pathCache != nil {
		roots = pathCache
	}

	return &Handlers{
		dbManager:   dbManager,
		expressions: expression.NewService(dbManager),
		emojis:      emoji.NewService(dbManager, roots),
		persons:     personinfo.NewService(dbManager),
		streams:     chatstream.NewService(dbManager),
		pathCache:   pathCache,
		audit:       audit,
		startedAt:   time.Now(),
	}
}

// SetMaintenanceScheduler sets the database maintenance scheduler
func (h *Handlers) SetMaintenanceScheduler(s *maintenance.Scheduler) {
	h.maintenance = s
}

// SetVersionInfo sets the application version information
func (h *Handlers) SetVersionInfo(version, commit, date string) {
	h.versionMu.Lock()
	h.versionInfo = VersionInfo{Version: version, Commit: commit, Date: date}
	h.versionMu.Unlock()
}

func (h *Handlers) getVersionInfo() VersionInfo {
	h.versionMu.RLock()
	defer h.versionMu.RUnlock()
	return h.versionInfo
}

// Response is the envelope of every API response.
type Response struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data"`
	Time    int64  `json:"time"`
}

func writeJSON(w http.ResponseWriter, status int, body Response) {
	body.Time = time.Now().UnixMilli()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}

// jsonSuccess sends a success envelope with data
func (h *Handlers) jsonSuccess(w http.ResponseWriter, message string, data any) {
	writeJSON(w, http.StatusOK, Response{Status: "success", Message: message, Data: data})
}

// jsonError sends an error envelope
func (h *Handlers) jsonError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, Response{Status: "error", Message: message})
}

// handleError maps err to a status code and sends it
func (h *Handlers) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	}
	h.jsonError(w, err.Error(), status)
}

// Unauthorized sends the response for a missing or invalid access token
func (h *Handlers) Unauthorized(w http.ResponseWriter, r *http.Request) {
	h.jsonError(w, "invalid or missing access token", http.StatusUnauthorized)
}

// NotFound sends the response for an unknown route
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	h.jsonError(w, "not found", http.StatusNotFound)
}

// StatusFor maps an error to its HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, database.ErrValidation),
		errors.Is(err, pathcache.ErrInvalidPath),
		errors.Is(err, pathcache.ErrAdapterName),
		errors.Is(err, pathcache.ErrAdapterLimit):
		return http.StatusBadRequest
	case errors.Is(err, expression.ErrNotFound),
		errors.Is(err, emoji.ErrNotFound),
		errors.Is(err, emoji.ErrFileNotFound),
		errors.Is(err, personinfo.ErrNotFound),
		errors.Is(err, chatstream.ErrNotFound),
		errors.Is(err, pathcache.ErrAdapterNotFound):
		return http.StatusNotFound
	case errors.Is(err, pathcache.ErrAdapterExists):
		return http.StatusConflict
	case errors.Is(err, database.ErrNotConnected),
		errors.Is(err, emoji.ErrNoMainRoot),
		errors.Is(err, database.ErrConnection),
		errors.Is(err, database.ErrConnectionNotFound):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads a JSON body into v. Failures are validation errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", database.ErrValidation, err)
	}
	return nil
}

// queryInt reads an integer query parameter, falling back to def.
func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", database.ErrValidation, key)
	}
	return n, nil
}

// queryFloat reads an optional float query parameter.
func queryFloat(r *http.Request, key string) (*float64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be a number", database.ErrValidation, key)
	}
	return &f, nil
}

// queryOptionalInt reads an optional integer query parameter.
func queryOptionalInt(r *http.Request, key string) (*int, error) {
	if r.URL.Query().Get(key) == "" {
		return nil, nil
	}
	n, err := queryInt(r, key, 0)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// pageRequest reads page and pageSize, defaulting to the first page of
// size def.
func pageRequest(r *http.Request, def int) (database.PageRequest, error) {
	var p database.PageRequest
	var err error
	if p.Page, err = queryInt(r, "page", 1); err != nil {
		return p, err
	}
	if p.PageSize, err = queryInt(r, "pageSize", def); err != nil {
		return p, err
	}
	return p, nil
}

func pathID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid id %q", database.ErrValidation, raw)
	}
	return id, nil
}
