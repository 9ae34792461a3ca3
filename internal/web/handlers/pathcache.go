package handlers

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/DrSmoothl/HMML2/internal/pathcache"
)

type mainRootRequest struct {
	Path string `json:"path"`
}

type adapterRootRequest struct {
	AdapterName string `json:"adapter_name"`
	RootPath    string `json:"root_path"`
}

// PathCacheGet returns the cached paths.
func (h *Handlers) PathCacheGet(w http.ResponseWriter, r *http.Request) {
	h.jsonSuccess(w, "ok", map[string]any{
		"cache": h.pathCache.Snapshot(),
		"stats": h.pathCache.Stats(),
	})
}

// PathCacheSetMainRoot stores the bot installation directory and
// re-discovers the primary database.
func (h *Handlers) PathCacheSetMainRoot(w http.ResponseWriter, r *http.Request) {
	var req mainRootRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.handleError(w, r, err)
		return
	}

	if err := h.pathCache.SetMainRoot(req.Path); err != nil {
		h.handleError(w, r, err)
		return
	}
	h.reloadDatabases()

	root, _ := h.pathCache.MainRoot()
	h.jsonSuccess(w, "Main root updated", map[string]any{
		"main_root":         root,
		"primary_connected": h.dbManager.IsPrimaryConnected(),
	})
}

// PathCacheClear resets the cache to its defaults.
func (h *Handlers) PathCacheClear(w http.ResponseWriter, r *http.Request) {
	if err := h.pathCache.Clear(); err != nil {
		h.handleError(w, r, err)
		return
	}
	h.jsonSuccess(w, "Path cache cleared", nil)
}

// reloadDatabases applies a path change without waiting for the file
// watcher.
func (h *Handlers) reloadDatabases() {
	if err := h.dbManager.Reload(); err != nil {
		log.Warn().Err(err).Msg("Failed to reload databases after path change")
	}
}

// AdapterList lists the adapter roots.
func (h *Handlers) AdapterList(w http.ResponseWriter, r *http.Request) {
	h.jsonSuccess(w, "ok", h.pathCache.Adapters())
}

// AdapterGet returns one adapter root.
func (h *Handlers) AdapterGet(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	root, ok := h.pathCache.AdapterRoot(name)
	if !ok {
		h.handleError(w, r, fmt.Errorf("%w: %s", pathcache.ErrAdapterNotFound, name))
		return
	}
	h.jsonSuccess(w, "ok", pathcache.AdapterRoot{AdapterName: name, RootPath: root})
}

// AdapterCreate adds an adapter root.
func (h *Handlers) AdapterCreate(w http.ResponseWriter, r *http.Request) {
	var req adapterRootRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.handleError(w, r, err)
		return
	}

	if err := h.pathCache.AddAdapterRoot(req.AdapterName, req.RootPath); err != nil {
		h.handleError(w, r, err)
		return
	}
	h.jsonSuccess(w, "Adapter root added", h.pathCache.Adapters())
}

// AdapterUpdate changes the root of an adapter.
func (h *Handlers) AdapterUpdate(w http.ResponseWriter, r *http.Request) {
	var req adapterRootRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.handleError(w, r, err)
		return
	}

	if err := h.pathCache.UpdateAdapterRoot(chi.URLParam(r, "name"), req.RootPath); err != nil {
		h.handleError(w, r, err)
		return
	}
	h.jsonSuccess(w, "Adapter root updated", h.pathCache.Adapters())
}

// AdapterDelete removes an adapter root.
func (h *Handlers) AdapterDelete(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	removed, err := h.pathCache.RemoveAdapterRoot(name)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if !removed {
		h.handleError(w, r, fmt.Errorf("%w: %s", pathcache.ErrAdapterNotFound, name))
		return
	}
	h.jsonSuccess(w, "Adapter root removed", nil)
}
