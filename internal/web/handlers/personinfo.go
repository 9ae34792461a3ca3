package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/DrSmoothl/HMML2/internal/personinfo"
)

const personPageSize = 10

// PersonList returns one page of persons, newest first.
func (h *Handlers) PersonList(w http.ResponseWriter, r *http.Request) {
	req, err := pageRequest(r, personPageSize)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	q := r.URL.Query()
	page, err := h.persons.List(personinfo.ListParams{
		PageRequest: req,
		Filter: personinfo.FilterOptions{
			PersonID:   q.Get("person_id"),
			PersonName: q.Get("person_name"),
			Platform:   q.Get("platform"),
			UserID:     q.Get("user_id"),
		},
	})
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.jsonSuccess(w, "ok", page)
}

// PersonGet returns one person.
func (h *Handlers) PersonGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	p, err := h.persons.Get(id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if p == nil {
		h.jsonError(w, "person not found", http.StatusNotFound)
		return
	}
	h.jsonSuccess(w, "ok", p)
}

// PersonCreate inserts a person.
func (h *Handlers) PersonCreate(w http.ResponseWriter, r *http.Request) {
	var data personinfo.Data
	if err := decodeJSON(w, r, &data); err != nil {
		h.handleError(w, r, err)
		return
	}

	id, err := h.persons.Create(data)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.jsonSuccess(w, "Person created", map[string]int64{"id": id})
}

// PersonUpdate applies a partial update.
func (h *Handlers) PersonUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	var data personinfo.Data
	if err := decodeJSON(w, r, &data); err != nil {
		h.handleError(w, r, err)
		return
	}

	changed, err := h.persons.Update(id, data)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.jsonSuccess(w, "Person updated", map[string]bool{"updated": changed})
}

// PersonDelete removes a person.
func (h *Handlers) PersonDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	if err := h.persons.Delete(id); err != nil {
		h.handleError(w, r, err)
		return
	}
	h.jsonSuccess(w, "Person deleted", nil)
}

// PersonStats aggregates the person table.
func (h *Handlers) PersonStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.persons.Stats()
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.jsonSuccess(w, "ok", stats)
}

// PersonPlatforms lists the distinct platforms of known persons.
func (h *Handlers) PersonPlatforms(w http.ResponseWriter, r *http.Request) {
	platforms, err := h.persons.Platforms()
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.jsonSuccess(w, "ok", platforms)
}
