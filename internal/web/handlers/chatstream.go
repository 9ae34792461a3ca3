package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/DrSmoothl/HMML2/internal/chatstream"
)

const streamPageSize = 10

// ChatStreamList returns one page of chat streams, newest first.
func (h *Handlers) ChatStreamList(w http.ResponseWriter, r *http.Request) {
	req, err := pageRequest(r, streamPageSize)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	q := r.URL.Query()
	page, err := h.streams.List(chatstream.ListParams{
		PageRequest: req,
		Filter: chatstream.FilterOptions{
			StreamID:      q.Get("stream_id"),
			GroupPlatform: q.Get("group_platform"),
			GroupID:       q.Get("group_id"),
			GroupName:     q.Get("group_name"),
			Platform:      q.Get("platform"),
			UserPlatform:  q.Get("user_platform"),
			UserID:        q.Get("user_id"),
			UserNickname:  q.Get("user_nickname"),
			UserCardname:  q.Get("user_cardname"),
		},
	})
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.jsonSuccess(w, "ok", page)
}

// ChatStreamGet returns one chat stream.
func (h *Handlers) ChatStreamGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	st, err := h.streams.Get(id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if st == nil {
		h.jsonError(w, "chat stream not found", http.StatusNotFound)
		return
	}
	h.jsonSuccess(w, "ok", st)
}

// ChatStreamCreate inserts a chat stream.
func (h *Handlers) ChatStreamCreate(w http.ResponseWriter, r *http.Request) {
	var data chatstream.Data
	if err := decodeJSON(w, r, &data); err != nil {
		h.handleError(w, r, err)
		return
	}

	id, err := h.streams.Create(data)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.jsonSuccess(w, "Chat stream created", map[string]int64{"id": id})
}

// ChatStreamUpdate applies a partial update.
func (h *Handlers) ChatStreamUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	var data chatstream.Data
	if err := decodeJSON(w, r, &data); err != nil {
		h.handleError(w, r, err)
		return
	}

	changed, err := h.streams.Update(id, data)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.jsonSuccess(w, "Chat stream updated", map[string]bool{"updated": changed})
}

// ChatStreamDelete removes a chat stream.
func (h *Handlers) ChatStreamDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	if err := h.streams.Delete(id); err != nil {
		h.handleError(w, r, err)
		return
	}
	h.jsonSuccess(w, "Chat stream deleted", nil)
}
