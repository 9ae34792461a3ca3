package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/DrSmoothl/HMML2/internal/database"
	"github.com/DrSmoothl/HMML2/internal/emoji"
)

// EmojiList returns one page of emojis.
func (h *Handlers) EmojiList(w http.ResponseWriter, r *http.Request) {
	params, err := emojiListParams(r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	page, err := h.emojis.List(params)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.jsonSuccess(w, "ok", page)
}

func emojiListParams(r *http.Request) (emoji.ListParams, error) {
	q := r.URL.Query()
	var p emoji.ListParams
	var err error

	if p.PageRequest, err = pageRequest(r, database.DefaultPageSize); err != nil {
		return p, err
	}
	p.OrderBy = q.Get("orderBy")
	p.OrderDir = database.ParseOrderDirection(q.Get("orderDir"))

	p.Filter = emoji.FilterOptions{
		Format:      q.Get("format"),
		Emotion:     q.Get("emotion"),
		Description: q.Get("description"),
		EmojiHash:   q.Get("emoji_hash"),
	}
	if p.Filter.IsRegistered, err = queryOptionalInt(r, "is_registered"); err != nil {
		return p, err
	}
	if p.Filter.IsBanned, err = queryOptionalInt(r, "is_banned"); err != nil {
		return p, err
	}
	return p, nil
}

// EmojiGet returns one emoji.
func (h *Handlers) EmojiGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	e, err := h.emojis.Get(id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if e == nil {
		h.jsonError(w, "emoji not found", http.StatusNotFound)
		return
	}
	h.jsonSuccess(w, "ok", e)
}

// EmojiByHash returns the emoji with a content hash.
func (h *Handlers) EmojiByHash(w http.ResponseWriter, r *http.Request) {
	e, err := h.emojis.GetByHash(chi.URLParam(r, "hash"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if e == nil {
		h.jsonError(w, "emoji not found", http.StatusNotFound)
		return
	}
	h.jsonSuccess(w, "ok", e)
}

// EmojiCreate inserts an emoji.
func (h *Handlers) EmojiCreate(w http.ResponseWriter, r *http.Request) {
	var data emoji.InsertData
	if err := decodeJSON(w, r, &data); err != nil {
		h.handleError(w, r, err)
		return
	}

	id, err := h.emojis.Insert(data)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.jsonSuccess(w, "Emoji created", map[string]int64{"id": id})
}

// EmojiUpdate applies a partial update.
func (h *Handlers) EmojiUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	var data emoji.UpdateData
	if err := decodeJSON(w, r, &data); err != nil {
		h.handleError(w, r, err)
		return
	}

	changed, err := h.emojis.Update(id, data)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.jsonSuccess(w, "Emoji updated", map[string]bool{"updated": changed})
}

// EmojiDelete removes an emoji.
func (h *Handlers) EmojiDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	if err := h.emojis.Delete(id); err != nil {
		h.handleError(w, r, err)
		return
	}
	h.jsonSuccess(w, "Emoji deleted", nil)
}

// EmojiQueried counts one lookup of an emoji.
func (h *Handlers) EmojiQueried(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	if err := h.emojis.IncrementQueryCount(id); err != nil {
		h.handleError(w, r, err)
		return
	}
	h.jsonSuccess(w, "Emoji query count incremented", nil)
}

// EmojiStats aggregates the emoji table.
func (h *Handlers) EmojiStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.emojis.Stats()
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.jsonSuccess(w, "ok", stats)
}

// EmojiImage returns the image of an emoji, base64 encoded.
func (h *Handlers) EmojiImage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	img, err := h.emojis.Image(id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.jsonSuccess(w, "ok", map[string]string{"image": img})
}

// EmojiHash computes the hash of an image under the main root.
func (h *Handlers) EmojiHash(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Path string `json:"path"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		h.handleError(w, r, err)
		return
	}

	hash, err := h.emojis.Hash(body.Path)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.jsonSuccess(w, "ok", map[string]string{"hash": hash})
}
