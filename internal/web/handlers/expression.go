package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/DrSmoothl/HMML2/internal/database"
	"github.com/DrSmoothl/HMML2/internal/expression"
)

// ExpressionList returns one page of expressions.
func (h *Handlers) ExpressionList(w http.ResponseWriter, r *http.Request) {
	params, err := expressionListParams(r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	page, err := h.expressions.List(params)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.jsonSuccess(w, "ok", page)
}

func expressionListParams(r *http.Request) (expression.ListParams, error) {
	q := r.URL.Query()
	var p expression.ListParams
	var err error

	if p.Page, err = queryInt(r, "page", 1); err != nil {
		return p, err
	}
	if p.PageSize, err = queryInt(r, "pageSize", database.DefaultPageSize); err != nil {
		return p, err
	}
	p.OrderBy = q.Get("orderBy")
	p.OrderDir = database.ParseOrderDirection(q.Get("orderDir"))

	p.Filter = expression.FilterOptions{
		Situation: q.Get("situation"),
		Style:     q.Get("style"),
		ChatID:    q.Get("chat_id"),
		Type:      q.Get("type"),
	}
	for key, dst := range map[string]**float64{
		"minCount":  &p.Filter.MinCount,
		"maxCount":  &p.Filter.MaxCount,
		"startDate": &p.Filter.StartDate,
		"endDate":   &p.Filter.EndDate,
	} {
		if *dst, err = queryFloat(r, key); err != nil {
			return p, err
		}
	}
	return p, nil
}

// ExpressionGet returns one expression.
func (h *Handlers) ExpressionGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	e, err := h.expressions.Get(id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if e == nil {
		h.jsonError(w, "expression not found", http.StatusNotFound)
		return
	}
	h.jsonSuccess(w, "ok", e)
}

// ExpressionCreate inserts an expression.
func (h *Handlers) ExpressionCreate(w http.ResponseWriter, r *http.Request) {
	var data expression.InsertData
	if err := decodeJSON(w, r, &data); err != nil {
		h.handleError(w, r, err)
		return
	}

	id, err := h.expressions.Insert(data)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.jsonSuccess(w, "Expression created", map[string]int64{"id": id})
}

// ExpressionUpdate applies a partial update.
func (h *Handlers) ExpressionUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	var data expression.UpdateData
	if err := decodeJSON(w, r, &data); err != nil {
		h.handleError(w, r, err)
		return
	}

	changed, err := h.expressions.Update(id, data)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.jsonSuccess(w, "Expression updated", map[string]bool{"updated": changed})
}

// ExpressionDelete removes an expression.
func (h *Handlers) ExpressionDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	if err := h.expressions.Delete(id); err != nil {
		h.handleError(w, r, err)
		return
	}
	h.jsonSuccess(w, "Expression deleted", nil)
}

// ExpressionByChat lists the most recently active expressions of a chat.
func (h *Handlers) ExpressionByChat(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", expression.DefaultListLimit)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	items, err := h.expressions.ByChatID(chi.URLParam(r, "chatId"), limit)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.jsonSuccess(w, "ok", items)
}

// ExpressionByType lists the most used expressions of a type.
func (h *Handlers) ExpressionByType(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", expression.DefaultListLimit)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	items, err := h.expressions.ByType(chi.URLParam(r, "type"), limit)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.jsonSuccess(w, "ok", items)
}

// ExpressionSearch matches situation or style against a keyword.
func (h *Handlers) ExpressionSearch(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", expression.DefaultSearchLimit)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	items, err := h.expressions.Search(r.URL.Query().Get("keyword"), limit)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.jsonSuccess(w, "ok", items)
}

// ExpressionStats aggregates the expression table.
func (h *Handlers) ExpressionStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.expressions.Stats()
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.jsonSuccess(w, "ok", stats)
}

// ExpressionIncrement counts one use of an expression.
func (h *Handlers) ExpressionIncrement(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	if err := h.expressions.IncrementCount(id); err != nil {
		h.handleError(w, r, err)
		return
	}
	h.jsonSuccess(w, "Expression count incremented", nil)
}
