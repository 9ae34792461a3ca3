package handlers

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/DrSmoothl/HMML2/internal/database"
)

// reserved query parameters of the rows endpoint; every other parameter is
// a filter.
var rowsReservedParams = map[string]bool{
	"page": true, "pageSize": true, "orderBy": true, "orderDir": true,
}

type connectionSummary struct {
	Name      string `json:"name"`
	ID        string `json:"id"`
	Path      string `json:"path"`
	ReadOnly  bool   `json:"readonly"`
	Connected bool   `json:"connected"`
}

// DatabaseConnections lists the registered connections.
func (h *Handlers) DatabaseConnections(w http.ResponseWriter, r *http.Request) {
	names := h.dbManager.ListConnections()
	out := make([]connectionSummary, 0, len(names))
	for _, name := range names {
		conn := h.dbManager.GetConnection(name)
		if conn == nil {
			continue
		}
		out = append(out, connectionSummary{
			Name:      name,
			ID:        conn.ID(),
			Path:      conn.Path(),
			ReadOnly:  conn.Config().ReadOnly,
			Connected: conn.IsConnected(),
		})
	}
	h.jsonSuccess(w, "ok", out)
}

func (h *Handlers) operator(name string) (*database.Operator, error) {
	op := h.dbManager.GetOperator(name)
	if op == nil {
		return nil, fmt.Errorf("%w: %s", database.ErrConnectionNotFound, name)
	}
	return op, nil
}

// DatabaseInfo describes one database file.
func (h *Handlers) DatabaseInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.dbManager.DatabaseInfo(chi.URLParam(r, "name"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.jsonSuccess(w, "ok", info)
}

// DatabaseTest probes one connection.
func (h *Handlers) DatabaseTest(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, err := h.operator(name); err != nil {
		h.handleError(w, r, err)
		return
	}
	h.jsonSuccess(w, "ok", map[string]any{"name": name, "ok": h.dbManager.TestConnection(name)})
}

// tableInfo resolves the {name} and {table} URL parameters. A nil info
// with a nil error means the table does not exist.
func (h *Handlers) tableInfo(r *http.Request) (*database.Operator, *database.TableInfo, error) {
	op, err := h.operator(chi.URLParam(r, "name"))
	if err != nil {
		return nil, nil, err
	}
	info, err := op.Connection().GetTableInfo(chi.URLParam(r, "table"))
	if err != nil {
		return nil, nil, err
	}
	return op, info, nil
}

// DatabaseTable describes one table.
func (h *Handlers) DatabaseTable(w http.ResponseWriter, r *http.Request) {
	_, info, err := h.tableInfo(r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if info == nil {
		h.jsonError(w, "table not found", http.StatusNotFound)
		return
	}
	h.jsonSuccess(w, "ok", info)
}

// DatabaseRows browses one page of a table. Query parameters other than
// page, pageSize, orderBy and orderDir filter rows; a key may carry an
// operator suffix such as "score >=".
func (h *Handlers) DatabaseRows(w http.ResponseWriter, r *http.Request) {
	op, info, err := h.tableInfo(r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if info == nil {
		h.jsonError(w, "table not found", http.StatusNotFound)
		return
	}

	q, err := rowsQuery(r, info)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	result, err := op.FindWithPagination(info.Name, q)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.jsonSuccess(w, "ok", result)
}

func rowsQuery(r *http.Request, info *database.TableInfo) (database.PageQuery, error) {
	columns := make(map[string]bool, len(info.Columns))
	for _, c := range info.Columns {
		columns[c.Name] = true
	}

	page, err := queryInt(r, "page", 1)
	if err != nil {
		return database.PageQuery{}, err
	}
	pageSize, err := queryInt(r, "pageSize", database.DefaultPageSize)
	if err != nil {
		return database.PageQuery{}, err
	}

	q := database.PageQuery{
		PageRequest: database.PageRequest{Page: page, PageSize: pageSize},
		OrderBy:     r.URL.Query().Get("orderBy"),
		OrderDir:    database.ParseOrderDirection(r.URL.Query().Get("orderDir")),
	}
	if q.OrderBy != "" && !columns[q.OrderBy] {
		return database.PageQuery{}, fmt.Errorf("%w: unknown column %q", database.ErrValidation, q.OrderBy)
	}

	params := r.URL.Query()
	keys := make([]string, 0, len(params))
	for k := range params {
		if !rowsReservedParams[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		cond := database.ParseCondition(k, params.Get(k))
		if !columns[cond.Column] {
			return database.PageQuery{}, fmt.Errorf("%w: unknown column %q", database.ErrValidation, cond.Column)
		}
		q.Where = append(q.Where, cond)
	}
	return q, nil
}

// DatabaseReload re-runs primary database discovery.
func (h *Handlers) DatabaseReload(w http.ResponseWriter, r *http.Request) {
	if err := h.dbManager.Reload(); err != nil {
		log.Warn().Err(err).Msg("Database reload requested via API failed")
		h.handleError(w, r, err)
		return
	}
	h.jsonSuccess(w, "Database connections reloaded", map[string]any{
		"connections":       h.dbManager.ListConnections(),
		"primary_connected": h.dbManager.IsPrimaryConnected(),
	})
}

// MaintenanceStatus reports the maintenance schedule and last results.
func (h *Handlers) MaintenanceStatus(w http.ResponseWriter, r *http.Request) {
	if h.maintenance == nil {
		h.jsonError(w, "maintenance scheduler not configured", http.StatusServiceUnavailable)
		return
	}
	h.jsonSuccess(w, "ok", h.maintenance.Status())
}

// MaintenanceRun runs maintenance on every connection now.
func (h *Handlers) MaintenanceRun(w http.ResponseWriter, r *http.Request) {
	if h.maintenance == nil {
		h.jsonError(w, "maintenance scheduler not configured", http.StatusServiceUnavailable)
		return
	}
	h.jsonSuccess(w, "Maintenance finished", h.maintenance.RunNow())
}
