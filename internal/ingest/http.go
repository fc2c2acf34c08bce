// HTTP handlers for spec.md §6's ingestion endpoints: `_json`, `_bulk`,
// the OTLP `v1/logs|metrics|traces` family, and Loki's `push` endpoint.
package ingest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"go.obscore.dev/obscore/internal/auth"
	"go.obscore.dev/obscore/internal/ingest/esbulk"
	"go.obscore.dev/obscore/internal/ingest/loki"
	"go.obscore.dev/obscore/internal/ingest/otlp"
	"go.obscore.dev/obscore/internal/model"
	"go.obscore.dev/obscore/internal/obserrs"
	"go.obscore.dev/obscore/internal/record"
)

// Handler serves the §6 ingestion HTTP surface over a Pipeline.
type Handler struct {
	log    *zap.Logger
	pipe   *Pipeline
	authn  auth.Authenticator
}

// NewHandler constructs a Handler.
func NewHandler(log *zap.Logger, pipe *Pipeline, authn auth.Authenticator) *Handler {
	return &Handler{log: log, pipe: pipe, authn: authn}
}

// Register mounts every ingestion route onto r.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/api/{org}/{stream}/_json", h.handleJSON).Methods(http.MethodPost)
	r.HandleFunc("/api/{org}/{stream}/_bulk", h.handleBulk).Methods(http.MethodPost)
	r.HandleFunc("/api/{org}/v1/logs", h.handleOTLP(record.SourceOTLPLogs)).Methods(http.MethodPost)
	r.HandleFunc("/api/{org}/v1/metrics", h.handleOTLP(record.SourceOTLPMetrics)).Methods(http.MethodPost)
	r.HandleFunc("/api/{org}/v1/traces", h.handleOTLP(record.SourceOTLPTraces)).Methods(http.MethodPost)
	r.HandleFunc("/loki/api/v1/push", h.handleLokiPush).Methods(http.MethodPost)
}

func (h *Handler) principal(r *http.Request) (auth.Principal, error) {
	return h.authn.Authenticate(r.Context(), r)
}

// handleJSON implements `_json`: a JSON array of records, or
// newline-delimited JSON, per spec.md §6.
func (h *Handler) handleJSON(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	stream := vars["stream"]

	if _, err := h.principal(r); err != nil {
		writeError(w, obserrs.AuthError.Wrap(err))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, obserrs.BadRequest.Wrap(err))
		return
	}

	records, err := decodeJSONBatch(body)
	if err != nil {
		writeError(w, obserrs.BadRequest.Wrap(err))
		return
	}

	res, err := h.pipe.Ingest(r.Context(), vars["org"], model.StreamLogs, record.SourceJSONBatch,
		record.Hints{QueryStream: stream}, records)
	if err != nil {
		writeError(w, obserrs.Internal.Wrap(err))
		return
	}
	writeResult(w, res)
}

// decodeJSONBatch accepts either a JSON array of objects, or
// newline-delimited JSON objects, per spec.md §6's `_json` body rule.
func decodeJSONBatch(body []byte) ([]map[string]any, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var records []map[string]any
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, err
		}
		return records, nil
	}

	var records []map[string]any
	scanner := bufio.NewScanner(bytes.NewReader(trimmed))
	scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, scanner.Err()
}

// handleBulk implements `_bulk`: Elasticsearch-compatible bulk format.
func (h *Handler) handleBulk(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	stream := vars["stream"]

	if _, err := h.principal(r); err != nil {
		writeError(w, obserrs.AuthError.Wrap(err))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, obserrs.BadRequest.Wrap(err))
		return
	}

	docs, err := esbulk.Decode(body)
	if err != nil {
		writeError(w, obserrs.BadRequest.Wrap(err))
		return
	}

	res, err := h.pipe.Ingest(r.Context(), vars["org"], model.StreamLogs, record.SourceJSONBatch,
		record.Hints{QueryStream: stream}, docs)
	if err != nil {
		writeError(w, obserrs.Internal.Wrap(err))
		return
	}
	writeResult(w, res)
}

// handleOTLP builds a handler for one of the three OTLP signal kinds.
func (h *Handler) handleOTLP(format record.SourceFormat) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)

		if _, err := h.principal(r); err != nil {
			writeError(w, obserrs.AuthError.Wrap(err))
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			writeError(w, obserrs.BadRequest.Wrap(err))
			return
		}

		var decoded []otlp.Decoded
		var decodeErr error
		var kind model.StreamKind
		switch format {
		case record.SourceOTLPLogs:
			decoded, decodeErr = otlp.DecodeLogs(body, "default")
			kind = model.StreamLogs
		case record.SourceOTLPMetrics:
			decoded, decodeErr = otlp.DecodeMetrics(body, "default")
			kind = model.StreamMetrics
		default:
			decoded, decodeErr = otlp.DecodeTraces(body, "default")
			kind = model.StreamTraces
		}
		if decodeErr != nil {
			writeError(w, obserrs.BadRequest.Wrap(decodeErr))
			return
		}

		var res Result
		for _, d := range decoded {
			one, err := h.pipe.Ingest(r.Context(), vars["org"], kind, format,
				record.Hints{ServiceName: d.ServiceName}, []map[string]any{d.Fields})
			if err != nil {
				writeError(w, obserrs.Internal.Wrap(err))
				return
			}
			res.Successful += one.Successful
			res.Failed += one.Failed
			res.Errors = append(res.Errors, one.Errors...)
		}
		writeResult(w, res)
	}
}

// handleLokiPush implements `POST /loki/api/v1/push`.
func (h *Handler) handleLokiPush(w http.ResponseWriter, r *http.Request) {
	if _, err := h.principal(r); err != nil {
		writeError(w, obserrs.AuthError.Wrap(err))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, obserrs.BadRequest.Wrap(err))
		return
	}

	decoded, err := loki.Decode(body)
	if err != nil {
		writeError(w, obserrs.BadRequest.Wrap(err))
		return
	}

	org := mux.Vars(r)["org"]
	if org == "" {
		org = "default"
	}

	var res Result
	for _, d := range decoded {
		one, err := h.pipe.Ingest(r.Context(), org, model.StreamLogs, record.SourceLokiPush,
			record.Hints{LabelName: d.LabelName}, []map[string]any{d.Fields})
		if err != nil {
			writeError(w, obserrs.Internal.Wrap(err))
			return
		}
		res.Successful += one.Successful
		res.Failed += one.Failed
		res.Errors = append(res.Errors, one.Errors...)
	}
	writeResult(w, res)
}

const maxBodyBytes = 64 << 20

func writeResult(w http.ResponseWriter, res Result) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(struct {
		Code       int           `json:"code"`
		Successful int           `json:"successful"`
		Failed     int           `json:"failed"`
		Errors     []RecordError `json:"errors,omitempty"`
	}{Code: http.StatusOK, Successful: res.Successful, Failed: res.Failed, Errors: res.Errors})
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
