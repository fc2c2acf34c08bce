// Package record implements the Record Normalizer described in spec.md
// §4.A: it turns a decoded, source-format-specific body into a sequence of
// (stream-name, field-map, timestamp) tuples ready for the Schema Registry
// and Memtable.
package record

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/errs"

	"go.obscore.dev/obscore/internal/model"
)

// ErrBadRecord is returned for a record whose timestamp is malformed or
// whose body cannot be normalized; such records are dropped and counted by
// the caller, never retried, per spec.md §4.A.
var ErrBadRecord = errs.Class("record: bad record")

// SourceFormat is one of the ingestion wire formats spec.md §4.A names.
type SourceFormat string

// Source formats.
const (
	SourceOTLPLogs    SourceFormat = "otlp-logs"
	SourceOTLPMetrics SourceFormat = "otlp-metrics"
	SourceOTLPTraces  SourceFormat = "otlp-traces"
	SourceLokiPush    SourceFormat = "loki-push"
	SourceJSONBatch   SourceFormat = "json-batch"
	SourceESBulk      SourceFormat = "es-bulk"
)

// timestamp field names, in the precedence order spec.md §4.A states: the
// three well-known fields first, the format's own canonical timestamp last.
const (
	fieldUnderscoreTimestamp = "_timestamp"
	fieldTime                = "time"
	fieldAtTimestamp         = "@timestamp"
)

// Hints carries the per-source-format context the wire decoder has already
// extracted and the normalizer cannot recover from the field map alone: a
// resource's service name (OTLP), a stream's `__name__` label (Loki), the
// `?stream=` query parameter (json-batch), and the format's own canonical
// timestamp when it isn't carried as an ordinary field (e.g. OTLP's
// `time_unix_nano`).
type Hints struct {
	ServiceName              string
	LabelName                string
	QueryStream              string
	DefaultStream            string
	CanonicalTimestampMicros *int64
}

// StreamName derives the stream name per spec.md §4.A's per-source rule:
// OTLP uses the service name (or DefaultStream), Loki uses the `__name__`
// label, json-batch uses the `?stream=` query parameter.
func (h Hints) StreamName(format SourceFormat) (string, error) {
	switch format {
	case SourceOTLPLogs, SourceOTLPMetrics, SourceOTLPTraces:
		if h.ServiceName != "" {
			return h.ServiceName, nil
		}
		if h.DefaultStream != "" {
			return h.DefaultStream, nil
		}
	case SourceLokiPush:
		if h.LabelName != "" {
			return h.LabelName, nil
		}
	case SourceJSONBatch, SourceESBulk:
		if h.QueryStream != "" {
			return h.QueryStream, nil
		}
	}
	return "", ErrBadRecord.New("%s: no stream name derivable from source", format)
}

// Normalizer turns decoded request bodies into model.Records, per spec.md
// §4.A's field-folding, flattening, and timestamp-resolution rules.
type Normalizer struct {
	policy model.IngestionPolicy
}

// New constructs a Normalizer governed by policy (spec.md §4.A's per-stream
// "flatten arrays" option lives on model.IngestionPolicy).
func New(policy model.IngestionPolicy) *Normalizer {
	return &Normalizer{policy: policy}
}

// Normalize flattens, folds, and timestamps raw into a model.Record, and
// resolves the record's target stream name via hints.
func (n *Normalizer) Normalize(format SourceFormat, hints Hints, raw map[string]any) (stream string, rec model.Record, err error) {
	stream, err = hints.StreamName(format)
	if err != nil {
		return "", model.Record{}, err
	}

	flat := make(map[string]any)
	flatten("", raw, flat, n.policy.FlattenArrays)

	folded := foldNames(flat)

	ts, err := resolveTimestamp(folded, hints)
	if err != nil {
		return "", model.Record{}, err
	}

	return stream, model.Record{TimestampMicros: ts, Fields: folded}, nil
}

// flatten walks v, writing scalar leaves into out keyed by prefix-joined
// dotted paths. Nested objects use `.`; arrays of scalars are kept as a
// single list-valued field; arrays of objects are flattened with `[idx]`
// only when flattenArrays is true, otherwise the whole array is serialized
// as a utf8 string, per spec.md §4.A.
func flatten(prefix string, v any, out map[string]any, flattenArrays bool) {
	switch val := v.(type) {
	case map[string]any:
		for k, sub := range val {
			flatten(joinPath(prefix, k), sub, out, flattenArrays)
		}
	case []any:
		if isScalarArray(val) {
			out[prefix] = val
			return
		}
		if !flattenArrays {
			out[prefix] = serializeArray(val)
			return
		}
		for i, elem := range val {
			flatten(prefix+"["+strconv.Itoa(i)+"]", elem, out, flattenArrays)
		}
	default:
		if prefix != "" {
			out[prefix] = val
		}
	}
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func isScalarArray(arr []any) bool {
	for _, v := range arr {
		switch v.(type) {
		case map[string]any, []any:
			return false
		}
	}
	return true
}

// serializeArray renders an array of objects as a compact string when the
// stream's flatten-arrays policy is off; it deliberately avoids
// encoding/json here since the values are already decoded Go values, not
// raw bytes worth round-tripping byte-for-byte.
func serializeArray(arr []any) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range arr {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(toDisplayString(v))
	}
	b.WriteByte(']')
	return b.String()
}

func toDisplayString(v any) string {
	switch t := v.(type) {
	case string:
		return strconv.Quote(t)
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.Quote(k))
			b.WriteByte(':')
			b.WriteString(toDisplayString(t[k]))
		}
		b.WriteByte('}')
		return b.String()
	case nil:
		return "null"
	default:
		return scalarString(t)
	}
}

func scalarString(v any) string {
	switch t := v.(type) {
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// foldNames lowercases every field name and replaces characters outside
// [a-z0-9_] with `_`; a collision after folding concatenates the original
// (unfolded) name as a disambiguating suffix, per spec.md §4.A.
func foldNames(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	usedBy := make(map[string]string, len(fields))
	for name, value := range fields {
		folded := foldName(name)
		if prior, ok := usedBy[folded]; ok && prior != name {
			folded = folded + "_" + name
		}
		usedBy[folded] = name
		out[folded] = value
	}
	return out
}

func foldName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// resolveTimestamp implements spec.md §4.A's precedence: _timestamp, time,
// @timestamp, then the source format's own canonical timestamp, then now.
// The winning field (if any) is removed from fields since it becomes the
// record's TimestampMicros rather than an ordinary column.
func resolveTimestamp(fields map[string]any, hints Hints) (int64, error) {
	for _, name := range []string{fieldUnderscoreTimestamp, fieldTime, fieldAtTimestamp} {
		if v, ok := fields[name]; ok {
			ts, err := parseTimestamp(v)
			if err != nil {
				return 0, ErrBadRecord.Wrap(err)
			}
			delete(fields, name)
			return ts, nil
		}
	}
	if hints.CanonicalTimestampMicros != nil {
		return *hints.CanonicalTimestampMicros, nil
	}
	return model.NowMicros(), nil
}

// parseTimestamp accepts a unix-microseconds number or an RFC 3339 string.
func parseTimestamp(v any) (int64, error) {
	switch t := v.(type) {
	case float64:
		return int64(t), nil
	case int64:
		return t, nil
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return 0, errs.New("malformed timestamp %q: %v", t, err)
		}
		return parsed.UnixMicro(), nil
	default:
		return 0, errs.New("unsupported timestamp value %v (%T)", v, v)
	}
}
