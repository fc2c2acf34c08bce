// Package loki decodes a Loki push request body into plain field maps plus
// the `__name__` label hint the Record Normalizer uses for stream naming,
// per spec.md §6's `POST /loki/api/v1/push` endpoint and its
// `PushRequest/StreamAdapter/EntryAdapter` wire shape. Only the JSON
// encoding of the push request is supported (the protobuf variant is the
// same out-of-scope concern full OTLP protobuf codegen is).
package loki

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/zeebo/errs"
)

// ErrLoki is the general-purpose error class for malformed Loki bodies.
var ErrLoki = errs.Class("loki")

// pushRequest mirrors Loki's PushRequest: a set of label-tagged streams,
// each carrying [timestamp_ns_string, line] entry pairs.
type pushRequest struct {
	Streams []streamAdapter `json:"streams"`
}

type streamAdapter struct {
	Stream map[string]string `json:"stream"`
	Values [][2]string        `json:"values"`
}

// Decoded is one normalizer-ready record plus the `__name__` label that
// names its stream.
type Decoded struct {
	LabelName string
	Fields    map[string]any
}

// Decode parses body into one Decoded per log line.
func Decode(body []byte) ([]Decoded, error) {
	var req pushRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, ErrLoki.Wrap(err)
	}

	var out []Decoded
	for _, s := range req.Streams {
		name := s.Stream["__name__"]
		if name == "" {
			name = defaultNameFromLabels(s.Stream)
		}
		for _, entry := range s.Values {
			fields := make(map[string]any, len(s.Stream)+2)
			for k, v := range s.Stream {
				if k == "__name__" {
					continue
				}
				fields[k] = v
			}
			fields["line"] = entry[1]
			fields["_timestamp"] = unixNanoStringToMicros(entry[0])
			out = append(out, Decoded{LabelName: name, Fields: fields})
		}
	}
	return out, nil
}

// defaultNameFromLabels joins every label into a deterministic stream name
// when the stream carries no explicit `__name__`, so two identically
// labeled streams always resolve to the same name.
func defaultNameFromLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('_')
		}
		b.WriteString(k)
		b.WriteByte('_')
		b.WriteString(labels[k])
	}
	return b.String()
}

func unixNanoStringToMicros(s string) int64 {
	nanos, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return nanos / 1000
}
