// Package esbulk decodes an Elasticsearch-compatible bulk request body
// (newline-delimited action/document pairs) into plain field maps, per
// spec.md §6's `POST /api/{org}/{stream}/_bulk` endpoint.
package esbulk

import (
	"bufio"
	"bytes"
	"encoding/json"

	"github.com/zeebo/errs"
)

// ErrBulk is the general-purpose error class for malformed bulk bodies.
var ErrBulk = errs.Class("esbulk")

// action is the envelope line preceding each document; only its presence
// matters here since spec.md §6 ties this endpoint to a single (org,
// stream) in the URL, not per-line routing like a real Elasticsearch bulk
// index does.
type action struct {
	Index  map[string]any `json:"index"`
	Create map[string]any `json:"create"`
}

func isActionLine(line []byte) bool {
	var a action
	if err := json.Unmarshal(line, &a); err != nil {
		return false
	}
	return a.Index != nil || a.Create != nil
}

// Decode parses the NDJSON body into one field map per document line,
// skipping the interleaved action lines.
func Decode(body []byte) ([]map[string]any, error) {
	var docs []map[string]any
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if isActionLine(line) {
			continue
		}
		var doc map[string]any
		if err := json.Unmarshal(line, &doc); err != nil {
			return nil, ErrBulk.Wrap(err)
		}
		docs = append(docs, doc)
	}
	if err := scanner.Err(); err != nil {
		return nil, ErrBulk.Wrap(err)
	}
	return docs, nil
}
