// Package otlp decodes OTLP/HTTP JSON export requests (logs, metrics,
// traces) into plain field maps plus the hints the Record Normalizer needs,
// per spec.md §6's `POST /api/{org}/v1/logs|metrics|traces` endpoint. Full
// protobuf codegen is out of scope; only the JSON encoding of the OTLP wire
// format is supported, via hand-written structs shaped like the
// OTLP-JSON protocol rather than generated stubs.
package otlp

import (
	"encoding/json"

	"github.com/zeebo/errs"
)

// ErrOTLP is the general-purpose error class for malformed OTLP bodies.
var ErrOTLP = errs.Class("otlp")

type exportRequest struct {
	ResourceLogs    []resourceLogs    `json:"resourceLogs"`
	ResourceMetrics []resourceMetrics `json:"resourceMetrics"`
	ResourceSpans   []resourceSpans   `json:"resourceSpans"`
}

type resource struct {
	Attributes []keyValue `json:"attributes"`
}

type keyValue struct {
	Key   string     `json:"key"`
	Value anyValue   `json:"value"`
}

type anyValue struct {
	StringValue *string  `json:"stringValue,omitempty"`
	IntValue    *string  `json:"intValue,omitempty"` // OTLP JSON renders 64-bit ints as strings
	DoubleValue *float64 `json:"doubleValue,omitempty"`
	BoolValue   *bool    `json:"boolValue,omitempty"`
}

func (v anyValue) scalar() any {
	switch {
	case v.StringValue != nil:
		return *v.StringValue
	case v.IntValue != nil:
		return *v.IntValue
	case v.DoubleValue != nil:
		return *v.DoubleValue
	case v.BoolValue != nil:
		return *v.BoolValue
	default:
		return nil
	}
}

type resourceLogs struct {
	Resource  resource    `json:"resource"`
	ScopeLogs []scopeLogs `json:"scopeLogs"`
}

type scopeLogs struct {
	LogRecords []logRecord `json:"logRecords"`
}

type logRecord struct {
	TimeUnixNano   string     `json:"timeUnixNano"`
	SeverityText   string     `json:"severityText"`
	Body           anyValue   `json:"body"`
	Attributes     []keyValue `json:"attributes"`
}

type resourceMetrics struct {
	Resource      resource       `json:"resource"`
	ScopeMetrics  []scopeMetrics `json:"scopeMetrics"`
}

type scopeMetrics struct {
	Metrics []metric `json:"metrics"`
}

type metric struct {
	Name string `json:"name"`
	Gauge *dataPoints `json:"gauge,omitempty"`
	Sum   *dataPoints `json:"sum,omitempty"`
}

type dataPoints struct {
	DataPoints []dataPoint `json:"dataPoints"`
}

type dataPoint struct {
	TimeUnixNano string     `json:"timeUnixNano"`
	AsDouble     *float64   `json:"asDouble,omitempty"`
	AsInt        *string    `json:"asInt,omitempty"`
	Attributes   []keyValue `json:"attributes"`
}

type resourceSpans struct {
	Resource  resource    `json:"resource"`
	ScopeSpans []scopeSpans `json:"scopeSpans"`
}

type scopeSpans struct {
	Spans []span `json:"spans"`
}

type span struct {
	Name           string     `json:"name"`
	TraceID        string     `json:"traceId"`
	SpanID         string     `json:"spanId"`
	StartTimeUnixNano string  `json:"startTimeUnixNano"`
	EndTimeUnixNano   string  `json:"endTimeUnixNano"`
	Attributes     []keyValue `json:"attributes"`
}

// Decoded is one normalizer-ready record plus the service name the
// resource's `service.name` attribute (or serviceNameDefault) supplied.
type Decoded struct {
	ServiceName string
	Fields      map[string]any
}

func serviceName(r resource, fallback string) string {
	for _, kv := range r.Attributes {
		if kv.Key == "service.name" {
			if v, ok := kv.Value.scalar().(string); ok {
				return v
			}
		}
	}
	return fallback
}

func flattenAttributes(attrs []keyValue) map[string]any {
	out := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		out[kv.Key] = kv.Value.scalar()
	}
	return out
}

// DecodeLogs decodes an OTLP logs export request.
func DecodeLogs(body []byte, defaultService string) ([]Decoded, error) {
	var req exportRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, ErrOTLP.Wrap(err)
	}
	var out []Decoded
	for _, rl := range req.ResourceLogs {
		svc := serviceName(rl.Resource, defaultService)
		for _, sl := range rl.ScopeLogs {
			for _, lr := range sl.LogRecords {
				fields := flattenAttributes(lr.Attributes)
				fields["body"] = lr.Body.scalar()
				fields["severity_text"] = lr.SeverityText
				fields["_timestamp"] = unixNanoStringToMicros(lr.TimeUnixNano)
				out = append(out, Decoded{ServiceName: svc, Fields: fields})
			}
		}
	}
	return out, nil
}

// DecodeMetrics decodes an OTLP metrics export request; each data point
// becomes one record.
func DecodeMetrics(body []byte, defaultService string) ([]Decoded, error) {
	var req exportRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, ErrOTLP.Wrap(err)
	}
	var out []Decoded
	for _, rm := range req.ResourceMetrics {
		svc := serviceName(rm.Resource, defaultService)
		for _, sm := range rm.ScopeMetrics {
			for _, m := range sm.Metrics {
				for _, group := range []*dataPoints{m.Gauge, m.Sum} {
					if group == nil {
						continue
					}
					for _, dp := range group.DataPoints {
						fields := flattenAttributes(dp.Attributes)
						fields["metric_name"] = m.Name
						fields["value"] = metricValue(dp)
						fields["_timestamp"] = unixNanoStringToMicros(dp.TimeUnixNano)
						out = append(out, Decoded{ServiceName: svc, Fields: fields})
					}
				}
			}
		}
	}
	return out, nil
}

func metricValue(dp dataPoint) any {
	switch {
	case dp.AsDouble != nil:
		return *dp.AsDouble
	case dp.AsInt != nil:
		return *dp.AsInt
	default:
		return nil
	}
}

// DecodeTraces decodes an OTLP traces export request; each span becomes one
// record.
func DecodeTraces(body []byte, defaultService string) ([]Decoded, error) {
	var req exportRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, ErrOTLP.Wrap(err)
	}
	var out []Decoded
	for _, rs := range req.ResourceSpans {
		svc := serviceName(rs.Resource, defaultService)
		for _, ss := range rs.ScopeSpans {
			for _, sp := range ss.Spans {
				fields := flattenAttributes(sp.Attributes)
				fields["span_name"] = sp.Name
				fields["trace_id"] = sp.TraceID
				fields["span_id"] = sp.SpanID
				fields["duration_micros"] = unixNanoStringToMicros(sp.EndTimeUnixNano) - unixNanoStringToMicros(sp.StartTimeUnixNano)
				fields["_timestamp"] = unixNanoStringToMicros(sp.StartTimeUnixNano)
				out = append(out, Decoded{ServiceName: svc, Fields: fields})
			}
		}
	}
	return out, nil
}

func unixNanoStringToMicros(s string) int64 {
	var nanos int64
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		nanos = nanos*10 + int64(r-'0')
	}
	return nanos / 1000
}
