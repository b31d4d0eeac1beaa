package applog

import "github.com/sirupsen/logrus"

// Fields carries structured key/value context attached to a log entry.
type Fields map[string]interface{}

// Clone returns a shallow copy so a caller can extend it without mutating
// the original map held by a request context.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Add merges additional keys into a clone of f and returns it.
func (f Fields) Add(key string, value interface{}) Fields {
	out := f.Clone()
	out[key] = value
	return out
}

func (f Fields) logrus() logrus.Fields {
	return logrus.Fields(f)
}

const (
	FieldRequestID = "request_id"
	FieldTraceID   = "trace_id"
	FieldSpanID    = "span_id"
	FieldParentID  = "parent_span_id"
	FieldClientIP  = "client_ip"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldDuration  = "duration_ms"
	FieldComponent = "component"
)
