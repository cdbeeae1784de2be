package transform

import "maps"

// InputRecord is one raw line plus caller-attached metadata. The metadata map
// is copied on construction and never handed out.
type InputRecord struct {
	message  string
	metadata map[string]any
}

func NewInputRecord(message string, metadata map[string]any) InputRecord {
	return InputRecord{message: message, metadata: maps.Clone(metadata)}
}

func (r InputRecord) Message() string { return r.message }

func (r InputRecord) Get(key string) (any, bool) {
	v, ok := r.metadata[key]
	return v, ok
}

// Map returns a fresh map with the metadata and "message". A metadata key
// named "message" is shadowed by the raw line.
func (r InputRecord) Map() map[string]any {
	m := make(map[string]any, len(r.metadata)+1)
	for k, v := range r.metadata {
		m[k] = v
	}
	m["message"] = r.message
	return m
}
