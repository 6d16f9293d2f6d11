package metadata

import "encoding/json"

// Facet is one independently extracted piece of the snapshot. It carries
// either a value or the reason the value could not be read, so "absent" and
// "unreadable" stay distinguishable in the audit trail.
type Facet[T any] struct {
	Value  T
	Reason string
}

func Found[T any](value T) Facet[T] {
	return Facet[T]{Value: value}
}

func Unavailable[T any](reason string) Facet[T] {
	if reason == "" {
		reason = "unknown"
	}
	return Facet[T]{Reason: reason}
}

// OK reports whether the facet holds a value.
func (f Facet[T]) OK() bool {
	return f.Reason == ""
}

type unavailableMarker struct {
	Unavailable string `json:"unavailable"`
}

// MarshalJSON writes the value, or {"unavailable": reason}.
func (f Facet[T]) MarshalJSON() ([]byte, error) {
	if f.OK() {
		return json.Marshal(f.Value)
	}
	return json.Marshal(unavailableMarker{Unavailable: f.Reason})
}

func (f *Facet[T]) UnmarshalJSON(data []byte) error {
	var marker unavailableMarker
	if err := json.Unmarshal(data, &marker); err == nil && marker.Unavailable != "" {
		var zero T
		f.Value = zero
		f.Reason = marker.Unavailable
		return nil
	}
	f.Reason = ""
	return json.Unmarshal(data, &f.Value)
}
