package deadletter

import (
	"encoding/json"
)

const (
	ContentTypeJSON   = "application/json"
	ContentTypeBinary = "application/octet-stream"
)

// Serializer produces the canonical serialized form of a decoded value.
type Serializer[T any] func(value *T) ([]byte, error)

// JSONSerializer is the default canonical form.
func JSONSerializer[T any](value *T) ([]byte, error) {
	return json.Marshal(value)
}
