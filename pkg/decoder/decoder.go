package decoder

import (
	"encoding/json"
	"fmt"
	"io"
)

// DecodeStrict decodes a single JSON document from r into a T. Unknown fields and
// anything after the document are errors.
func DecodeStrict[T any](r io.Reader) (T, error) {
	var out T

	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&out); err != nil {
		return out, fmt.Errorf("failed to decode: %w", err)
	}

	if dec.More() {
		return out, fmt.Errorf("unexpected data after JSON document")
	}

	return out, nil
}
