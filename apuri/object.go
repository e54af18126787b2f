package apuri

import (
	"fmt"
)

// Implemented by protocol object types that know their own identifier.
type Identifiable interface {
	ApID() string
}

// ExtractApID pulls the identifier out of a protocol value: a raw string,
// an Identifiable, or a decoded JSON object with an "id" field.
func ExtractApID(obj any) (string, error) {
	switch v := obj.(type) {
	case string:
		if v == "" {
			return "", fmt.Errorf("%w: empty identifier", ErrInvalidIdentifier)
		}
		return v, nil
	case Identifiable:
		if v.ApID() == "" {
			return "", fmt.Errorf("%w: object has empty id", ErrInvalidIdentifier)
		}
		return v.ApID(), nil
	case map[string]any:
		id, ok := v["id"].(string)
		if !ok || id == "" {
			return "", fmt.Errorf("%w: object has no id field", ErrInvalidIdentifier)
		}
		return id, nil
	default:
		return "", fmt.Errorf("%w: unsupported identifier type %T", ErrInvalidIdentifier, obj)
	}
}
