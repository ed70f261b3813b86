package orders

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// ItemRequest is one requested line: a free-text product name and a quantity.
type ItemRequest struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// UnmarshalJSON accepts quantities encoded as integers, integral floats or
// numeric strings, and defaults a missing quantity to 1.
func (it *ItemRequest) UnmarshalJSON(b []byte) error {
	var raw struct {
		Name     string      `json:"name"`
		Quantity json.Number `json:"quantity"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidItems, err)
	}
	it.Name = raw.Name
	it.Quantity = 1
	if raw.Quantity == "" {
		return nil
	}
	f, err := raw.Quantity.Float64()
	if err != nil || f != math.Trunc(f) {
		return fmt.Errorf("%w: quantity %q is not a whole number", ErrInvalidItems, raw.Quantity)
	}
	it.Quantity = int(f)
	return nil
}

// ItemList is the items argument of the order tools. Models sometimes send
// it as a JSON-encoded string rather than an array; both forms are accepted.
type ItemList []ItemRequest

func (l *ItemList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidItems, err)
		}
		b = []byte(strings.TrimSpace(s))
	}
	var items []ItemRequest
	if err := json.Unmarshal(b, &items); err != nil {
		return fmt.Errorf("%w: items must be a list of {name, quantity}: %v", ErrInvalidItems, err)
	}
	*l = items
	return nil
}

// Validate rejects empty lists, unnamed items and non-positive quantities.
func (l ItemList) Validate() error {
	if len(l) == 0 {
		return fmt.Errorf("%w: at least one item is required", ErrInvalidItems)
	}
	for i, it := range l {
		if strings.TrimSpace(it.Name) == "" {
			return fmt.Errorf("%w: item %d must include a name", ErrInvalidItems, i)
		}
		if it.Quantity <= 0 {
			return fmt.Errorf("%w: item %d quantity must be positive", ErrInvalidItems, i)
		}
	}
	return nil
}
