package operations

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Wire format: a retain is a JSON number, an insert is {"i": content} and a
// delete is {"d": content}. Content is a string for text, or an object
// keyed by "type" (structural open), "tag" (tag open), "end" (tag close)
// or "object" (opaque leaf).

type openWire struct {
	Type       string         `json:"type"`
	ID         int            `json:"id,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

type tagWire struct {
	Tag        string         `json:"tag"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

type endWire struct {
	End string `json:"end"`
}

type objectWire struct {
	Object     string         `json:"object"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// MarshalContent returns the wire value of c.
func MarshalContent(c Content) (any, error) {
	switch v := c.(type) {
	case Text:
		return string(v), nil
	case Open:
		return openWire{Type: v.Type, ID: v.ID, Attributes: v.Attributes}, nil
	case TagOpen:
		return tagWire{Tag: v.Tag, Attributes: v.Attributes}, nil
	case TagClose:
		return endWire{End: v.Tag}, nil
	case Object:
		return objectWire{Object: v.Name, Attributes: v.Attributes}, nil
	default:
		return nil, ErrUnknownOperationShape
	}
}

// UnmarshalContent decodes one wire content value.
func UnmarshalContent(data []byte) (Content, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("failed to unmarshal text: %w", err)
		}
		return Text(s), nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return nil, ErrUnknownOperationShape
	}

	switch {
	case fields["end"] != nil:
		var w endWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tag close: %w", err)
		}
		return TagClose{Tag: w.End}, nil
	case fields["tag"] != nil:
		var w tagWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tag open: %w", err)
		}
		return TagOpen{Tag: w.Tag, Attributes: w.Attributes}, nil
	case fields["type"] != nil:
		var w openWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("failed to unmarshal structural open: %w", err)
		}
		return Open{Type: w.Type, ID: w.ID, Attributes: w.Attributes}, nil
	case fields["object"] != nil:
		var w objectWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("failed to unmarshal object: %w", err)
		}
		return Object{Name: w.Object, Attributes: w.Attributes}, nil
	default:
		return nil, ErrUnknownOperationShape
	}
}

// MarshalJSON encodes the atom in wire format.
func (a Atom) MarshalJSON() ([]byte, error) {
	if a.Kind == KindRetain {
		return json.Marshal(a.N)
	}
	v, err := MarshalContent(a.Content)
	if err != nil {
		return nil, err
	}
	switch a.Kind {
	case KindInsert:
		return json.Marshal(map[string]any{"i": v})
	case KindDelete:
		return json.Marshal(map[string]any{"d": v})
	default:
		return nil, ErrUnknownOperationShape
	}
}

// UnmarshalJSON decodes an atom from wire format.
func (a *Atom) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return ErrUnknownOperationShape
	}

	if data[0] != '{' {
		var n int
		if err := json.Unmarshal(data, &n); err != nil || n < 0 {
			return ErrUnknownOperationShape
		}
		*a = NewRetain(n)
		return nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return ErrUnknownOperationShape
	}
	if raw, ok := fields["i"]; ok {
		c, err := UnmarshalContent(raw)
		if err != nil {
			return err
		}
		*a = NewInsert(c)
		return nil
	}
	if raw, ok := fields["d"]; ok {
		c, err := UnmarshalContent(raw)
		if err != nil {
			return err
		}
		*a = NewDelete(c)
		return nil
	}
	return ErrUnknownOperationShape
}

// ToJSON converts the operation to JSON.
func (op Op) ToJSON() (string, error) {
	data, err := json.Marshal(op)
	if err != nil {
		return "", fmt.Errorf("failed to marshal operation: %w", err)
	}
	return string(data), nil
}

// FromJSON creates an operation from JSON.
func FromJSON(jsonStr string) (Op, error) {
	var op Op
	if err := json.Unmarshal([]byte(jsonStr), &op); err != nil {
		return nil, fmt.Errorf("failed to unmarshal operation: %w", err)
	}
	return op, nil
}
