package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

type (
	// Operation is a single JSON-Patch operation.
	Operation struct {
		Op    OperationType `json:"op"`
		Path  string        `json:"path"`
		From  string        `json:"from,omitempty"`
		Value interface{}   `json:"value,omitempty"`
	}

	// Patch is an ordered JSON-Patch operation sequence.
	Patch []Operation
)

// String implements the stringer interface.
func (p Patch) String() string {
	str := strings.Builder{}
	for i, op := range p {
		str.WriteString(fmt.Sprintf("- [%d] %s %s\n", i, op.Op, op.Path))
	}

	return str.String()
}

// MarshalJSON keeps the {"op","path","value"} field order and omits the value for ops that do not carry one.
func (o Operation) MarshalJSON() ([]byte, error) {
	switch {
	case o.Op.HasValue():
		return marshal(struct {
			Op    OperationType `json:"op"`
			Path  string        `json:"path"`
			Value interface{}   `json:"value"`
		}{o.Op, o.Path, o.Value})
	case o.Op == MoveOperationType || o.Op == CopyOperationType:
		return marshal(struct {
			Op   OperationType `json:"op"`
			From string        `json:"from"`
			Path string        `json:"path"`
		}{o.Op, o.From, o.Path})
	default:
		return marshal(struct {
			Op   OperationType `json:"op"`
			Path string        `json:"path"`
		}{o.Op, o.Path})
	}
}

// Encode builds the compact wire representation.
func (p Patch) Encode() ([]byte, error) {
	if p == nil {
		p = Patch{}
	}

	return marshal(p)
}

// Encode builds the compact wire representation, a nil Document is encoded as an empty object.
func (d Document) Encode() ([]byte, error) {
	if d == nil {
		d = Document{}
	}

	return marshal(map[string]interface{}(d))
}

// DecodePatch parses a wire patch keeping numbers as json.Number.
func DecodePatch(data []byte) (Patch, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	p := Patch{}
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("patch decode: %w", err)
	}
	for i, op := range p {
		if op.Op == "" {
			return nil, fmt.Errorf("op[%d]: %s: empty", i, "op")
		}
	}

	return p, nil
}

// DecodeDocument parses a wire document.
// The raw variant keeps numbers as json.Number (validation input), the Document uses float64.
func DecodeDocument(data []byte) (Document, interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, nil, fmt.Errorf("document decode: %w", err)
	}
	if _, ok := raw.(map[string]interface{}); !ok {
		return nil, nil, fmt.Errorf("document decode: expected an object, got %s", bytes.TrimSpace(data))
	}

	doc := Document{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("document decode: %w", err)
	}

	return doc, raw, nil
}

// marshal is json.Marshal without HTML escaping and without the trailing newline.
func marshal(v interface{}) ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
