package metadata

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Attribute is one ERC-721 metadata trait. Value keeps the JSON scalar as decoded
// (string, float64, bool) so numbers survive without quoting.
type Attribute struct {
	TraitType   string `json:"trait_type"`
	Value       any    `json:"value"`
	DisplayType string `json:"display_type,omitempty"`
}

// ValueString renders Value for display.
func (a Attribute) ValueString() string {
	switch v := a.Value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// Metadata is the subset of token metadata the mint result view needs.
type Metadata struct {
	Name        string      `json:"name,omitempty"`
	Description string      `json:"description,omitempty"`
	Image       string      `json:"image,omitempty"`
	Attributes  []Attribute `json:"attributes,omitempty"`

	// Raw is the document as served, before gateway rewriting.
	Raw json.RawMessage `json:"-"`
}

// document is the wire shape. Attributes stays raw so a non-array value is
// treated as absent rather than failing the whole decode.
type document struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Image       json.RawMessage `json:"image"`
	Attributes  json.RawMessage `json:"attributes"`
}

// Decode parses a metadata body. ready reports whether the document carries an
// image or attributes; either one is enough.
func Decode(body []byte) (md Metadata, ready bool, err error) {
	var doc document
	if err := json.Unmarshal(body, &doc); err != nil {
		return Metadata{}, false, fmt.Errorf("metadata: decode: %w", err)
	}

	md = Metadata{
		Name:        doc.Name,
		Description: doc.Description,
		Raw:         append(json.RawMessage(nil), body...),
	}

	hasImage := present(doc.Image)
	if hasImage {
		var s string
		if err := json.Unmarshal(doc.Image, &s); err == nil {
			md.Image = s
		}
	}
	hasAttrs := present(doc.Attributes)
	if hasAttrs {
		var attrs []Attribute
		if err := json.Unmarshal(doc.Attributes, &attrs); err == nil {
			md.Attributes = attrs
		}
	}
	return md, hasImage || hasAttrs, nil
}

// present mirrors a truthiness check: null, "", false and 0 count as missing.
func present(raw json.RawMessage) bool {
	switch string(raw) {
	case "", "null", `""`, "false", "0":
		return false
	default:
		return true
	}
}
