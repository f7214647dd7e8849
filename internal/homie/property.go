package homie

import (
	"math"
	"strconv"
	"strings"
)

// DataType is the declared Homie payload type of a property.
type DataType string

// Data types defined by the Homie convention.
const (
	DataTypeInteger  DataType = "integer"
	DataTypeFloat    DataType = "float"
	DataTypeBoolean  DataType = "boolean"
	DataTypeString   DataType = "string"
	DataTypeEnum     DataType = "enum"
	DataTypeColor    DataType = "color"
	DataTypeDatetime DataType = "datetime"
	DataTypeDuration DataType = "duration"
)

// Property attribute names.
const (
	AttrPropertyName     = "$name"
	AttrPropertyDataType = "$datatype"
	AttrPropertyUnit     = "$unit"
	AttrPropertyFormat   = "$format"
	AttrPropertySettable = "$settable"
	AttrPropertyRetained = "$retained"
)

// Property is a single value published by a node.
//
// Value holds the last payload parsed according to DataType where feasible
// (int64, float64 or bool), otherwise the raw string. RawValue always holds
// the payload as received.
type Property struct {
	ID       string   `json:"id"`
	Name     string   `json:"name,omitempty"`
	Unit     string   `json:"unit,omitempty"`
	DataType DataType `json:"datatype,omitempty"`
	Format   string   `json:"format,omitempty"`
	Settable bool     `json:"settable"`
	Retained bool     `json:"retained"`
	Value    any      `json:"value,omitempty"`
	RawValue string   `json:"raw_value,omitempty"`

	// Attributes holds property attributes the model has no field for.
	Attributes map[string]string `json:"attributes,omitempty"`
}

// newProperty creates an empty property. Homie defaults $retained to true.
func newProperty(id string) *Property {
	return &Property{
		ID:       id,
		Retained: true,
	}
}

// setAttribute applies a "$"-prefixed property attribute.
func (p *Property) setAttribute(attr, value string) {
	switch attr {
	case AttrPropertyName:
		p.Name = value
	case AttrPropertyDataType:
		p.DataType = DataType(strings.ToLower(strings.TrimSpace(value)))
		if p.RawValue != "" {
			p.Value = parseValue(p.DataType, p.RawValue)
		}
	case AttrPropertyUnit:
		p.Unit = value
	case AttrPropertyFormat:
		p.Format = value
	case AttrPropertySettable:
		p.Settable = parseBool(value)
	case AttrPropertyRetained:
		p.Retained = parseBool(value)
	default:
		if p.Attributes == nil {
			p.Attributes = make(map[string]string)
		}
		p.Attributes[attr] = value
	}
}

// setValue stores a new raw payload and returns the parsed value.
func (p *Property) setValue(raw string) any {
	p.RawValue = raw
	p.Value = parseValue(p.DataType, raw)
	return p.Value
}

// DeepCopy returns an independent copy of the property.
func (p *Property) DeepCopy() *Property {
	if p == nil {
		return nil
	}
	cp := *p
	if p.Attributes != nil {
		cp.Attributes = make(map[string]string, len(p.Attributes))
		for k, v := range p.Attributes {
			cp.Attributes[k] = v
		}
	}
	return &cp
}

// parseValue converts a raw payload to the Go type matching dt. Payloads that
// do not parse, and all non-numeric data types, are returned unchanged.
func parseValue(dt DataType, raw string) any {
	switch dt {
	case DataTypeInteger:
		if v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64); err == nil {
			return v
		}
	case DataTypeFloat:
		if v, ok := parseFloat(strings.TrimSpace(raw)); ok {
			return v
		}
	case DataTypeBoolean:
		switch strings.TrimSpace(raw) {
		case "true":
			return true
		case "false":
			return false
		}
	}
	return raw
}

// parseFloat accepts finite decimal notation with an optional exponent.
// strconv.ParseFloat alone would also take hex, NaN and Inf forms.
func parseFloat(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c == '.', c == '-', c == '+', c == 'e', c == 'E':
		default:
			return 0, false
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func parseBool(value string) bool {
	return strings.EqualFold(strings.TrimSpace(value), "true")
}
