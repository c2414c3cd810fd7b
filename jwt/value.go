package jwt

import (
	"github.com/tidwall/gjson"
)

// Kind is the JSON type of a claim value.
type Kind int

// Kinds of the claim values. The zero Value, and the JSON null, are
// Null.
const (
	Null Kind = iota
	String
	Number
	Bool
	Array
	Object
)

func (k Kind) String() string {
	switch k {
	case String:
		return "string"
	case Number:
		return "number"
	case Bool:
		return "bool"
	case Array:
		return "array"
	case Object:
		return "object"
	default:
		return "null"
	}
}

// Value is a single claim value as found in the token payload.
type Value struct {
	raw gjson.Result
}

// ClaimSet maps claim names to their values.
type ClaimSet map[string]Value

// Get returns the value of the claim and whether it was present.
func (c ClaimSet) Get(name string) (Value, bool) {
	v, ok := c[name]
	return v, ok
}

// Map converts the claim set into plain Go values, the way encoding/json
// would decode the payload into a map[string]any.
func (c ClaimSet) Map() map[string]any {
	m := make(map[string]any, len(c))
	for k, v := range c {
		m[k] = v.Interface()
	}
	return m
}

// Kind returns the JSON type of the value.
func (v Value) Kind() Kind {
	switch v.raw.Type {
	case gjson.String:
		return String
	case gjson.Number:
		return Number
	case gjson.True, gjson.False:
		return Bool
	case gjson.JSON:
		if v.raw.IsArray() {
			return Array
		}
		return Object
	default:
		return Null
	}
}

// Interface returns the value as float64, string, bool, nil, []any or
// map[string]any.
func (v Value) Interface() any {
	return v.raw.Value()
}

// String renders the value as header text. Strings are returned as they
// are, numbers as their JSON literal, booleans as true or false, null as
// null, and arrays and objects as compact JSON.
func (v Value) String() string {
	switch v.Kind() {
	case String:
		return v.raw.Str
	case Number:
		return v.raw.Raw
	case Bool:
		if v.raw.Bool() {
			return "true"
		}
		return "false"
	case Array, Object:
		return gjson.Get(v.raw.Raw, "@ugly").Raw
	default:
		return "null"
	}
}

// Raw returns the JSON text of the value as it appeared in the payload.
func (v Value) Raw() string {
	return v.raw.Raw
}
