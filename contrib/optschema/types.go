/*
Copyright 2024-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package optschema

import (
	"math"
	"strings"
)

// Type describes one acceptable kind of value for a field.
type Type interface {
	Name() string
	Match(val interface{}) bool
}

type simpleType struct {
	name    string
	matchFn func(val interface{}) bool
}

func (t simpleType) Name() string               { return t.name }
func (t simpleType) Match(val interface{}) bool { return t.matchFn(val) }

var (
	Any = simpleType{"any", func(val interface{}) bool {
		return val != nil
	}}

	String = simpleType{"string", func(val interface{}) bool {
		_, ok := val.(string)
		return ok
	}}

	NonEmptyString = simpleType{"non-empty string", func(val interface{}) bool {
		str, ok := val.(string)
		return ok && strings.TrimSpace(str) != ""
	}}

	Boolean = simpleType{"boolean", func(val interface{}) bool {
		_, ok := val.(bool)
		return ok
	}}

	Number = simpleType{"number", func(val interface{}) bool {
		num, ok := ToFloat(val)
		return ok && isFinite(num)
	}}

	NonNegativeNumber = simpleType{"non-negative number", func(val interface{}) bool {
		num, ok := ToFloat(val)
		return ok && isFinite(num) && num >= 0
	}}

	PositiveNumber = simpleType{"positive number", func(val interface{}) bool {
		num, ok := ToFloat(val)
		return ok && isFinite(num) && num > 0
	}}

	Integer = simpleType{"integer", func(val interface{}) bool {
		num, ok := ToFloat(val)
		return ok && isWhole(num)
	}}

	NonNegativeInteger = simpleType{"non-negative integer", func(val interface{}) bool {
		num, ok := ToFloat(val)
		return ok && isWhole(num) && num >= 0
	}}

	PositiveInteger = simpleType{"positive integer", func(val interface{}) bool {
		num, ok := ToFloat(val)
		return ok && isWhole(num) && num > 0
	}}

	Map = simpleType{"map", func(val interface{}) bool {
		_, ok := val.(map[string]interface{})
		return ok
	}}

	List = simpleType{"list", func(val interface{}) bool {
		_, ok := val.([]interface{})
		if ok {
			return true
		}
		_, ok = val.([]string)
		return ok
	}}

	StringList = simpleType{"list of strings", func(val interface{}) bool {
		_, ok := ToStringList(val)
		return ok
	}}
)

type unionType struct {
	types []Type
}

// OneOf builds a union type matching any of the listed types.
func OneOf(types ...Type) Type {
	return unionType{types: types}
}

func (t unionType) Name() string {
	names := make([]string, 0, len(t.types))
	for _, typ := range t.types {
		names = append(names, typ.Name())
	}
	return "one of (" + strings.Join(names, ", ") + ")"
}

func (t unionType) Match(val interface{}) bool {
	for _, typ := range t.types {
		if typ.Match(val) {
			return true
		}
	}
	return false
}

// Enum matches a string equal to one of the given values.
func Enum(values ...string) Type {
	return simpleType{
		name: "one of [" + strings.Join(values, ", ") + "]",
		matchFn: func(val interface{}) bool {
			str, ok := val.(string)
			if !ok {
				return false
			}
			for _, v := range values {
				if v == str {
					return true
				}
			}
			return false
		},
	}
}

// isFinite rejects NaN and the infinities, neither of which survive a JSON
// round trip.
func isFinite(num float64) bool {
	return !math.IsInf(num, 0) && !math.IsNaN(num)
}

func isWhole(num float64) bool {
	return isFinite(num) && math.Trunc(num) == num
}

// ToFloat coerces any Go numeric kind to float64.  Values decoded from JSON are
// always float64, while in-process callers tend to hand us ints.
func ToFloat(val interface{}) (float64, bool) {
	switch val := val.(type) {
	case float32:
		return float64(val), true
	case float64:
		return val, true
	case int:
		return float64(val), true
	case int8:
		return float64(val), true
	case int16:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint8:
		return float64(val), true
	case uint16:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint64:
		return float64(val), true
	}
	return 0, false
}

// ToStringList accepts either []string or a []interface{} holding only strings.
func ToStringList(val interface{}) ([]string, bool) {
	switch val := val.(type) {
	case []string:
		return val, true
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, item := range val {
			str, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, str)
		}
		return out, true
	}
	return nil, false
}
