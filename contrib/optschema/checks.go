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
	"fmt"
	"math"

	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// CheckURI accepts any string ParseURI understands.
var CheckURI = CheckerFunc(func(val interface{}, ctx *Context) error {
	str, _ := val.(string)
	_, err := ParseURI(str)
	return err
})

// CheckFinite rejects infinite numbers.
var CheckFinite = CheckerFunc(func(val interface{}, ctx *Context) error {
	num, ok := ToFloat(val)
	if ok && math.IsInf(num, 0) {
		return errors.New("value must be finite")
	}
	return nil
})

// CheckNames rejects list entries which are not usable entity names.
var CheckNames = CheckerFunc(func(val interface{}, ctx *Context) error {
	names, _ := ToStringList(val)
	for _, name := range names {
		if err := ValidName(name); err != nil {
			return err
		}
	}
	return nil
})

// ValidName checks an entity name.  Dots are reserved as the store path
// separator.
func ValidName(name string) error {
	if name == "" {
		return errors.New("name must not be empty")
	}
	for _, c := range name {
		if c == '.' || c == '/' || c == ' ' {
			return errors.Errorf("name %q must not contain %q", name, c)
		}
	}
	return nil
}

// OnlyOnce fails the second time a true value is seen for key within the same
// context scope.  Combine with EachValue to enforce "at most one master" over a
// batch of entries.
func OnlyOnce(key string) Checker {
	return CheckerFunc(func(val interface{}, ctx *Context) error {
		flag, _ := val.(bool)
		if !flag {
			return nil
		}

		if prev, ok := ctx.Get(key); ok {
			return errors.Errorf("only one entry may be %s (already set by %v)", key, prev)
		}

		entry, _ := ctx.Get(EntryKey)
		if entry == nil {
			entry = true
		}
		ctx.Set(key, entry)
		return nil
	})
}

// EntryKey is set in the context by EachValue to the key of the entry being
// validated.
const EntryKey = "entry_key"

// EachValue validates every value of a map against the schema.  All entries
// share the caller's context.
func EachValue(schema *Schema) Checker {
	return eachValue(schema, false)
}

// EachValueScoped is EachValue with a fresh child context per entry.
func EachValueScoped(schema *Schema) Checker {
	return eachValue(schema, true)
}

func eachValue(schema *Schema, scoped bool) Checker {
	return TransformFunc(func(val interface{}, ctx *Context) (interface{}, error) {
		entries, ok := val.(map[string]interface{})
		if !ok {
			return nil, errors.Errorf("expected map, got %T", val)
		}

		keys := maps.Keys(entries)
		slices.Sort(keys)

		// shared entries overwrite the entry key of the enclosing scope, so put
		// it back once the batch is done
		prevKey, hadPrevKey := ctx.values[EntryKey]
		defer func() {
			if hadPrevKey {
				ctx.values[EntryKey] = prevKey
			} else {
				delete(ctx.values, EntryKey)
			}
		}()

		filled := make(map[string]interface{}, len(entries))
		for _, key := range keys {
			entry, ok := entries[key].(map[string]interface{})
			if !ok {
				return nil, &FieldError{Schema: schema.Name, Field: key, Reason: fmt.Sprintf("expected map, got %T", entries[key])}
			}

			entryCtx := ctx
			if scoped {
				entryCtx = ctx.Child()
			}
			entryCtx.Set(EntryKey, key)

			out, err := schema.ValidateContext(entry, entryCtx)
			if err != nil {
				var fieldErr *FieldError
				if errors.As(err, &fieldErr) {
					return nil, &FieldError{Schema: fieldErr.Schema, Field: key + "." + fieldErr.Field, Reason: fieldErr.Reason}
				}
				return nil, err
			}
			filled[key] = out
		}

		return filled, nil
	})
}

// CheckDistanceMatrix validates a zone distance matrix: every distance must be
// a non-negative number and a zone's distance to itself must be zero or unset.
var CheckDistanceMatrix = CheckerFunc(func(val interface{}, ctx *Context) error {
	matrix, ok := val.(map[string]interface{})
	if !ok {
		return errors.Errorf("expected map, got %T", val)
	}

	zones := maps.Keys(matrix)
	slices.Sort(zones)

	for _, zone := range zones {
		row, ok := matrix[zone].(map[string]interface{})
		if !ok {
			return errors.Errorf("zone %q: expected map of distances, got %T", zone, matrix[zone])
		}

		for other, distVal := range row {
			dist, ok := ToFloat(distVal)
			if !ok {
				return errors.Errorf("zone %q: distance to %q must be a number, got %T", zone, other, distVal)
			}
			if dist < 0 || math.IsNaN(dist) || math.IsInf(dist, 0) {
				return errors.Errorf("zone %q: distance to %q must be a finite non-negative number", zone, other)
			}
			if other == zone && dist != 0 {
				return errors.Errorf("zone %q: distance to itself must be 0", zone)
			}
		}
	}

	return nil
})

// Nested validates a map value against a schema using the caller's context.
// The stored value is the nested bag with its defaults filled in.
func Nested(schema *Schema) Checker {
	return TransformFunc(func(val interface{}, ctx *Context) (interface{}, error) {
		entry, ok := val.(map[string]interface{})
		if !ok {
			return nil, errors.Errorf("expected map, got %T", val)
		}

		return schema.ValidateContext(entry, ctx)
	})
}

// All runs every checker in order and stops at the first failure.  Values
// returned by transforming checkers are passed on to the next one.
func All(checks ...Checker) Checker {
	return TransformFunc(func(val interface{}, ctx *Context) (interface{}, error) {
		for _, check := range checks {
			next, err := runCheck(check, val, ctx)
			if err != nil {
				return nil, err
			}
			val = next
		}
		return val, nil
	})
}

// Unique fails when the same string value is seen twice under key anywhere in
// one validation call.
func Unique(key string) Checker {
	return CheckerFunc(func(val interface{}, ctx *Context) error {
		str, ok := val.(string)
		if !ok {
			return nil
		}

		entry, _ := ctx.Get(EntryKey)
		owner := fmt.Sprint(entry)

		seen := ctx.Seen(key)
		if prev, dup := seen[str]; dup {
			return errors.Errorf("duplicate %s %q (already used by %s)", key, str, prev)
		}
		seen[str] = owner
		return nil
	})
}
