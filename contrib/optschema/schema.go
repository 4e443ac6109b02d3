/*
Copyright 2024-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

// Package optschema validates option bags (map[string]interface{}) against
// declarative schemas.  A schema is plain data: an ordered list of fields with
// their accepted types, defaults, bounds and optional custom checks.  Validation
// fails fast on the first violation.
package optschema

import (
	"fmt"

	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

var ErrValidation = errors.New("validation failed")

// FieldError names the schema and field which failed validation.
type FieldError struct {
	Schema string
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	if e.Schema == "" {
		return fmt.Sprintf("invalid option %q: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s option %q: %s", e.Schema, e.Field, e.Reason)
}

func (e *FieldError) Is(target error) bool {
	return target == ErrValidation
}

// Checker is a custom predicate run against a field value once its type has
// been accepted.  The context is shared across a whole validation call.
type Checker interface {
	Check(val interface{}, ctx *Context) error
}

type CheckerFunc func(val interface{}, ctx *Context) error

func (f CheckerFunc) Check(val interface{}, ctx *Context) error {
	return f(val, ctx)
}

// Transformer is a Checker which also hands back the value to store, such as
// a nested bag with its own defaults filled in.
type Transformer interface {
	Checker
	Transform(val interface{}, ctx *Context) (interface{}, error)
}

type TransformFunc func(val interface{}, ctx *Context) (interface{}, error)

func (f TransformFunc) Check(val interface{}, ctx *Context) error {
	_, err := f(val, ctx)
	return err
}

func (f TransformFunc) Transform(val interface{}, ctx *Context) (interface{}, error) {
	return f(val, ctx)
}

// runCheck returns the value to keep for a field after running its check.
func runCheck(check Checker, val interface{}, ctx *Context) (interface{}, error) {
	if t, ok := check.(Transformer); ok {
		return t.Transform(val, ctx)
	}
	return val, check.Check(val, ctx)
}

// Field is a single entry of a schema.
type Field struct {
	Name     string
	Type     Type
	Optional bool

	// Default is deep-copied into the output when the field is missing and
	// then checked like a supplied value.  A nil Default leaves an optional
	// field absent.
	Default interface{}

	// Max is an inclusive upper bound applied to numeric values.
	Max *float64

	Check Checker
}

// Bound is a helper for filling Field.Max.
func Bound(max float64) *float64 {
	return &max
}

type Schema struct {
	Name   string
	Fields []Field

	// Strict schemas reject keys which are not declared as a field.
	Strict bool

	// Checks run against the whole filled bag after every field passed.
	Checks []Checker
}

// Field returns the declared field with the given name.
func (s *Schema) Field(name string) (Field, bool) {
	for _, field := range s.Fields {
		if field.Name == name {
			return field, true
		}
	}
	return Field{}, false
}

// Validate checks values against the schema and returns a copy with defaults
// filled in.  The input map is never modified.
func Validate(values map[string]interface{}, schema *Schema) (map[string]interface{}, error) {
	return schema.ValidateContext(values, NewContext())
}

func (s *Schema) Validate(values map[string]interface{}) (map[string]interface{}, error) {
	return s.ValidateContext(values, NewContext())
}

func (s *Schema) ValidateContext(values map[string]interface{}, ctx *Context) (map[string]interface{}, error) {
	if ctx == nil {
		ctx = NewContext()
	}

	out := CloneMap(values)
	if out == nil {
		out = make(map[string]interface{})
	}

	if s.Strict {
		keys := maps.Keys(out)
		slices.Sort(keys)
		for _, key := range keys {
			if _, ok := s.Field(key); !ok {
				return nil, s.fail(key, "unknown option")
			}
		}
	}

	for _, field := range s.Fields {
		val, ok := out[field.Name]
		if !ok || val == nil {
			if field.Default == nil {
				if !field.Optional {
					return nil, s.fail(field.Name, "required option is missing")
				}
				delete(out, field.Name)
				continue
			}
			val = Clone(field.Default)
		}

		if field.Type != nil && !field.Type.Match(val) {
			return nil, s.fail(field.Name, fmt.Sprintf("expected %s, got %T", field.Type.Name(), val))
		}

		if field.Max != nil {
			if num, isNum := ToFloat(val); isNum && num > *field.Max {
				return nil, s.fail(field.Name, fmt.Sprintf("value %v exceeds maximum %v", val, *field.Max))
			}
		}

		if field.Check != nil {
			checked, err := runCheck(field.Check, val, ctx)
			if err != nil {
				return nil, s.wrapCheck(field.Name, err)
			}
			val = checked
		}

		out[field.Name] = val
	}

	for _, check := range s.Checks {
		err := check.Check(out, ctx)
		if err != nil {
			return nil, s.wrapCheck("", err)
		}
	}

	return out, nil
}

func (s *Schema) fail(field, reason string) error {
	return &FieldError{Schema: s.Name, Field: field, Reason: reason}
}

// wrapCheck keeps errors from nested schemas intact so the innermost field is
// reported, and prefixes the outer field path.
func (s *Schema) wrapCheck(field string, err error) error {
	var fieldErr *FieldError
	if errors.As(err, &fieldErr) {
		path := fieldErr.Field
		if field != "" {
			path = field + "." + path
		}
		return &FieldError{Schema: fieldErr.Schema, Field: path, Reason: fieldErr.Reason}
	}
	if field == "" {
		field = "*"
	}
	return s.fail(field, err.Error())
}
