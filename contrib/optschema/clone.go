/*
Copyright 2024-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package optschema

// Clone deep-copies maps and slices of option values.  Scalars are returned
// as-is.
func Clone(val interface{}) interface{} {
	switch val := val.(type) {
	case map[string]interface{}:
		return CloneMap(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = Clone(item)
		}
		return out
	case []string:
		out := make([]string, len(val))
		copy(out, val)
		return out
	}
	return val
}

func CloneMap(val map[string]interface{}) map[string]interface{} {
	if val == nil {
		return nil
	}

	out := make(map[string]interface{}, len(val))
	for k, v := range val {
		out[k] = Clone(v)
	}
	return out
}
