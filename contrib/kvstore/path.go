/*
Copyright 2024-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package kvstore

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// SplitPath splits a dotted path into its root key and the segments below it.
func SplitPath(path string) (string, []string) {
	parts := strings.Split(path, ".")
	return parts[0], parts[1:]
}

// GetPath loads the JSON document stored at the root key of path and returns
// the value found by descending the remaining segments.
func GetPath(ctx context.Context, store Store, path string) (interface{}, bool, error) {
	rootKey, segments := SplitPath(path)

	data, ok, err := store.Get(ctx, rootKey)
	if err != nil || !ok {
		return nil, false, err
	}

	var doc interface{}
	err = json.Unmarshal(data, &doc)
	if err != nil {
		return nil, false, errors.Wrapf(err, "failed to parse document at %s", rootKey)
	}

	cur := doc
	for _, segment := range segments {
		obj, isObj := cur.(map[string]interface{})
		if !isObj {
			return nil, false, nil
		}

		cur, ok = obj[segment]
		if !ok {
			return nil, false, nil
		}
	}

	return cur, true, nil
}

// SetPath replaces the value at path inside the JSON document stored at its
// root key, creating intermediate objects as needed.  This is a plain
// read-modify-write and is not atomic.
func SetPath(ctx context.Context, store Store, path string, value interface{}) error {
	rootKey, segments := SplitPath(path)

	if len(segments) == 0 {
		data, err := json.Marshal(value)
		if err != nil {
			return err
		}
		return store.Set(ctx, rootKey, data)
	}

	root, err := loadObject(ctx, store, rootKey)
	if err != nil {
		return err
	}

	parent := root
	for _, segment := range segments[:len(segments)-1] {
		child, ok := parent[segment].(map[string]interface{})
		if !ok {
			child = make(map[string]interface{})
			parent[segment] = child
		}
		parent = child
	}
	parent[segments[len(segments)-1]] = value

	data, err := json.Marshal(root)
	if err != nil {
		return err
	}

	return store.Set(ctx, rootKey, data)
}

// DeletePath removes the value at path.  Deleting a root path removes the key.
func DeletePath(ctx context.Context, store Store, path string) error {
	rootKey, segments := SplitPath(path)

	if len(segments) == 0 {
		return store.Delete(ctx, rootKey)
	}

	root, err := loadObject(ctx, store, rootKey)
	if err != nil {
		return err
	}

	parent := root
	for _, segment := range segments[:len(segments)-1] {
		child, ok := parent[segment].(map[string]interface{})
		if !ok {
			return nil
		}
		parent = child
	}
	delete(parent, segments[len(segments)-1])

	data, err := json.Marshal(root)
	if err != nil {
		return err
	}

	return store.Set(ctx, rootKey, data)
}

func loadObject(ctx context.Context, store Store, rootKey string) (map[string]interface{}, error) {
	data, ok, err := store.Get(ctx, rootKey)
	if err != nil {
		return nil, err
	}

	root := make(map[string]interface{})
	if ok {
		err = json.Unmarshal(data, &root)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse document at %s", rootKey)
		}
	}

	return root, nil
}
