/*
Copyright 2024-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package optschema

// Context is the mutable scratch space shared by the checkers of one
// validation call.  Scoped children see their parents' values but keep their
// own writes local, which lets nested batches track per-batch state.
type Context struct {
	parent *Context
	values map[string]interface{}
}

func NewContext() *Context {
	return &Context{values: make(map[string]interface{})}
}

func (c *Context) Get(key string) (interface{}, bool) {
	for cur := c; cur != nil; cur = cur.parent {
		if val, ok := cur.values[key]; ok {
			return val, true
		}
	}
	return nil, false
}

func (c *Context) Set(key string, val interface{}) {
	c.values[key] = val
}

func (c *Context) Child() *Context {
	return &Context{parent: c, values: make(map[string]interface{})}
}

func (c *Context) Root() *Context {
	cur := c
	for cur.parent != nil {
		cur = cur.parent
	}
	return cur
}

// Seen returns a set stored at the root of the context, creating it on first
// use.  It is used to detect duplicates across an entire document.
func (c *Context) Seen(key string) map[string]string {
	root := c.Root()
	if val, ok := root.values[key]; ok {
		if set, ok := val.(map[string]string); ok {
			return set
		}
	}

	set := make(map[string]string)
	root.values[key] = set
	return set
}
