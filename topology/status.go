/*
Copyright 2024-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package topology

import (
	"github.com/couchbase/stellar-topology/contrib/optschema"
	"github.com/pkg/errors"
)

// Status is the lifecycle state of an instance.  Expelled is terminal and can
// only be entered through DeleteNode.
type Status string

const (
	StatusReachable   Status = "reachable"
	StatusUnreachable Status = "unreachable"
	StatusExpelled    Status = "expelled"
)

func (s Status) IsExpelled() bool {
	return s == StatusExpelled
}

// Transition returns the status an instance moves to when next is requested.
func (s Status) Transition(next Status) (Status, error) {
	if s == StatusExpelled {
		return s, ErrExpelled
	}

	switch next {
	case StatusReachable, StatusUnreachable:
		return next, nil
	}

	return s, &optschema.FieldError{
		Schema: instanceSchema.Name,
		Field:  "status",
		Reason: "cannot move from " + string(s) + " to " + string(next),
	}
}

func (s Status) expel() (Status, error) {
	if s == StatusExpelled {
		return s, ErrExpelled
	}
	return StatusExpelled, nil
}

func statusOf(bag map[string]interface{}) Status {
	status, _ := bag["status"].(string)
	if status == "" {
		return StatusReachable
	}
	return Status(status)
}

func errExpelled(name string) error {
	return errors.Wrapf(ErrExpelled, "instance %s", name)
}
