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
	"net"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// URI is a parsed node address of the form
// [user[:password]@](host:port | port | unix/:path).
type URI struct {
	User     string
	Password string
	Host     string
	Port     int
	UnixPath string
}

func (u *URI) IsUnix() bool {
	return u.UnixPath != ""
}

// Address returns the uri without credentials.
func (u *URI) Address() string {
	if u.IsUnix() {
		return "unix/:" + u.UnixPath
	}
	if u.Host == "" {
		return strconv.Itoa(u.Port)
	}
	return net.JoinHostPort(u.Host, strconv.Itoa(u.Port))
}

func ParseURI(uri string) (*URI, error) {
	if strings.TrimSpace(uri) != uri || uri == "" {
		return nil, errors.Errorf("malformed uri %q", uri)
	}

	out := &URI{}
	rest := uri

	if at := strings.LastIndex(rest, "@"); at >= 0 {
		user, password, _ := strings.Cut(rest[:at], ":")
		if user == "" {
			return nil, errors.Errorf("malformed uri %q: empty user", uri)
		}
		out.User = user
		out.Password = password
		rest = rest[at+1:]
	}

	if strings.HasPrefix(rest, "unix/:") {
		out.UnixPath = strings.TrimPrefix(rest, "unix/:")
		if out.UnixPath == "" {
			return nil, errors.Errorf("malformed uri %q: empty socket path", uri)
		}
		return out, nil
	}

	if !strings.Contains(rest, ":") {
		port, err := parsePort(rest)
		if err != nil {
			return nil, errors.Wrapf(err, "malformed uri %q", uri)
		}
		out.Port = port
		return out, nil
	}

	host, portStr, err := net.SplitHostPort(rest)
	if err != nil {
		return nil, errors.Wrapf(err, "malformed uri %q", uri)
	}
	if host == "" || strings.ContainsAny(host, " /@") {
		return nil, errors.Errorf("malformed uri %q: bad host", uri)
	}

	port, err := parsePort(portStr)
	if err != nil {
		return nil, errors.Wrapf(err, "malformed uri %q", uri)
	}

	out.Host = host
	out.Port = port
	return out, nil
}

func parsePort(str string) (int, error) {
	port, err := strconv.Atoi(str)
	if err != nil {
		return 0, errors.Errorf("bad port %q", str)
	}
	if port <= 0 || port > 65535 {
		return 0, errors.Errorf("port %d out of range", port)
	}
	return port, nil
}
