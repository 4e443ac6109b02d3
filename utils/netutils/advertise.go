/*
Copyright 2024-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package netutils

import (
	"net"
	"strconv"

	"github.com/pkg/errors"
)

// IsInAddrAny reports whether addr binds every interface.
func IsInAddrAny(addr string) bool {
	switch addr {
	case "", "0.0.0.0", "::", "[::]", "::/0":
		return true
	}
	return false
}

// GetOutboundIP returns the local address used for outbound traffic.  No
// packets are sent.
func GetOutboundIP() (net.IP, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return nil, errors.Wrap(err, "failed to find outbound address")
	}
	defer func() { _ = conn.Close() }()

	localAddr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return nil, errors.New("unexpected local address type")
	}

	return localAddr.IP, nil
}

// AdvertiseAddress returns a host:port other processes can reach us on.
// Wildcard binds are resolved to the outbound address.
func AdvertiseAddress(bindAddress string, port int) (string, error) {
	host := bindAddress
	if IsInAddrAny(bindAddress) {
		outboundIP, err := GetOutboundIP()
		if err != nil {
			return "", err
		}
		host = outboundIP.String()
	}

	return net.JoinHostPort(host, strconv.Itoa(port)), nil
}
