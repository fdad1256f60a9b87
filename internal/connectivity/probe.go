// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package connectivity

import (
	"context"
	"net"
	"strings"
)

// InterfaceProber reports reachable when any interface is up, is not a
// loopback and carries a unicast address.
//
// When the server address itself is on loopback, link state is irrelevant
// and the prober always reports reachable.
type InterfaceProber struct {
	// ServerHost is the host part of the configured server address.
	ServerHost string

	// Interfaces lists interfaces with their addresses. Defaults to the
	// host's interfaces.
	Interfaces func() ([]Interface, error)
}

// Interface is the subset of net.Interface the prober needs.
type Interface struct {
	Name  string
	Flags net.Flags
	Addrs []net.Addr
}

// Probe implements Prober.
func (p InterfaceProber) Probe(ctx context.Context) (bool, error) {
	if IsLoopbackHost(p.ServerHost) {
		return true, nil
	}

	list := p.Interfaces
	if list == nil {
		list = systemInterfaces
	}
	ifaces, err := list()
	if err != nil {
		return false, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		for _, addr := range iface.Addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && ipnet.IP.IsGlobalUnicast() {
				return true, nil
			}
		}
	}
	return false, ctx.Err()
}

func systemInterfaces() ([]Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	out := make([]Interface, 0, len(ifaces))
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		out = append(out, Interface{Name: iface.Name, Flags: iface.Flags, Addrs: addrs})
	}
	return out, nil
}

// IsLoopbackHost reports whether host names the local machine. It accepts
// "localhost", any IPv4 or IPv6 loopback address, and bracketed or
// host:port forms.
func IsLoopbackHost(host string) bool {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(strings.Trim(host, "[]"))
	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}
