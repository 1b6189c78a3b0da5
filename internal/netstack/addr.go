// Copyright 2025 the AMQ-OS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package netstack implements the protocol stack above the NIC:
// Ethernet framing, ARP, IPv4, ICMP, UDP, client-side TCP, and the
// DHCP, DNS and HTTP clients on top.
package netstack

import (
	"fmt"

	"github.com/mqestical/amqos/internal/kerr"
)

// MAC is an Ethernet hardware address.
type MAC [6]byte

// BroadcastMAC is FF:FF:FF:FF:FF:FF.
var BroadcastMAC = MAC{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

func (m MAC) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", m[0], m[1], m[2], m[3], m[4], m[5])
}

// IPv4 is an address in network byte order.
type IPv4 [4]byte

// BroadcastIP is 255.255.255.255.
var BroadcastIP = IPv4{0xFF, 0xFF, 0xFF, 0xFF}

func (ip IPv4) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", ip[0], ip[1], ip[2], ip[3])
}

// IsZero reports whether the address is 0.0.0.0.
func (ip IPv4) IsZero() bool { return ip == IPv4{} }

// IsBroadcast reports whether the address is the limited broadcast.
func (ip IPv4) IsBroadcast() bool { return ip == BroadcastIP }

// Mask applies a netmask.
func (ip IPv4) Mask(mask IPv4) IPv4 {
	var out IPv4
	for i := range ip {
		out[i] = ip[i] & mask[i]
	}
	return out
}

// ParseIPv4 parses a dotted quad.
func ParseIPv4(s string) (IPv4, error) {
	var ip IPv4
	octet := 0
	digits := 0
	idx := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			octet = octet*10 + int(c-'0')
			digits++
			if digits > 3 || octet > 255 {
				return IPv4{}, fmt.Errorf("netstack: bad address %q: %w", s, kerr.ErrInvalidArgument)
			}
		case c == '.':
			if digits == 0 || idx >= 3 {
				return IPv4{}, fmt.Errorf("netstack: bad address %q: %w", s, kerr.ErrInvalidArgument)
			}
			ip[idx] = byte(octet)
			idx++
			octet = 0
			digits = 0
		default:
			return IPv4{}, fmt.Errorf("netstack: bad address %q: %w", s, kerr.ErrInvalidArgument)
		}
	}
	if idx != 3 || digits == 0 {
		return IPv4{}, fmt.Errorf("netstack: bad address %q: %w", s, kerr.ErrInvalidArgument)
	}
	ip[3] = byte(octet)
	return ip, nil
}

// IsDottedQuad reports whether s already looks like an IPv4 literal.
func IsDottedQuad(s string) bool {
	_, err := ParseIPv4(s)
	return err == nil
}
