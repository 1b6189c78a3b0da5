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

package netstack

import (
	"encoding/binary"
	"fmt"

	"github.com/mqestical/amqos/internal/kerr"
	"github.com/mqestical/amqos/internal/logger"
)

// IP protocol numbers the stack dispatches on.
const (
	ProtoICMP = 1
	ProtoTCP  = 6
	ProtoUDP  = 17
)

const (
	ipv4HeaderSize = 20
	ipv4TTL        = 64
)

// SendIPv4 wraps a transport payload in an IPv4 header and routes it:
// to ourselves in-line (loopback), to the destination's MAC on the
// local subnet, or to the gateway otherwise. Limited broadcast skips
// ARP entirely.
func (s *Stack) SendIPv4(dst IPv4, protocol uint8, payload []byte) error {
	src := IPv4{}
	if s.cfg.Configured {
		src = s.cfg.IP
	}

	// Loopback: never touches the wire. An outgoing echo request is
	// converted to its reply here so pings to self work.
	if dst == src && !src.IsZero() {
		logger.Tracef("net: loopback delivery proto=%d", protocol)
		if protocol == ProtoICMP && len(payload) >= icmpHeaderSize && payload[0] == icmpEchoRequest {
			reply := append([]byte(nil), payload...)
			reply[0] = icmpEchoReply
			reply[2] = 0
			reply[3] = 0
			csum := Checksum(reply)
			binary.BigEndian.PutUint16(reply[2:], csum)
			s.receiveICMP(src, reply)
			return nil
		}
		switch protocol {
		case ProtoICMP:
			s.receiveICMP(src, payload)
		case ProtoUDP:
			s.receiveUDP(src, payload)
		case ProtoTCP:
			s.receiveTCP(src, payload)
		default:
			return fmt.Errorf("net: loopback protocol %d: %w", protocol, kerr.ErrProtocol)
		}
		return nil
	}

	packet := make([]byte, ipv4HeaderSize+len(payload))
	packet[0] = 0x45 // version 4, IHL 5
	binary.BigEndian.PutUint16(packet[2:], uint16(len(packet)))
	packet[8] = ipv4TTL
	packet[9] = protocol
	copy(packet[12:16], src[:])
	copy(packet[16:20], dst[:])
	csum := Checksum(packet[:ipv4HeaderSize])
	binary.BigEndian.PutUint16(packet[10:], csum)
	copy(packet[ipv4HeaderSize:], payload)

	var dstMAC MAC
	if dst.IsBroadcast() {
		dstMAC = BroadcastMAC
	} else {
		// Next hop: same subnet goes direct, anything else through the
		// gateway.
		route := dst
		if dst.Mask(s.cfg.Netmask) != src.Mask(s.cfg.Netmask) {
			if s.cfg.Gateway.IsZero() {
				return fmt.Errorf("net: no gateway configured: %w", kerr.ErrInvalidArgument)
			}
			route = s.cfg.Gateway
		}
		mac, err := s.ResolveARP(route)
		if err != nil {
			return err
		}
		dstMAC = mac
	}

	return s.sendEthernet(dstMAC, EtherTypeIPv4, packet)
}

// receiveIPv4 validates the header, filters on destination, and
// dispatches on the protocol field.
func (s *Stack) receiveIPv4(data []byte) {
	if len(data) < ipv4HeaderSize {
		s.counters.Dropped++
		return
	}
	ihl := int(data[0]&0x0F) * 4
	if data[0]>>4 != 4 || ihl < ipv4HeaderSize || len(data) < ihl {
		s.counters.Dropped++
		return
	}

	var src, dst IPv4
	copy(src[:], data[12:16])
	copy(dst[:], data[16:20])

	if s.cfg.Configured && dst != s.cfg.IP && !dst.IsBroadcast() {
		s.counters.Dropped++
		return
	}

	totalLen := int(binary.BigEndian.Uint16(data[2:]))
	if totalLen < ihl || totalLen > len(data) {
		totalLen = len(data)
	}
	payload := data[ihl:totalLen]

	switch data[9] {
	case ProtoICMP:
		s.counters.RxICMP++
		s.receiveICMP(src, payload)
	case ProtoUDP:
		s.counters.RxUDP++
		s.receiveUDP(src, payload)
	case ProtoTCP:
		s.counters.RxTCP++
		s.receiveTCP(src, payload)
	default:
		s.counters.Dropped++
		logger.Tracef("net: dropping ip protocol %d", data[9])
	}
}
