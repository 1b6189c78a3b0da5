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

const (
	udpHeaderSize = 8

	// maxUDPHandlers bounds the per-port registry.
	maxUDPHandlers = 8
)

// UDPHandler receives a datagram delivered to its registered port.
type UDPHandler func(src IPv4, srcPort uint16, payload []byte)

// RegisterUDPHandler binds a handler to a destination port.
func (s *Stack) RegisterUDPHandler(port uint16, h UDPHandler) error {
	if h == nil {
		return fmt.Errorf("udp: nil handler: %w", kerr.ErrInvalidArgument)
	}
	if _, ok := s.udpHandlers[port]; !ok && len(s.udpHandlers) >= maxUDPHandlers {
		return fmt.Errorf("udp: handler table full: %w", kerr.ErrOutOfMemory)
	}
	s.udpHandlers[port] = h
	return nil
}

// UnregisterUDPHandler releases a port binding.
func (s *Stack) UnregisterUDPHandler(port uint16) {
	delete(s.udpHandlers, port)
}

// SendUDP wraps the payload in a UDP header (checksum unused over
// IPv4) and sends it.
func (s *Stack) SendUDP(dst IPv4, srcPort, dstPort uint16, payload []byte) error {
	datagram := make([]byte, udpHeaderSize+len(payload))
	binary.BigEndian.PutUint16(datagram[0:], srcPort)
	binary.BigEndian.PutUint16(datagram[2:], dstPort)
	binary.BigEndian.PutUint16(datagram[4:], uint16(len(datagram)))
	copy(datagram[udpHeaderSize:], payload)
	return s.SendIPv4(dst, ProtoUDP, datagram)
}

// receiveUDP dispatches on the destination port.
func (s *Stack) receiveUDP(src IPv4, data []byte) {
	if len(data) < udpHeaderSize {
		s.counters.Dropped++
		return
	}
	srcPort := binary.BigEndian.Uint16(data[0:])
	dstPort := binary.BigEndian.Uint16(data[2:])
	length := binary.BigEndian.Uint16(data[4:])
	if int(length) < udpHeaderSize || int(length) > len(data) {
		s.counters.Dropped++
		return
	}

	h, ok := s.udpHandlers[dstPort]
	if !ok {
		logger.Tracef("udp: no handler for port %d", dstPort)
		s.counters.Dropped++
		return
	}
	h(src, srcPort, data[udpHeaderSize:length])
}
