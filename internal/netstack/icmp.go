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
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/mqestical/amqos/internal/kerr"
)

const (
	icmpEchoReply   = 0
	icmpEchoRequest = 8

	icmpHeaderSize = 8

	pingPollIters = 5000
)

// icmpState holds echo replies seen but not yet claimed by a ping.
type icmpState struct {
	replies []icmpEcho
}

type icmpEcho struct {
	src     IPv4
	id      uint16
	seq     uint16
	payload []byte
}

// receiveICMP answers echo requests and records echo replies for the
// pending ping to claim.
func (s *Stack) receiveICMP(src IPv4, data []byte) {
	if len(data) < icmpHeaderSize {
		s.counters.Dropped++
		return
	}

	switch data[0] {
	case icmpEchoRequest:
		reply := append([]byte(nil), data...)
		reply[0] = icmpEchoReply
		reply[2] = 0
		reply[3] = 0
		csum := Checksum(reply)
		binary.BigEndian.PutUint16(reply[2:], csum)
		_ = s.SendIPv4(src, ProtoICMP, reply)

	case icmpEchoReply:
		s.icmp.replies = append(s.icmp.replies, icmpEcho{
			src:     src,
			id:      binary.BigEndian.Uint16(data[4:]),
			seq:     binary.BigEndian.Uint16(data[6:]),
			payload: append([]byte(nil), data[icmpHeaderSize:]...),
		})
	}
}

func (s *Stack) takeEchoReply(id, seq uint16) (icmpEcho, bool) {
	for i := range s.icmp.replies {
		r := s.icmp.replies[i]
		if r.id == id && r.seq == seq {
			s.icmp.replies = append(s.icmp.replies[:i], s.icmp.replies[i+1:]...)
			return r, true
		}
	}
	return icmpEcho{}, false
}

// Ping sends one echo request and polls for the matching reply.
func (s *Stack) Ping(dst IPv4, id, seq uint16, payload []byte) error {
	packet := make([]byte, icmpHeaderSize+len(payload))
	packet[0] = icmpEchoRequest
	binary.BigEndian.PutUint16(packet[4:], id)
	binary.BigEndian.PutUint16(packet[6:], seq)
	copy(packet[icmpHeaderSize:], payload)
	csum := Checksum(packet)
	binary.BigEndian.PutUint16(packet[2:], csum)

	if err := s.SendIPv4(dst, ProtoICMP, packet); err != nil {
		return err
	}

	for i := 0; i < pingPollIters; i++ {
		if reply, ok := s.takeEchoReply(id, seq); ok {
			if !bytes.Equal(reply.payload, payload) {
				return fmt.Errorf("ping: reply payload mismatch: %w", kerr.ErrProtocol)
			}
			return nil
		}
		s.Poll()
	}
	return fmt.Errorf("ping: no reply from %s: %w", dst, kerr.ErrTimeout)
}
