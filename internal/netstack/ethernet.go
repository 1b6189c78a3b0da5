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
)

// EtherTypes the stack recognizes.
const (
	EtherTypeIPv4 = 0x0800
	EtherTypeARP  = 0x0806
)

const ethHeaderSize = 14

// EthernetFrame is a parsed frame header plus its payload view.
type EthernetFrame struct {
	Dst       MAC
	Src       MAC
	EtherType uint16
	Payload   []byte
}

func parseEthernet(frame []byte) (EthernetFrame, error) {
	if len(frame) < ethHeaderSize {
		return EthernetFrame{}, fmt.Errorf("netstack: short ethernet frame (%d bytes): %w", len(frame), kerr.ErrProtocol)
	}
	var f EthernetFrame
	copy(f.Dst[:], frame[0:6])
	copy(f.Src[:], frame[6:12])
	f.EtherType = binary.BigEndian.Uint16(frame[12:14])
	f.Payload = frame[14:]
	return f, nil
}

// sendEthernet wraps the payload in a frame from the interface MAC and
// hands it to the transmit path.
func (s *Stack) sendEthernet(dst MAC, etherType uint16, payload []byte) error {
	frame := make([]byte, ethHeaderSize+len(payload))
	copy(frame[0:6], dst[:])
	copy(frame[6:12], s.cfg.MAC[:])
	binary.BigEndian.PutUint16(frame[12:14], etherType)
	copy(frame[14:], payload)

	s.counters.TxFrames++
	return s.nic.SendPacket(frame)
}
