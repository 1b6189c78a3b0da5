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

// TCP flags.
const (
	tcpFIN = 0x01
	tcpSYN = 0x02
	tcpRST = 0x04
	tcpPSH = 0x08
	tcpACK = 0x10
	tcpURG = 0x20
)

// TCPState follows RFC 793, reduced to the transitions the client
// path exercises.
type TCPState int

const (
	TCPClosed TCPState = iota
	TCPListen
	TCPSynSent
	TCPSynRcvd
	TCPEstablished
	TCPFinWait1
	TCPFinWait2
	TCPCloseWait
	TCPClosing
	TCPLastAck
	TCPTimeWait
)

const (
	maxTCPSockets = 16

	tcpHeaderSize = 20
	tcpWindow     = 8192

	// initialSeq matches the fixed ISN of the original stack.
	initialSeq = 1000

	firstEphemeralPort = 49152

	tcpConnectPollIters = 5000
	tcpClosePollIters   = 1000
)

// TCPSocket is one connection endpoint. Re-ordering, retransmission
// and windowing are not implemented; this is the interactive-fetch
// happy path.
type TCPSocket struct {
	inUse      bool
	state      TCPState
	localPort  uint16
	remotePort uint16
	remoteIP   IPv4
	seq        uint32
	ack        uint32

	// onData receives payload bytes as segments arrive in the
	// Established state.
	onData func(p []byte)
}

// State returns the socket state.
func (t *TCPSocket) State() TCPState { return t.state }

// LocalPort returns the bound local port.
func (t *TCPSocket) LocalPort() uint16 { return t.localPort }

// SetDataHandler installs the application receive callback.
func (t *TCPSocket) SetDataHandler(fn func(p []byte)) { t.onData = fn }

// NewTCPSocket claims a socket slot with a fresh ephemeral port.
func (s *Stack) NewTCPSocket() (*TCPSocket, error) {
	for i := range s.tcpSockets {
		sock := &s.tcpSockets[i]
		if sock.inUse {
			continue
		}
		*sock = TCPSocket{
			inUse:     true,
			state:     TCPClosed,
			localPort: s.nextTCPPort,
			seq:       initialSeq,
		}
		s.nextTCPPort++
		return sock, nil
	}
	return nil, fmt.Errorf("tcp: socket table full: %w", kerr.ErrOutOfMemory)
}

func (s *Stack) sendSegment(sock *TCPSocket, flags uint8, payload []byte) error {
	segment := make([]byte, tcpHeaderSize+len(payload))
	binary.BigEndian.PutUint16(segment[0:], sock.localPort)
	binary.BigEndian.PutUint16(segment[2:], sock.remotePort)
	binary.BigEndian.PutUint32(segment[4:], sock.seq)
	binary.BigEndian.PutUint32(segment[8:], sock.ack)
	segment[12] = 5 << 4 // data offset
	segment[13] = flags
	binary.BigEndian.PutUint16(segment[14:], tcpWindow)
	copy(segment[tcpHeaderSize:], payload)

	csum := pseudoHeaderChecksum(s.cfg.IP, sock.remoteIP, ProtoTCP, segment)
	binary.BigEndian.PutUint16(segment[16:], csum)

	return s.SendIPv4(sock.remoteIP, ProtoTCP, segment)
}

// Connect performs the client side of the three-way handshake and
// polls until the connection is established.
func (s *Stack) Connect(sock *TCPSocket, ip IPv4, port uint16) error {
	if sock == nil || sock.state != TCPClosed {
		return fmt.Errorf("tcp: connect on busy socket: %w", kerr.ErrInvalidArgument)
	}

	sock.remoteIP = ip
	sock.remotePort = port
	sock.state = TCPSynSent

	logger.Debugf("tcp: connecting to %s:%d from port %d", ip, port, sock.localPort)
	if err := s.sendSegment(sock, tcpSYN, nil); err != nil {
		sock.state = TCPClosed
		return err
	}
	sock.seq++

	for i := 0; i < tcpConnectPollIters; i++ {
		s.Poll()
		if sock.state == TCPEstablished {
			return nil
		}
	}

	sock.state = TCPClosed
	return fmt.Errorf("tcp: connect to %s:%d: %w", ip, port, kerr.ErrTimeout)
}

// Send transmits payload on an established connection.
func (s *Stack) Send(sock *TCPSocket, payload []byte) error {
	if sock == nil || sock.state != TCPEstablished {
		return fmt.Errorf("tcp: send on unestablished socket: %w", kerr.ErrInvalidArgument)
	}
	if err := s.sendSegment(sock, tcpPSH|tcpACK, payload); err != nil {
		return err
	}
	sock.seq += uint32(len(payload))
	return nil
}

// CloseSocket sends FIN from the established state, polls briefly for
// the close to complete, and releases the slot.
func (s *Stack) CloseSocket(sock *TCPSocket) error {
	if sock == nil {
		return fmt.Errorf("tcp: close of nil socket: %w", kerr.ErrInvalidArgument)
	}

	if sock.state == TCPEstablished {
		sock.state = TCPFinWait1
		_ = s.sendSegment(sock, tcpFIN|tcpACK, nil)
		sock.seq++
	}

	for i := 0; i < tcpClosePollIters; i++ {
		if sock.state == TCPClosed {
			break
		}
		s.Poll()
	}

	sock.inUse = false
	sock.state = TCPClosed
	return nil
}

func (s *Stack) findSocket(src IPv4, srcPort, dstPort uint16) *TCPSocket {
	for i := range s.tcpSockets {
		sock := &s.tcpSockets[i]
		if sock.inUse && sock.remoteIP == src && sock.remotePort == srcPort && sock.localPort == dstPort {
			return sock
		}
	}
	return nil
}

// receiveTCP matches the segment to a socket by 4-tuple and advances
// the state machine.
func (s *Stack) receiveTCP(src IPv4, data []byte) {
	if len(data) < tcpHeaderSize {
		s.counters.Dropped++
		return
	}

	srcPort := binary.BigEndian.Uint16(data[0:])
	dstPort := binary.BigEndian.Uint16(data[2:])
	seq := binary.BigEndian.Uint32(data[4:])
	flags := data[13]

	sock := s.findSocket(src, srcPort, dstPort)
	if sock == nil {
		logger.Tracef("tcp: no socket for %s:%d -> :%d", src, srcPort, dstPort)
		s.counters.Dropped++
		return
	}

	switch sock.state {
	case TCPSynSent:
		if flags&tcpSYN != 0 && flags&tcpACK != 0 {
			sock.ack = seq + 1
			sock.state = TCPEstablished
			_ = s.sendSegment(sock, tcpACK, nil)
			logger.Debugf("tcp: connection established on port %d", sock.localPort)
		}

	case TCPEstablished:
		if flags&tcpFIN != 0 {
			// Peer closes: acknowledge, send our FIN, wait for the
			// final ACK.
			sock.ack = seq + 1
			sock.state = TCPCloseWait
			_ = s.sendSegment(sock, tcpACK, nil)
			_ = s.sendSegment(sock, tcpFIN|tcpACK, nil)
			sock.seq++
			sock.state = TCPLastAck
			return
		}
		if flags&tcpACK != 0 {
			headerLen := int(data[12]>>4) * 4
			if headerLen < tcpHeaderSize || headerLen > len(data) {
				s.counters.Dropped++
				return
			}
			payload := data[headerLen:]
			if len(payload) > 0 {
				if sock.onData != nil {
					sock.onData(payload)
				}
				sock.ack = seq + uint32(len(payload))
				_ = s.sendSegment(sock, tcpACK, nil)
			}
		}

	case TCPFinWait1:
		if flags&tcpFIN != 0 || flags&tcpACK != 0 {
			// Happy-path close: treat the peer's response as completing
			// the teardown.
			if flags&tcpFIN != 0 {
				sock.ack = seq + 1
				_ = s.sendSegment(sock, tcpACK, nil)
			}
			sock.state = TCPClosed
		}

	case TCPLastAck:
		if flags&tcpACK != 0 {
			sock.state = TCPClosed
		}
	}
}
