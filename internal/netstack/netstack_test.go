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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mqestical/amqos/internal/memory"
	"github.com/mqestical/amqos/internal/nic"
)

var (
	stationMAC = MAC{0x52, 0x54, 0x00, 0x41, 0x4D, 0x51}

	peerMAC = MAC{0xDE, 0xAD, 0xBE, 0xEF, 0x00, 0x01}
	peerIP  = IPv4{192, 168, 1, 1}

	ourIP   = IPv4{192, 168, 1, 15}
	netmask = IPv4{255, 255, 255, 0}
	gateway = IPv4{192, 168, 1, 1}
)

func newTestStack(t *testing.T) (*Stack, *nic.Medium) {
	t.Helper()

	size := uint64(16 << 20)
	mem := make(memory.Arena, size)
	frames := memory.NewFrameAllocator(mem, memory.ConventionalMap(size))

	medium := nic.NewMedium()
	dev := nic.NewDevice(nic.Device82540EM, stationMAC, mem, medium)
	bus := nic.NewPCIBus()
	bus.AttachE1000(0, 3, 0xFEB80000, dev)

	driver := nic.NewDriver(bus, mem, frames)
	require.NoError(t, driver.Init())
	require.Equal(t, [6]byte(stationMAC), driver.MAC())

	return New(driver), medium
}

// buildFrame assembles an Ethernet frame for injection.
func buildFrame(dst, src MAC, etherType uint16, payload []byte) []byte {
	frame := make([]byte, ethHeaderSize+len(payload))
	copy(frame[0:6], dst[:])
	copy(frame[6:12], src[:])
	binary.BigEndian.PutUint16(frame[12:14], etherType)
	copy(frame[14:], payload)
	return frame
}

// buildIPv4 wraps a transport payload the way a remote host would.
func buildIPv4(src, dst IPv4, protocol uint8, payload []byte) []byte {
	packet := make([]byte, ipv4HeaderSize+len(payload))
	packet[0] = 0x45
	binary.BigEndian.PutUint16(packet[2:], uint16(len(packet)))
	packet[8] = ipv4TTL
	packet[9] = protocol
	copy(packet[12:16], src[:])
	copy(packet[16:20], dst[:])
	binary.BigEndian.PutUint16(packet[10:], Checksum(packet[:ipv4HeaderSize]))
	copy(packet[ipv4HeaderSize:], payload)
	return packet
}

// buildTCP assembles a checksummed segment from the peer's side.
func buildTCP(src, dst IPv4, srcPort, dstPort uint16, seq, ack uint32, flags uint8, payload []byte) []byte {
	segment := make([]byte, tcpHeaderSize+len(payload))
	binary.BigEndian.PutUint16(segment[0:], srcPort)
	binary.BigEndian.PutUint16(segment[2:], dstPort)
	binary.BigEndian.PutUint32(segment[4:], seq)
	binary.BigEndian.PutUint32(segment[8:], ack)
	segment[12] = 5 << 4
	segment[13] = flags
	binary.BigEndian.PutUint16(segment[14:], tcpWindow)
	copy(segment[tcpHeaderSize:], payload)
	binary.BigEndian.PutUint16(segment[16:], pseudoHeaderChecksum(src, dst, ProtoTCP, segment))
	return segment
}

// arpResponder answers ARP requests for ip with mac.
func arpResponder(ip IPv4, mac MAC) func(frame []byte) [][]byte {
	return func(frame []byte) [][]byte {
		f, err := parseEthernet(frame)
		if err != nil || f.EtherType != EtherTypeARP {
			return nil
		}
		req, err := parseARP(f.Payload)
		if err != nil || req.op != arpRequest || req.targetIP != ip {
			return nil
		}
		reply := arpPacket{
			op:       arpReply,
			senderHW: mac,
			senderIP: ip,
			targetHW: req.senderHW,
			targetIP: req.senderIP,
		}
		return [][]byte{buildFrame(req.senderHW, mac, EtherTypeARP, reply.encode())}
	}
}

func TestARPResolution(t *testing.T) {
	s, medium := newTestStack(t)
	s.SetConfig(ourIP, netmask, gateway)
	medium.SetPeer(arpResponder(peerIP, peerMAC))
	medium.ClearTransmitted()

	mac, err := s.ResolveARP(peerIP)
	require.NoError(t, err)
	assert.Equal(t, peerMAC, mac)

	// Exactly one broadcast request went out.
	var requests int
	for _, frame := range medium.Transmitted() {
		f, err := parseEthernet(frame)
		require.NoError(t, err)
		if f.EtherType == EtherTypeARP {
			assert.Equal(t, BroadcastMAC, f.Dst)
			requests++
		}
	}
	assert.Equal(t, 1, requests)

	// A second resolve is a pure cache hit: zero wire traffic.
	medium.ClearTransmitted()
	mac, err = s.ResolveARP(peerIP)
	require.NoError(t, err)
	assert.Equal(t, peerMAC, mac)
	assert.Empty(t, medium.Transmitted())
}

func TestARPTimeout(t *testing.T) {
	s, medium := newTestStack(t)
	s.SetConfig(ourIP, netmask, gateway)

	_, err := s.ResolveARP(IPv4{192, 168, 1, 99})
	require.Error(t, err)

	// Three attempts, three broadcasts.
	assert.Len(t, medium.Transmitted(), arpAttempts)
}

func TestARPRequestAnswered(t *testing.T) {
	s, medium := newTestStack(t)
	s.SetConfig(ourIP, netmask, gateway)
	medium.ClearTransmitted()

	req := arpPacket{
		op:       arpRequest,
		senderHW: peerMAC,
		senderIP: peerIP,
		targetIP: ourIP,
	}
	medium.Inject(buildFrame(BroadcastMAC, peerMAC, EtherTypeARP, req.encode()))
	s.Poll()

	sent := medium.Transmitted()
	require.Len(t, sent, 1)
	f, err := parseEthernet(sent[0])
	require.NoError(t, err)
	require.Equal(t, uint16(EtherTypeARP), f.EtherType)
	reply, err := parseARP(f.Payload)
	require.NoError(t, err)
	assert.Equal(t, uint16(arpReply), reply.op)
	assert.Equal(t, stationMAC, reply.senderHW)
	assert.Equal(t, ourIP, reply.senderIP)
	assert.Equal(t, peerMAC, f.Dst)

	// The requester was learned as a side effect.
	mac, ok := s.arp.Lookup(peerIP)
	assert.True(t, ok)
	assert.Equal(t, peerMAC, mac)
}

func TestPingSelfUsesLoopback(t *testing.T) {
	s, medium := newTestStack(t)
	s.SetConfig(IPv4{10, 0, 2, 15}, IPv4{255, 255, 255, 0}, IPv4{10, 0, 2, 2})
	medium.ClearTransmitted()

	err := s.Ping(IPv4{10, 0, 2, 15}, 7, 1, []byte("abcdefgh"))
	require.NoError(t, err)
	assert.Empty(t, medium.Transmitted(), "loopback ping must not touch the wire")
}

func TestPingRemoteEcho(t *testing.T) {
	s, medium := newTestStack(t)
	s.SetConfig(ourIP, netmask, gateway)

	medium.SetPeer(func(frame []byte) [][]byte {
		if replies := arpResponder(peerIP, peerMAC)(frame); replies != nil {
			return replies
		}
		f, err := parseEthernet(frame)
		if err != nil || f.EtherType != EtherTypeIPv4 {
			return nil
		}
		if len(f.Payload) < ipv4HeaderSize || f.Payload[9] != ProtoICMP {
			return nil
		}
		icmp := f.Payload[ipv4HeaderSize:]
		if icmp[0] != icmpEchoRequest {
			return nil
		}
		reply := append([]byte(nil), icmp...)
		reply[0] = icmpEchoReply
		reply[2] = 0
		reply[3] = 0
		binary.BigEndian.PutUint16(reply[2:], Checksum(reply))
		packet := buildIPv4(peerIP, ourIP, ProtoICMP, reply)
		return [][]byte{buildFrame(stationMAC, peerMAC, EtherTypeIPv4, packet)}
	})

	err := s.Ping(peerIP, 3, 9, []byte("payload!"))
	require.NoError(t, err)
}

func TestEchoRequestGetsSingleReply(t *testing.T) {
	s, medium := newTestStack(t)
	s.SetConfig(ourIP, netmask, gateway)

	// Teach the cache about the peer so the reply needs no ARP.
	s.arp.Add(peerIP, peerMAC)
	medium.ClearTransmitted()

	echo := make([]byte, icmpHeaderSize+8)
	echo[0] = icmpEchoRequest
	binary.BigEndian.PutUint16(echo[4:], 0x77)
	binary.BigEndian.PutUint16(echo[6:], 0x09)
	copy(echo[icmpHeaderSize:], "ping-me!")
	binary.BigEndian.PutUint16(echo[2:], Checksum(echo))

	medium.Inject(buildFrame(stationMAC, peerMAC, EtherTypeIPv4, buildIPv4(peerIP, ourIP, ProtoICMP, echo)))
	s.Poll()

	sent := medium.Transmitted()
	require.Len(t, sent, 1, "exactly one echo reply")
	f, err := parseEthernet(sent[0])
	require.NoError(t, err)
	reply := f.Payload[ipv4HeaderSize:]
	assert.Equal(t, byte(icmpEchoReply), reply[0])
	assert.Equal(t, uint16(0x77), binary.BigEndian.Uint16(reply[4:]))
	assert.Equal(t, uint16(0x09), binary.BigEndian.Uint16(reply[6:]))
	assert.Equal(t, []byte("ping-me!"), reply[icmpHeaderSize:])
	assert.Zero(t, Checksum(reply), "reply checksum must verify")
}

func TestUDPHandlerRegistryLimit(t *testing.T) {
	s, _ := newTestStack(t)

	// One slot is taken by the DNS resolver.
	handler := func(IPv4, uint16, []byte) {}
	for port := uint16(9000); port < 9000+maxUDPHandlers-1; port++ {
		require.NoError(t, s.RegisterUDPHandler(port, handler))
	}
	err := s.RegisterUDPHandler(9999, handler)
	assert.Error(t, err)

	s.UnregisterUDPHandler(9000)
	assert.NoError(t, s.RegisterUDPHandler(9999, handler))
}

func TestUDPDelivery(t *testing.T) {
	s, medium := newTestStack(t)
	s.SetConfig(ourIP, netmask, gateway)

	var gotSrc IPv4
	var gotPort uint16
	var gotPayload []byte
	require.NoError(t, s.RegisterUDPHandler(7777, func(src IPv4, srcPort uint16, payload []byte) {
		gotSrc = src
		gotPort = srcPort
		gotPayload = append([]byte(nil), payload...)
	}))

	datagram := make([]byte, udpHeaderSize+5)
	binary.BigEndian.PutUint16(datagram[0:], 1234)
	binary.BigEndian.PutUint16(datagram[2:], 7777)
	binary.BigEndian.PutUint16(datagram[4:], uint16(len(datagram)))
	copy(datagram[udpHeaderSize:], "hello")

	medium.Inject(buildFrame(stationMAC, peerMAC, EtherTypeIPv4, buildIPv4(peerIP, ourIP, ProtoUDP, datagram)))
	s.Poll()

	assert.Equal(t, peerIP, gotSrc)
	assert.Equal(t, uint16(1234), gotPort)
	assert.Equal(t, []byte("hello"), gotPayload)
}

// tcpServer scripts the remote end of a connection: handshake, a
// canned response to the first data segment, then close.
type tcpServer struct {
	mac      MAC
	ip       IPv4
	port     uint16
	seq      uint32
	response []byte

	gotData   []byte
	sawSYN    bool
	ackBefore bool // client ACK seen before any client data
	sawACK    bool
	closed    bool
}

func (srv *tcpServer) peer(frame []byte) [][]byte {
	if replies := arpResponder(srv.ip, srv.mac)(frame); replies != nil {
		return replies
	}

	f, err := parseEthernet(frame)
	if err != nil || f.EtherType != EtherTypeIPv4 {
		return nil
	}
	ip := f.Payload
	if len(ip) < ipv4HeaderSize || ip[9] != ProtoTCP {
		return nil
	}
	var srcIP, dstIP IPv4
	copy(srcIP[:], ip[12:16])
	copy(dstIP[:], ip[16:20])
	seg := ip[ipv4HeaderSize:]
	if len(seg) < tcpHeaderSize {
		return nil
	}

	srcPort := binary.BigEndian.Uint16(seg[0:])
	dstPort := binary.BigEndian.Uint16(seg[2:])
	if dstPort != srv.port {
		return nil
	}
	clientSeq := binary.BigEndian.Uint32(seg[4:])
	flags := seg[13]
	payload := seg[tcpHeaderSize:]

	var out [][]byte
	send := func(flags uint8, data []byte) {
		seg := buildTCP(srv.ip, srcIP, srv.port, srcPort, srv.seq, 0, flags, data)
		// ack field: the server acks everything it has seen.
		binary.BigEndian.PutUint32(seg[8:], srv.ack(clientSeq, len(payload), flags))
		binary.BigEndian.PutUint16(seg[16:], 0)
		binary.BigEndian.PutUint16(seg[16:], pseudoHeaderChecksum(srv.ip, srcIP, ProtoTCP, seg))
		out = append(out, buildFrame(stationMAC, srv.mac, EtherTypeIPv4, buildIPv4(srv.ip, srcIP, ProtoTCP, seg)))
	}

	switch {
	case flags&tcpSYN != 0:
		srv.sawSYN = true
		send(tcpSYN|tcpACK, nil)
		srv.seq++

	case flags&tcpFIN != 0:
		srv.closed = true
		send(tcpACK, nil)

	case len(payload) > 0:
		srv.gotData = append(srv.gotData, payload...)
		send(tcpACK, nil)
		if srv.response != nil {
			send(tcpPSH|tcpACK, srv.response)
			srv.seq += uint32(len(srv.response))
			send(tcpFIN|tcpACK, nil)
			srv.seq++
			srv.response = nil
		}

	case flags&tcpACK != 0:
		if !srv.sawACK {
			srv.sawACK = true
			if len(srv.gotData) == 0 {
				srv.ackBefore = true
			}
		}
	}
	return out
}

func (srv *tcpServer) ack(clientSeq uint32, payloadLen int, flags uint8) uint32 {
	n := uint32(payloadLen)
	if flags&(tcpSYN|tcpFIN) != 0 {
		n++
	}
	return clientSeq + n
}

func TestTCPHandshakeAndSend(t *testing.T) {
	s, medium := newTestStack(t)
	s.SetConfig(ourIP, netmask, gateway)

	srv := &tcpServer{mac: peerMAC, ip: peerIP, port: 8080, seq: 5000}
	medium.SetPeer(srv.peer)

	sock, err := s.NewTCPSocket()
	require.NoError(t, err)
	require.GreaterOrEqual(t, sock.LocalPort(), uint16(firstEphemeralPort))

	require.NoError(t, s.Connect(sock, peerIP, 8080))
	assert.Equal(t, TCPEstablished, sock.State())
	assert.True(t, srv.sawSYN)
	assert.True(t, srv.ackBefore, "handshake ACK must precede data")

	require.NoError(t, s.Send(sock, []byte("GET...")))
	assert.Equal(t, []byte("GET..."), srv.gotData)

	require.NoError(t, s.CloseSocket(sock))
	assert.True(t, srv.closed)
	assert.Equal(t, TCPClosed, sock.State())
}

func TestTCPSendRequiresEstablished(t *testing.T) {
	s, _ := newTestStack(t)
	sock, err := s.NewTCPSocket()
	require.NoError(t, err)

	assert.Error(t, s.Send(sock, []byte("x")))
}

func TestHTTPGetAgainstCannedServer(t *testing.T) {
	s, medium := newTestStack(t)
	s.SetConfig(ourIP, netmask, gateway)

	srv := &tcpServer{
		mac:      peerMAC,
		ip:       peerIP,
		port:     80,
		seq:      9000,
		response: []byte("HTTP/1.0 200 OK\r\nContent-Length: 2\r\n\r\nOK"),
	}
	medium.SetPeer(srv.peer)

	resp, err := s.HTTPGet("http://192.168.1.1/")
	require.NoError(t, err)

	assert.Equal(t, []byte("OK"), resp.Body)
	assert.Equal(t, 200, resp.StatusCode())
	assert.Contains(t, resp.Headers, "Content-Length: 2")
	assert.False(t, resp.Truncated)

	request := string(srv.gotData)
	assert.Contains(t, request, "GET / HTTP/1.1\r\n")
	assert.Contains(t, request, "Host: 192.168.1.1\r\n")
	assert.Contains(t, request, "Connection: close\r\n")
	assert.True(t, len(request) >= 4 && request[len(request)-4:] == "\r\n\r\n")
}

func TestHTTPRejectsNonHTTPScheme(t *testing.T) {
	s, _ := newTestStack(t)

	_, err := s.HTTPGet("https://example.test/")
	assert.Error(t, err)
}

func TestParseURL(t *testing.T) {
	host, port, path, err := parseURL("http://example.test")
	require.NoError(t, err)
	assert.Equal(t, "example.test", host)
	assert.Equal(t, uint16(80), port)
	assert.Equal(t, "/", path)

	host, port, path, err = parseURL("http://example.test:8080/idx.html")
	require.NoError(t, err)
	assert.Equal(t, "example.test", host)
	assert.Equal(t, uint16(8080), port)
	assert.Equal(t, "/idx.html", path)

	_, _, _, err = parseURL("http://")
	assert.Error(t, err)
}
