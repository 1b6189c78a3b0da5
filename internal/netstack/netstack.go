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
	"github.com/mqestical/amqos/internal/logger"
	"github.com/mqestical/amqos/internal/nic"
)

// Config is the interface configuration. The MAC comes from the
// driver; the rest is set by DHCP or an explicit call.
type Config struct {
	MAC        MAC
	IP         IPv4
	Netmask    IPv4
	Gateway    IPv4
	DNSServer  IPv4
	Configured bool
}

// Counters tracks stack activity for the metrics surface.
type Counters struct {
	RxFrames uint64
	TxFrames uint64
	RxARP    uint64
	RxIPv4   uint64
	RxICMP   uint64
	RxUDP    uint64
	RxTCP    uint64
	Dropped  uint64
}

// Stack is the network stack instance. It is driven from the
// cooperative region; incoming frames arrive through the driver's
// interrupt handler, which the bounded poll loops invoke inline.
type Stack struct {
	nic      *nic.Driver
	cfg      Config
	counters Counters

	arp  *arpCache
	icmp icmpState

	udpHandlers map[uint16]UDPHandler

	tcpSockets  [maxTCPSockets]TCPSocket
	nextTCPPort uint16
	dnsResolver dnsState
	pollYield   func()
}

// New wires a stack to an initialized driver and registers the upward
// dispatcher.
func New(driver *nic.Driver) *Stack {
	s := &Stack{
		nic:         driver,
		arp:         newARPCache(),
		udpHandlers: make(map[uint16]UDPHandler),
		nextTCPPort: firstEphemeralPort,
	}
	mac := driver.MAC()
	copy(s.cfg.MAC[:], mac[:])
	driver.SetReceiver(s.receiveFrame)
	s.initDNS()
	return s
}

// SetYield installs a hook the poll loops call on every iteration so a
// scheduler, when attached, gets the CPU back during long waits.
func (s *Stack) SetYield(fn func()) { s.pollYield = fn }

// Config returns the current interface configuration.
func (s *Stack) Config() Config { return s.cfg }

// Counters returns a snapshot of the activity counters.
func (s *Stack) Counters() Counters { return s.counters }

// SetConfig installs the address configuration and marks the interface
// configured.
func (s *Stack) SetConfig(ip, netmask, gateway IPv4) {
	s.cfg.IP = ip
	s.cfg.Netmask = netmask
	s.cfg.Gateway = gateway
	s.cfg.Configured = true
	logger.Infof("net: configured ip=%s netmask=%s gateway=%s", ip, netmask, gateway)
}

// SetDNSServer overrides the resolver address.
func (s *Stack) SetDNSServer(ip IPv4) {
	s.cfg.DNSServer = ip
}

// Poll drives the NIC once and optionally yields the CPU. Every
// bounded wait loop in the stack advances through here.
func (s *Stack) Poll() {
	s.nic.InterruptHandler()
	if s.pollYield != nil {
		s.pollYield()
	}
}

// receiveFrame is the upward dispatcher: EtherType selects the
// protocol handler.
func (s *Stack) receiveFrame(frame []byte) {
	s.counters.RxFrames++

	f, err := parseEthernet(frame)
	if err != nil {
		s.counters.Dropped++
		return
	}

	switch f.EtherType {
	case EtherTypeARP:
		s.counters.RxARP++
		s.receiveARP(f.Payload)
	case EtherTypeIPv4:
		s.counters.RxIPv4++
		s.receiveIPv4(f.Payload)
	default:
		s.counters.Dropped++
		logger.Tracef("net: dropping unknown ethertype %#04x", f.EtherType)
	}
}
