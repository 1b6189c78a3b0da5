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
	"strings"

	"github.com/mqestical/amqos/internal/kerr"
	"github.com/mqestical/amqos/internal/logger"
)

const (
	arpRequest = 1
	arpReply   = 2

	arpPacketSize = 28

	arpCacheSize = 32

	arpAttempts     = 3
	arpPollTicks    = 500
	arpPollsPerTick = 20
)

// arpCacheEntry is one (ip, mac) binding. Timestamps come from a
// monotonic counter, so eviction is LRU without wall-time expiry.
type arpCacheEntry struct {
	ip        IPv4
	mac       MAC
	timestamp uint32
	valid     bool
}

type arpCache struct {
	entries [arpCacheSize]arpCacheEntry
	time    uint32
}

func newARPCache() *arpCache {
	return &arpCache{}
}

// Add inserts or refreshes a binding, evicting the least recently used
// entry when the cache is full.
func (c *arpCache) Add(ip IPv4, mac MAC) {
	for i := range c.entries {
		if c.entries[i].valid && c.entries[i].ip == ip {
			c.entries[i].mac = mac
			c.entries[i].timestamp = c.time
			c.time++
			return
		}
	}

	idx := -1
	oldest := uint32(0xFFFFFFFF)
	for i := range c.entries {
		if !c.entries[i].valid {
			idx = i
			break
		}
		if c.entries[i].timestamp < oldest {
			oldest = c.entries[i].timestamp
			idx = i
		}
	}

	c.entries[idx] = arpCacheEntry{ip: ip, mac: mac, timestamp: c.time, valid: true}
	c.time++
}

// Lookup returns the MAC bound to ip.
func (c *arpCache) Lookup(ip IPv4) (MAC, bool) {
	for i := range c.entries {
		if c.entries[i].valid && c.entries[i].ip == ip {
			return c.entries[i].mac, true
		}
	}
	return MAC{}, false
}

// Len counts valid entries.
func (c *arpCache) Len() int {
	n := 0
	for i := range c.entries {
		if c.entries[i].valid {
			n++
		}
	}
	return n
}

// CheckInvariants panics when the cache holds two valid entries for
// the same address.
func (c *arpCache) CheckInvariants() {
	seen := make(map[IPv4]bool)
	for i := range c.entries {
		if !c.entries[i].valid {
			continue
		}
		if seen[c.entries[i].ip] {
			panic(fmt.Sprintf("arp cache: duplicate entry for %s", c.entries[i].ip))
		}
		seen[c.entries[i].ip] = true
	}
}

// arpPacket is the fixed-size request/reply body.
type arpPacket struct {
	op       uint16
	senderHW MAC
	senderIP IPv4
	targetHW MAC
	targetIP IPv4
}

func (p *arpPacket) encode() []byte {
	buf := make([]byte, arpPacketSize)
	binary.BigEndian.PutUint16(buf[0:], 1)             // hardware type: ethernet
	binary.BigEndian.PutUint16(buf[2:], EtherTypeIPv4) // protocol type
	buf[4] = 6                                         // hardware length
	buf[5] = 4                                         // protocol length
	binary.BigEndian.PutUint16(buf[6:], p.op)
	copy(buf[8:14], p.senderHW[:])
	copy(buf[14:18], p.senderIP[:])
	copy(buf[18:24], p.targetHW[:])
	copy(buf[24:28], p.targetIP[:])
	return buf
}

func parseARP(data []byte) (arpPacket, error) {
	if len(data) < arpPacketSize {
		return arpPacket{}, fmt.Errorf("netstack: short arp packet: %w", kerr.ErrProtocol)
	}
	var p arpPacket
	p.op = binary.BigEndian.Uint16(data[6:])
	copy(p.senderHW[:], data[8:14])
	copy(p.senderIP[:], data[14:18])
	copy(p.targetHW[:], data[18:24])
	copy(p.targetIP[:], data[24:28])
	return p, nil
}

// receiveARP updates the cache from every ARP seen and answers
// requests addressed to us.
func (s *Stack) receiveARP(data []byte) {
	p, err := parseARP(data)
	if err != nil {
		s.counters.Dropped++
		return
	}

	s.arp.Add(p.senderIP, p.senderHW)

	if p.op == arpRequest && p.targetIP == s.cfg.IP && !s.cfg.IP.IsZero() {
		reply := arpPacket{
			op:       arpReply,
			senderHW: s.cfg.MAC,
			senderIP: s.cfg.IP,
			targetHW: p.senderHW,
			targetIP: p.senderIP,
		}
		if err := s.sendEthernet(p.senderHW, EtherTypeARP, reply.encode()); err != nil {
			logger.Warnf("arp: reply send failed: %v", err)
		}
	}
}

func (s *Stack) sendARPRequest(target IPv4) error {
	req := arpPacket{
		op:       arpRequest,
		senderHW: s.cfg.MAC,
		senderIP: s.cfg.IP,
		targetIP: target,
	}
	return s.sendEthernet(BroadcastMAC, EtherTypeARP, req.encode())
}

// ResolveARP returns the MAC for ip, answering from the cache when
// possible and otherwise broadcasting up to three requests, polling
// the NIC while waiting for the reply.
func (s *Stack) ResolveARP(ip IPv4) (MAC, error) {
	if mac, ok := s.arp.Lookup(ip); ok {
		return mac, nil
	}

	logger.Debugf("arp: resolving %s", ip)
	for attempt := 0; attempt < arpAttempts; attempt++ {
		if err := s.sendARPRequest(ip); err != nil {
			return MAC{}, err
		}
		for i := 0; i < arpPollTicks; i++ {
			for p := 0; p < arpPollsPerTick; p++ {
				s.Poll()
			}
			if mac, ok := s.arp.Lookup(ip); ok {
				logger.Debugf("arp: resolved %s -> %s", ip, mac)
				return mac, nil
			}
		}
	}

	return MAC{}, fmt.Errorf("arp: no reply for %s: %w", ip, kerr.ErrTimeout)
}

// ARPReport renders the cache for the shell.
func (s *Stack) ARPReport() string {
	var b strings.Builder
	b.WriteString("=== ARP Cache ===\n")
	n := 0
	for i := range s.arp.entries {
		e := &s.arp.entries[i]
		if e.valid {
			fmt.Fprintf(&b, "%s -> %s\n", e.ip, e.mac)
			n++
		}
	}
	if n == 0 {
		b.WriteString("(empty)\n")
	}
	return b.String()
}
