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
	dhcpServerPort = 67
	dhcpClientPort = 68

	dhcpHeaderSize  = 236
	dhcpMagicCookie = 0x63825363

	dhcpOpRequest = 1
	dhcpOpReply   = 2

	// Option codes.
	dhcpOptSubnetMask   = 1
	dhcpOptRouter       = 3
	dhcpOptDNS          = 6
	dhcpOptRequestedIP  = 50
	dhcpOptMessageType  = 53
	dhcpOptServerID     = 54
	dhcpOptParamRequest = 55
	dhcpOptEnd          = 0xFF

	// Message types.
	dhcpDiscover = 1
	dhcpOffer    = 2
	dhcpRequest  = 3
	dhcpAck      = 5

	dhcpPollIters = 5000
)

// DHCP client states.
type dhcpState int

const (
	dhcpStateInit dhcpState = iota
	dhcpStateDiscoverSent
	dhcpStateOfferReceived
	dhcpStateRequestSent
	dhcpStateBound
)

// DHCPClient walks discover/offer/request/ack and installs the
// resulting lease as the interface configuration.
type DHCPClient struct {
	stack *Stack
	state dhcpState
	xid   uint32

	offeredIP IPv4
	netmask   IPv4
	router    IPv4
	dns       IPv4
	serverID  IPv4
}

// NewDHCPClient binds the client to port 68.
func (s *Stack) NewDHCPClient() (*DHCPClient, error) {
	c := &DHCPClient{stack: s, xid: 0x414D5121}
	if err := s.RegisterUDPHandler(dhcpClientPort, c.receive); err != nil {
		return nil, err
	}
	return c, nil
}

// buildPacket assembles the BOOTP header, magic cookie, and options.
func (c *DHCPClient) buildPacket(messageType byte, options []byte) []byte {
	mac := c.stack.cfg.MAC

	p := make([]byte, 0, dhcpHeaderSize+64)
	header := make([]byte, dhcpHeaderSize)
	header[0] = dhcpOpRequest
	header[1] = 1 // htype: ethernet
	header[2] = 6 // hlen
	binary.BigEndian.PutUint32(header[4:], c.xid)
	binary.BigEndian.PutUint16(header[10:], 0x8000) // broadcast flag
	copy(header[28:34], mac[:])
	p = append(p, header...)

	cookie := make([]byte, 4)
	binary.BigEndian.PutUint32(cookie, dhcpMagicCookie)
	p = append(p, cookie...)

	p = append(p, dhcpOptMessageType, 1, messageType)
	p = append(p, options...)
	p = append(p, dhcpOptEnd)
	return p
}

// Run acquires a lease. On DHCPACK the interface configuration is
// installed and the client is Bound.
func (c *DHCPClient) Run() error {
	discover := c.buildPacket(dhcpDiscover, []byte{
		dhcpOptParamRequest, 3, dhcpOptSubnetMask, dhcpOptRouter, dhcpOptDNS,
	})
	c.state = dhcpStateDiscoverSent
	logger.Infof("dhcp: sending DISCOVER")
	if err := c.stack.SendUDP(BroadcastIP, dhcpClientPort, dhcpServerPort, discover); err != nil {
		return err
	}

	for i := 0; i < dhcpPollIters; i++ {
		c.stack.Poll()
		if c.state == dhcpStateBound {
			return nil
		}
	}
	return fmt.Errorf("dhcp: no lease: %w", kerr.ErrTimeout)
}

// Bound reports whether a lease was acquired.
func (c *DHCPClient) Bound() bool { return c.state == dhcpStateBound }

func (c *DHCPClient) receive(src IPv4, srcPort uint16, data []byte) {
	if len(data) < dhcpHeaderSize+4 {
		return
	}
	if data[0] != dhcpOpReply {
		return
	}
	if binary.BigEndian.Uint32(data[4:]) != c.xid {
		return
	}
	if binary.BigEndian.Uint32(data[dhcpHeaderSize:]) != dhcpMagicCookie {
		return
	}

	var yiaddr IPv4
	copy(yiaddr[:], data[16:20])

	messageType, opts := parseDHCPOptions(data[dhcpHeaderSize+4:])

	switch {
	case messageType == dhcpOffer && c.state == dhcpStateDiscoverSent:
		c.offeredIP = yiaddr
		c.netmask = opts.subnetMask
		c.router = opts.router
		c.dns = opts.dns
		c.serverID = opts.serverID
		c.state = dhcpStateOfferReceived
		logger.Infof("dhcp: OFFER %s from server %s", yiaddr, c.serverID)

		request := c.buildPacket(dhcpRequest, buildRequestOptions(c.offeredIP, c.serverID))
		c.state = dhcpStateRequestSent
		if err := c.stack.SendUDP(BroadcastIP, dhcpClientPort, dhcpServerPort, request); err != nil {
			logger.Warnf("dhcp: REQUEST send failed: %v", err)
		}

	case messageType == dhcpAck && c.state == dhcpStateRequestSent:
		c.stack.SetConfig(c.offeredIP, c.netmask, c.router)
		if !c.dns.IsZero() {
			c.stack.SetDNSServer(c.dns)
		}
		c.state = dhcpStateBound
		logger.Infof("dhcp: bound to %s", c.offeredIP)
	}
}

func buildRequestOptions(requested, serverID IPv4) []byte {
	opts := []byte{dhcpOptRequestedIP, 4}
	opts = append(opts, requested[:]...)
	opts = append(opts, dhcpOptServerID, 4)
	opts = append(opts, serverID[:]...)
	opts = append(opts, dhcpOptParamRequest, 3, dhcpOptSubnetMask, dhcpOptRouter, dhcpOptDNS)
	return opts
}

type dhcpOptions struct {
	subnetMask IPv4
	router     IPv4
	dns        IPv4
	serverID   IPv4
}

// parseDHCPOptions walks the TLV region up to the end option.
func parseDHCPOptions(data []byte) (messageType byte, opts dhcpOptions) {
	i := 0
	for i < len(data) {
		code := data[i]
		if code == dhcpOptEnd {
			break
		}
		if code == 0 {
			i++
			continue
		}
		if i+1 >= len(data) {
			break
		}
		length := int(data[i+1])
		value := data[i+2:]
		if len(value) < length {
			break
		}
		value = value[:length]

		switch code {
		case dhcpOptMessageType:
			if length == 1 {
				messageType = value[0]
			}
		case dhcpOptSubnetMask:
			if length == 4 {
				copy(opts.subnetMask[:], value)
			}
		case dhcpOptRouter:
			if length >= 4 {
				copy(opts.router[:], value)
			}
		case dhcpOptDNS:
			if length >= 4 {
				copy(opts.dns[:], value)
			}
		case dhcpOptServerID:
			if length == 4 {
				copy(opts.serverID[:], value)
			}
		}
		i += 2 + length
	}
	return messageType, opts
}
