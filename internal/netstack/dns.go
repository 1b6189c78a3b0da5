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
	"fmt"

	"golang.org/x/net/dns/dnsmessage"

	"github.com/mqestical/amqos/internal/kerr"
	"github.com/mqestical/amqos/internal/logger"
)

const (
	dnsServerPort = 53

	// dnsClientPort is the fixed ephemeral port the resolver binds.
	dnsClientPort = 53535

	dnsAttempts  = 3
	dnsPollIters = 2000
)

// defaultDNSServer is used until DHCP or the operator supplies one.
var defaultDNSServer = IPv4{8, 8, 8, 8}

// dnsState is the resolver's in-flight query.
type dnsState struct {
	queryID  uint16
	waiting  bool
	resolved IPv4
	found    bool
}

func (s *Stack) initDNS() {
	s.dnsResolver.queryID = 0x1234
	// The handler lives on the fixed client port for the stack's
	// lifetime.
	_ = s.RegisterUDPHandler(dnsClientPort, s.receiveDNS)
}

// receiveDNS parses a reply (compression pointers included, courtesy
// of the wire-format parser) and records the first A record.
func (s *Stack) receiveDNS(src IPv4, srcPort uint16, payload []byte) {
	var p dnsmessage.Parser
	header, err := p.Start(payload)
	if err != nil {
		logger.Tracef("dns: unparseable reply: %v", err)
		return
	}
	if header.ID != s.dnsResolver.queryID || !header.Response {
		return
	}
	if header.RCode != dnsmessage.RCodeSuccess {
		logger.Warnf("dns: server error %v", header.RCode)
		s.dnsResolver.waiting = false
		return
	}

	if err := p.SkipAllQuestions(); err != nil {
		s.dnsResolver.waiting = false
		return
	}

	for {
		h, err := p.AnswerHeader()
		if err != nil {
			break
		}
		if h.Type != dnsmessage.TypeA {
			if err := p.SkipAnswer(); err != nil {
				break
			}
			continue
		}
		r, err := p.AResource()
		if err != nil {
			break
		}
		s.dnsResolver.resolved = IPv4(r.A)
		s.dnsResolver.found = true
		break
	}
	s.dnsResolver.waiting = false
}

// ResolveHost turns a hostname into an address. Dotted-quad input
// short-circuits; otherwise an A query goes to the configured server
// (8.8.8.8 by default) with up to three retries.
func (s *Stack) ResolveHost(host string) (IPv4, error) {
	if host == "" {
		return IPv4{}, fmt.Errorf("dns: empty hostname: %w", kerr.ErrInvalidArgument)
	}
	if IsDottedQuad(host) {
		return ParseIPv4(host)
	}

	server := s.cfg.DNSServer
	if server.IsZero() {
		server = defaultDNSServer
	}

	s.dnsResolver.queryID++
	query, err := buildDNSQuery(s.dnsResolver.queryID, host)
	if err != nil {
		return IPv4{}, err
	}

	s.dnsResolver.found = false
	s.dnsResolver.resolved = IPv4{}

	for attempt := 0; attempt < dnsAttempts; attempt++ {
		if attempt > 0 {
			logger.Debugf("dns: retry %d/%d for %q", attempt+1, dnsAttempts, host)
		}
		s.dnsResolver.waiting = true
		if err := s.SendUDP(server, dnsClientPort, dnsServerPort, query); err != nil {
			return IPv4{}, err
		}

		for i := 0; i < dnsPollIters && s.dnsResolver.waiting; i++ {
			s.Poll()
		}
		if s.dnsResolver.found {
			logger.Debugf("dns: %q -> %s", host, s.dnsResolver.resolved)
			return s.dnsResolver.resolved, nil
		}
		if !s.dnsResolver.waiting {
			// A reply arrived but held no A record; retrying will not
			// change the answer.
			break
		}
	}

	return IPv4{}, fmt.Errorf("dns: cannot resolve %q: %w", host, kerr.ErrTimeout)
}

// buildDNSQuery assembles a recursion-desired A/IN question.
func buildDNSQuery(id uint16, host string) ([]byte, error) {
	name, err := dnsmessage.NewName(host + ".")
	if err != nil {
		return nil, fmt.Errorf("dns: bad hostname %q: %w", host, kerr.ErrInvalidArgument)
	}

	b := dnsmessage.NewBuilder(nil, dnsmessage.Header{
		ID:               id,
		RecursionDesired: true,
	})
	if err := b.StartQuestions(); err != nil {
		return nil, err
	}
	if err := b.Question(dnsmessage.Question{
		Name:  name,
		Type:  dnsmessage.TypeA,
		Class: dnsmessage.ClassINET,
	}); err != nil {
		return nil, err
	}
	return b.Finish()
}
