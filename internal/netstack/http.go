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
	"fmt"
	"strconv"
	"strings"

	"github.com/mqestical/amqos/internal/kerr"
	"github.com/mqestical/amqos/internal/logger"
)

const (
	httpUserAgent = "amqos/1.0"

	// httpRecvLimit bounds the response buffer.
	httpRecvLimit = 16 * 1024

	// httpIdleIters is the poll budget with no new data before the
	// fetch gives up.
	httpIdleIters = 10000
)

// HTTPResponse is a fetched resource, split at the first blank line.
type HTTPResponse struct {
	Headers string
	Body    []byte

	// Truncated is set when the 16 KiB receive buffer filled up.
	Truncated bool
}

// parseURL accepts http URLs only and applies the default port and
// path.
func parseURL(rawURL string) (host string, port uint16, path string, err error) {
	rest, ok := strings.CutPrefix(rawURL, "http://")
	if !ok {
		if strings.Contains(rawURL, "://") {
			return "", 0, "", fmt.Errorf("http: scheme of %q not supported: %w", rawURL, kerr.ErrUnsupported)
		}
		rest = rawURL
	}

	path = "/"
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		path = rest[i:]
		rest = rest[:i]
	}

	port = 80
	if i := strings.IndexByte(rest, ':'); i >= 0 {
		p, convErr := strconv.ParseUint(rest[i+1:], 10, 16)
		if convErr != nil {
			return "", 0, "", fmt.Errorf("http: bad port in %q: %w", rawURL, kerr.ErrInvalidArgument)
		}
		port = uint16(p)
		rest = rest[:i]
	}

	if rest == "" {
		return "", 0, "", fmt.Errorf("http: no host in %q: %w", rawURL, kerr.ErrInvalidArgument)
	}
	return rest, port, path, nil
}

// buildRequest renders the fixed GET request. The result always ends
// with a blank line and never contains a NUL.
func buildRequest(host, path string) ([]byte, error) {
	req := fmt.Sprintf("GET %s HTTP/1.1\r\nHost: %s\r\nUser-Agent: %s\r\nAccept: */*\r\nConnection: close\r\n\r\n",
		path, host, httpUserAgent)
	if !strings.HasSuffix(req, "\r\n\r\n") || strings.IndexByte(req, 0) >= 0 {
		return nil, fmt.Errorf("http: malformed request: %w", kerr.ErrProtocol)
	}
	return []byte(req), nil
}

// HTTPGet fetches a URL: resolve, connect, send the request, then poll
// the NIC, appending into a bounded buffer until the socket closes or
// the transfer goes idle.
func (s *Stack) HTTPGet(rawURL string) (*HTTPResponse, error) {
	host, port, path, err := parseURL(rawURL)
	if err != nil {
		return nil, err
	}

	ip, err := s.ResolveHost(host)
	if err != nil {
		return nil, err
	}

	sock, err := s.NewTCPSocket()
	if err != nil {
		return nil, err
	}

	var recv []byte
	truncated := false
	sock.SetDataHandler(func(p []byte) {
		room := httpRecvLimit - len(recv)
		if room <= 0 {
			truncated = true
			return
		}
		if len(p) > room {
			p = p[:room]
			truncated = true
		}
		recv = append(recv, p...)
	})

	if err := s.Connect(sock, ip, port); err != nil {
		return nil, err
	}

	request, err := buildRequest(host, path)
	if err != nil {
		s.CloseSocket(sock)
		return nil, err
	}
	logger.Debugf("http: GET %s from %s:%d", path, ip, port)
	if err := s.Send(sock, request); err != nil {
		s.CloseSocket(sock)
		return nil, err
	}

	idle := 0
	lastLen := 0
	for idle < httpIdleIters {
		s.Poll()
		if sock.State() == TCPClosed {
			break
		}
		if len(recv) != lastLen {
			lastLen = len(recv)
			idle = 0
		} else {
			idle++
		}
	}
	s.CloseSocket(sock)

	if len(recv) == 0 {
		return nil, fmt.Errorf("http: empty response from %s: %w", host, kerr.ErrTimeout)
	}

	resp := &HTTPResponse{Truncated: truncated}
	if i := bytes.Index(recv, []byte("\r\n\r\n")); i >= 0 {
		resp.Headers = string(recv[:i])
		resp.Body = append([]byte(nil), recv[i+4:]...)
	} else {
		resp.Body = append([]byte(nil), recv...)
	}
	return resp, nil
}

// StatusCode extracts the numeric status from the response's first
// line, or 0 when it cannot be parsed.
func (r *HTTPResponse) StatusCode() int {
	line := r.Headers
	if i := strings.Index(line, "\r\n"); i >= 0 {
		line = line[:i]
	}
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0
	}
	return code
}
