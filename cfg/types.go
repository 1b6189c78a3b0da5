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

package cfg

import (
	"fmt"
	"strconv"
	"strings"
)

// LogSeverity is one of TRACE, DEBUG, INFO, WARNING, ERROR, OFF.
type LogSeverity string

const (
	TraceLevel   LogSeverity = "TRACE"
	DebugLevel   LogSeverity = "DEBUG"
	InfoLevel    LogSeverity = "INFO"
	WarningLevel LogSeverity = "WARNING"
	ErrorLevel   LogSeverity = "ERROR"
	OffLevel     LogSeverity = "OFF"
)

func (l *LogSeverity) UnmarshalText(text []byte) error {
	level := LogSeverity(strings.ToUpper(string(text)))
	switch level {
	case TraceLevel, DebugLevel, InfoLevel, WarningLevel, ErrorLevel, OffLevel:
		*l = level
		return nil
	}
	return fmt.Errorf("invalid log severity: %q", string(text))
}

func (l *LogSeverity) String() string {
	return string(*l)
}

// IPAddr is a dotted-quad flag/config value. The zero value means
// unset.
type IPAddr [4]byte

func (a *IPAddr) UnmarshalText(text []byte) error {
	s := string(text)
	if s == "" {
		*a = IPAddr{}
		return nil
	}
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return fmt.Errorf("invalid address: %q", s)
	}
	var out IPAddr
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 10, 8)
		if err != nil {
			return fmt.Errorf("invalid address: %q", s)
		}
		out[i] = byte(v)
	}
	*a = out
	return nil
}

func (a *IPAddr) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", a[0], a[1], a[2], a[3])
}

// IsZero reports whether the value was left unset.
func (a IPAddr) IsZero() bool { return a == IPAddr{} }
