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

// Package kerr defines the error kinds shared by the kernel
// subsystems. Callers classify failures with errors.Is against these
// sentinels; subsystems add context with fmt.Errorf("...: %w", ...).
package kerr

import "errors"

var (
	// ErrOutOfMemory: no free frames, or the heap cannot grow.
	ErrOutOfMemory = errors.New("out of memory")

	// ErrInvalidArgument: nil path, bad descriptor, malformed header.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound: path component, filesystem type, or handler missing.
	ErrNotFound = errors.New("not found")

	// ErrCorruption: magic mismatch in heap block or filesystem.
	ErrCorruption = errors.New("corruption detected")

	// ErrTimeout: a bounded poll exhausted its iteration cap.
	ErrTimeout = errors.New("timed out")

	// ErrProtocol: unsupported protocol field or malformed packet.
	ErrProtocol = errors.New("protocol error")

	// ErrDevice: link down, ring full, or device not present.
	ErrDevice = errors.New("device error")

	// ErrUnsupported: feature intentionally not implemented.
	ErrUnsupported = errors.New("unsupported")
)
