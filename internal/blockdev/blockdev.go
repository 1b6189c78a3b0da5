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

// Package blockdev defines the sector-addressed block device interface
// consumed by filesystem backends, and the session-lifetime RAM disk.
package blockdev

import (
	"fmt"

	"github.com/mqestical/amqos/internal/kerr"
)

// SectorSize is the fixed sector granularity.
const SectorSize = 512

// Device is a sector-addressed block device.
type Device interface {
	// Sectors returns the device capacity in sectors.
	Sectors() uint32

	// ReadSectors copies count sectors starting at lba into buf.
	ReadSectors(lba uint32, count uint32, buf []byte) error

	// WriteSectors copies count sectors from buf starting at lba.
	WriteSectors(lba uint32, count uint32, buf []byte) error
}

// Registry maps device names to devices.
type Registry struct {
	devices map[string]Device
}

func NewRegistry() *Registry {
	return &Registry{devices: make(map[string]Device)}
}

func (r *Registry) Register(name string, dev Device) {
	r.devices[name] = dev
}

func (r *Registry) Lookup(name string) (Device, error) {
	dev, ok := r.devices[name]
	if !ok {
		return nil, fmt.Errorf("blockdev: device %q: %w", name, kerr.ErrNotFound)
	}
	return dev, nil
}

// RAMDisk is a zero-initialized in-memory device.
type RAMDisk struct {
	data []byte
}

// NewRAMDisk creates a RAM disk of size bytes, rounded down to whole
// sectors.
func NewRAMDisk(size uint32) *RAMDisk {
	sectors := size / SectorSize
	return &RAMDisk{data: make([]byte, sectors*SectorSize)}
}

func (d *RAMDisk) Sectors() uint32 {
	return uint32(len(d.data)) / SectorSize
}

func (d *RAMDisk) check(lba, count uint32, buf []byte) error {
	if count == 0 || buf == nil {
		return fmt.Errorf("ramdisk: bad transfer: %w", kerr.ErrInvalidArgument)
	}
	offset := uint64(lba) * SectorSize
	size := uint64(count) * SectorSize
	if offset+size > uint64(len(d.data)) {
		return fmt.Errorf("ramdisk: access beyond device end: %w", kerr.ErrInvalidArgument)
	}
	if uint64(len(buf)) < size {
		return fmt.Errorf("ramdisk: short buffer: %w", kerr.ErrInvalidArgument)
	}
	return nil
}

func (d *RAMDisk) ReadSectors(lba, count uint32, buf []byte) error {
	if err := d.check(lba, count, buf); err != nil {
		return err
	}
	offset := lba * SectorSize
	copy(buf[:count*SectorSize], d.data[offset:])
	return nil
}

func (d *RAMDisk) WriteSectors(lba, count uint32, buf []byte) error {
	if err := d.check(lba, count, buf); err != nil {
		return err
	}
	offset := lba * SectorSize
	copy(d.data[offset:], buf[:count*SectorSize])
	return nil
}
