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

package nic

import (
	"encoding/binary"
	"sync"

	"github.com/mqestical/amqos/internal/memory"
)

// Intel identifiers the driver probes for.
const (
	vendorIntel = 0x8086

	Device82540EM = 0x100E
	Device82545EM = 0x100F
	Device82543GC = 0x1004
)

// Register offsets.
const (
	regCTRL   = 0x0000
	regSTATUS = 0x0008
	regEERD   = 0x0014
	regICR    = 0x00C0
	regIMS    = 0x00D0
	regIMC    = 0x00D8
	regRCTL   = 0x0100
	regTCTL   = 0x0400
	regRDBAL  = 0x2800
	regRDBAH  = 0x2804
	regRDLEN  = 0x2808
	regRDH    = 0x2810
	regRDT    = 0x2818
	regTDBAL  = 0x3800
	regTDBAH  = 0x3804
	regTDLEN  = 0x3808
	regTDH    = 0x3810
	regTDT    = 0x3818
	regRAL0   = 0x5400
	regRAH0   = 0x5404
)

// CTRL bits.
const (
	ctrlASDE = 1 << 5
	ctrlSLU  = 1 << 6
	ctrlRST  = 1 << 26
)

// STATUS bits.
const statusLU = 1 << 1

// RCTL bits.
const (
	rctlEN    = 1 << 1
	rctlBAM   = 1 << 15
	rctlBSEX  = 1 << 25
	rctlSECRC = 1 << 26
	// Buffer size 4096 with BSEX: BSIZE=11.
	rctlBSIZE4K = 3 << 16
)

// TCTL bits.
const (
	tctlEN  = 1 << 1
	tctlPSP = 1 << 3
)

// Interrupt causes.
const (
	icrTXQE = 1 << 1
	icrLSC  = 1 << 2
	icrRXO  = 1 << 6
	icrRXT0 = 1 << 7
)

// Descriptor layout.
const (
	descSize = 16

	rxStatusDD = 1 << 0

	txCmdEOP  = 1 << 0
	txCmdIFCS = 1 << 1
	txCmdRS   = 1 << 3

	txStatusDD = 1 << 0
)

const maxFrameSize = 4096

// Device is the register-level model of the card. DMA goes through the
// kernel's physical memory arena, exactly as the driver programmed the
// ring base registers.
type Device struct {
	mu sync.Mutex

	deviceID uint16
	mem      memory.Arena
	medium   *Medium

	regs   map[uint32]uint32
	eeprom [3]uint16
	icr    uint32

	// pending holds frames from the wire not yet placed in the RX ring.
	pending [][]byte
}

// NewDevice models a card with the given MAC baked into its EEPROM.
func NewDevice(deviceID uint16, mac [6]byte, mem memory.Arena, medium *Medium) *Device {
	d := &Device{
		deviceID: deviceID,
		mem:      mem,
		medium:   medium,
		regs:     map[uint32]uint32{regSTATUS: statusLU},
	}
	d.eeprom[0] = uint16(mac[0]) | uint16(mac[1])<<8
	d.eeprom[1] = uint16(mac[2]) | uint16(mac[3])<<8
	d.eeprom[2] = uint16(mac[4]) | uint16(mac[5])<<8
	medium.attach(d)
	return d
}

// ReadReg implements an MMIO register read.
func (d *Device) ReadReg(offset uint32) uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch offset {
	case regICR:
		// Reading ICR acknowledges all pending causes.
		v := d.icr
		d.icr = 0
		return v
	case regEERD:
		addr := (d.regs[regEERD] >> 8) & 0xFF
		var data uint16
		if addr < 3 {
			data = d.eeprom[addr]
		}
		// Done bit plus the requested word.
		return d.regs[regEERD] | (1 << 4) | uint32(data)<<16
	case regSTATUS:
		return statusLU
	}
	return d.regs[offset]
}

// WriteReg implements an MMIO register write.
func (d *Device) WriteReg(offset uint32, value uint32) {
	d.mu.Lock()

	switch offset {
	case regCTRL:
		if value&ctrlRST != 0 {
			d.regs = map[uint32]uint32{regSTATUS: statusLU}
			d.icr = 0
			d.pending = nil
			d.mu.Unlock()
			return
		}
		d.regs[offset] = value
	case regTDT:
		d.regs[offset] = value
		d.mu.Unlock()
		d.processTx()
		return
	case regRDT:
		d.regs[offset] = value
		d.mu.Unlock()
		d.fillRx()
		return
	default:
		d.regs[offset] = value
	}
	d.mu.Unlock()
}

// processTx walks the TX ring from TDH to TDT, transmitting each
// descriptor with the end-of-packet command set.
func (d *Device) processTx() {
	for {
		d.mu.Lock()
		head := d.regs[regTDH]
		tail := d.regs[regTDT]
		count := d.regs[regTDLEN] / descSize
		if count == 0 || head == tail || d.regs[regTCTL]&tctlEN == 0 {
			d.mu.Unlock()
			return
		}
		base := uint64(d.regs[regTDBAL]) | uint64(d.regs[regTDBAH])<<32
		desc := base + uint64(head)*descSize

		bufAddr := binary.LittleEndian.Uint64(d.mem.Slice(desc, 8))
		length := binary.LittleEndian.Uint16(d.mem.Slice(desc+8, 2))
		cmd := d.mem.Slice(desc+11, 1)[0]

		var frame []byte
		if cmd&txCmdEOP != 0 && length > 0 && uint32(length) <= maxFrameSize {
			frame = append(frame, d.mem.Slice(bufAddr, uint64(length))...)
		}

		// Report the descriptor done.
		d.mem.Slice(desc+12, 1)[0] |= txStatusDD
		d.regs[regTDH] = (head + 1) % count
		d.icr |= icrTXQE
		medium := d.medium
		d.mu.Unlock()

		if frame != nil {
			medium.transmit(frame)
		}
	}
}

// receiveFrame accepts a frame from the wire and places it in the RX
// ring when there is room.
func (d *Device) receiveFrame(frame []byte) {
	d.mu.Lock()
	cp := append([]byte(nil), frame...)
	d.pending = append(d.pending, cp)
	d.mu.Unlock()
	d.fillRx()
}

// fillRx moves pending frames into RX descriptors owned by hardware,
// setting the descriptor-done bit the driver polls for.
func (d *Device) fillRx() {
	d.mu.Lock()
	defer d.mu.Unlock()

	count := d.regs[regRDLEN] / descSize
	if count == 0 || d.regs[regRCTL]&rctlEN == 0 {
		return
	}
	base := uint64(d.regs[regRDBAL]) | uint64(d.regs[regRDBAH])<<32

	for len(d.pending) > 0 {
		head := d.regs[regRDH]
		tail := d.regs[regRDT]
		if head == tail {
			// Ring full.
			d.icr |= icrRXO
			return
		}

		frame := d.pending[0]
		if uint32(len(frame)) > maxFrameSize {
			d.pending = d.pending[1:]
			continue
		}

		desc := base + uint64(head)*descSize
		bufAddr := binary.LittleEndian.Uint64(d.mem.Slice(desc, 8))
		copy(d.mem.Slice(bufAddr, uint64(len(frame))), frame)
		binary.LittleEndian.PutUint16(d.mem.Slice(desc+8, 2), uint16(len(frame)))
		d.mem.Slice(desc+12, 1)[0] |= rxStatusDD

		d.regs[regRDH] = (head + 1) % count
		d.pending = d.pending[1:]
		d.icr |= icrRXT0
	}
}
