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
	"fmt"

	"github.com/mqestical/amqos/internal/kerr"
	"github.com/mqestical/amqos/internal/logger"
	"github.com/mqestical/amqos/internal/memory"
)

const (
	rxDescCount = 32
	txDescCount = 8
	rxBufSize   = 4096
	txBufSize   = 4096
)

// Driver programs the 82540 through its registers and moves frames
// through descriptor rings living in DMA-pool memory.
type Driver struct {
	bus    *PCIBus
	mem    memory.Arena
	frames *memory.FrameAllocator

	hw  *Device
	mac [6]byte

	rxRing  uint64
	txRing  uint64
	rxBufs  [rxDescCount]uint64
	txBufs  [txDescCount]uint64
	rxCur   uint32
	txCur   uint32
	started bool

	receiver func(frame []byte)
}

func NewDriver(bus *PCIBus, mem memory.Arena, frames *memory.FrameAllocator) *Driver {
	return &Driver{bus: bus, mem: mem, frames: frames}
}

// SetReceiver installs the upward frame dispatcher. Frames are handed
// to it from InterruptHandler.
func (d *Driver) SetReceiver(fn func(frame []byte)) {
	d.receiver = fn
}

func (d *Driver) readReg(reg uint32) uint32       { return d.hw.ReadReg(reg) }
func (d *Driver) writeReg(reg uint32, val uint32) { d.hw.WriteReg(reg, val) }

func (d *Driver) readEEPROM(addr uint8) uint16 {
	d.writeReg(regEERD, 1|uint32(addr)<<8)
	for {
		v := d.readReg(regEERD)
		if v&(1<<4) != 0 {
			return uint16(v >> 16)
		}
	}
}

// Init scans PCI for a supported card, resets it, reads the MAC from
// the EEPROM, and brings up the receive and transmit rings.
func (d *Driver) Init() error {
	var found *Device
	for bus := 0; bus < 256 && found == nil; bus++ {
		for slot := 0; slot < 32; slot++ {
			vendor := d.bus.ReadWord(bus, slot, 0, pciVendorID)
			device := d.bus.ReadWord(bus, slot, 0, pciDeviceID)
			if vendor != vendorIntel {
				continue
			}
			if device != Device82540EM && device != Device82545EM && device != Device82543GC {
				continue
			}

			cmd := d.bus.ReadWord(bus, slot, 0, pciCommand)
			d.bus.WriteWord(bus, slot, 0, pciCommand, cmd|pciCmdEnable)
			found = d.bus.device(bus, slot)
			logger.Infof("e1000: found device %#04x at %d:%d", device, bus, slot)
			break
		}
	}
	if found == nil {
		return fmt.Errorf("e1000: no supported card on the bus: %w", kerr.ErrDevice)
	}
	d.hw = found

	// Reset, then set link up with auto speed detection.
	d.writeReg(regIMC, 0xFFFFFFFF)
	d.writeReg(regCTRL, ctrlRST)
	d.writeReg(regCTRL, ctrlSLU|ctrlASDE)

	mac := [3]uint16{d.readEEPROM(0), d.readEEPROM(1), d.readEEPROM(2)}
	d.mac[0] = byte(mac[0])
	d.mac[1] = byte(mac[0] >> 8)
	d.mac[2] = byte(mac[1])
	d.mac[3] = byte(mac[1] >> 8)
	d.mac[4] = byte(mac[2])
	d.mac[5] = byte(mac[2] >> 8)

	if err := d.setupRx(); err != nil {
		return err
	}
	if err := d.setupTx(); err != nil {
		return err
	}

	// Station address.
	d.writeReg(regRAL0, uint32(d.mac[0])|uint32(d.mac[1])<<8|uint32(d.mac[2])<<16|uint32(d.mac[3])<<24)
	d.writeReg(regRAH0, uint32(d.mac[4])|uint32(d.mac[5])<<8|1<<31)

	// Unmask the causes the stack polls on.
	d.writeReg(regIMS, icrRXT0|icrRXO|icrLSC|icrTXQE)

	if !d.LinkUp() {
		logger.Warnf("e1000: link not up after init")
	}

	d.started = true
	logger.Infof("e1000: ready, mac=%02x:%02x:%02x:%02x:%02x:%02x",
		d.mac[0], d.mac[1], d.mac[2], d.mac[3], d.mac[4], d.mac[5])
	return nil
}

func (d *Driver) setupRx() error {
	ring, err := d.frames.AllocContiguous((rxDescCount*descSize + memory.PageSize - 1) / memory.PageSize)
	if err != nil {
		return fmt.Errorf("e1000: rx ring: %w", err)
	}
	d.rxRing = ring

	for i := 0; i < rxDescCount; i++ {
		buf, err := d.frames.AllocPage()
		if err != nil {
			return fmt.Errorf("e1000: rx buffer %d: %w", i, err)
		}
		d.rxBufs[i] = buf
		desc := ring + uint64(i)*descSize
		binary.LittleEndian.PutUint64(d.mem.Slice(desc, 8), buf)
		clear(d.mem.Slice(desc+8, 8))
	}

	d.writeReg(regRDBAL, uint32(ring))
	d.writeReg(regRDBAH, uint32(ring>>32))
	d.writeReg(regRDLEN, rxDescCount*descSize)
	d.writeReg(regRDH, 0)
	d.rxCur = 0
	d.writeReg(regRCTL, rctlEN|rctlBAM|rctlBSEX|rctlSECRC|rctlBSIZE4K)
	d.writeReg(regRDT, rxDescCount-1)
	return nil
}

func (d *Driver) setupTx() error {
	ring, err := d.frames.AllocContiguous((txDescCount*descSize + memory.PageSize - 1) / memory.PageSize)
	if err != nil {
		return fmt.Errorf("e1000: tx ring: %w", err)
	}
	d.txRing = ring

	for i := 0; i < txDescCount; i++ {
		buf, err := d.frames.AllocPage()
		if err != nil {
			return fmt.Errorf("e1000: tx buffer %d: %w", i, err)
		}
		d.txBufs[i] = buf
		desc := ring + uint64(i)*descSize
		binary.LittleEndian.PutUint64(d.mem.Slice(desc, 8), buf)
		clear(d.mem.Slice(desc+8, 8))
		// Start out completed so the send path sees the slot free.
		d.mem.Slice(desc+12, 1)[0] = txStatusDD
	}

	d.writeReg(regTDBAL, uint32(ring))
	d.writeReg(regTDBAH, uint32(ring>>32))
	d.writeReg(regTDLEN, txDescCount*descSize)
	d.writeReg(regTDH, 0)
	d.writeReg(regTDT, 0)
	d.txCur = 0
	d.writeReg(regTCTL, tctlEN|tctlPSP)
	return nil
}

// MAC returns the station address read from the EEPROM.
func (d *Driver) MAC() [6]byte { return d.mac }

// LinkUp reports the link status bit.
func (d *Driver) LinkUp() bool {
	return d.readReg(regSTATUS)&statusLU != 0
}

// SendPacket copies the frame into the current TX descriptor and rings
// the doorbell.
func (d *Driver) SendPacket(frame []byte) error {
	if !d.started {
		return fmt.Errorf("e1000: not initialized: %w", kerr.ErrDevice)
	}
	if len(frame) == 0 || len(frame) > txBufSize {
		return fmt.Errorf("e1000: bad frame size %d: %w", len(frame), kerr.ErrInvalidArgument)
	}

	desc := d.txRing + uint64(d.txCur)*descSize
	if d.mem.Slice(desc+12, 1)[0]&txStatusDD == 0 {
		return fmt.Errorf("e1000: tx ring full: %w", kerr.ErrDevice)
	}

	copy(d.mem.Slice(d.txBufs[d.txCur], uint64(len(frame))), frame)
	binary.LittleEndian.PutUint16(d.mem.Slice(desc+8, 2), uint16(len(frame)))
	d.mem.Slice(desc+10, 1)[0] = 0
	d.mem.Slice(desc+11, 1)[0] = txCmdEOP | txCmdIFCS | txCmdRS
	d.mem.Slice(desc+12, 1)[0] = 0

	d.txCur = (d.txCur + 1) % txDescCount
	d.writeReg(regTDT, d.txCur)
	return nil
}

// InterruptHandler drains the RX ring: every descriptor with the done
// bit set is handed to the receiver, cleared, and returned to the
// hardware by advancing RDT. Safe to call from interrupt context and
// from the stack's poll loops.
func (d *Driver) InterruptHandler() {
	if !d.started {
		return
	}
	d.readReg(regICR)

	idx := d.rxCur
	consumed := false
	for {
		desc := d.rxRing + uint64(idx)*descSize
		status := d.mem.Slice(desc+12, 1)[0]
		if status&rxStatusDD == 0 {
			break
		}
		length := binary.LittleEndian.Uint16(d.mem.Slice(desc+8, 2))
		frame := append([]byte(nil), d.mem.Slice(d.rxBufs[idx], uint64(length))...)

		if d.receiver != nil {
			d.receiver(frame)
		}

		d.mem.Slice(desc+12, 1)[0] = 0
		idx = (idx + 1) % rxDescCount
		consumed = true
	}

	if consumed {
		d.rxCur = idx
		prev := (idx + rxDescCount - 1) % rxDescCount
		d.writeReg(regRDT, prev)
	}
}
