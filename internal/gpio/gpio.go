// Copyright 2024 Google Inc.
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

// Package gpio memory-maps the Broadcom GPIO input-level register and
// exposes a per-pin pressed/duration sample, per spec.md §4.5.
package gpio

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

const (
	blockSize    = 4 * 1024
	pinCount     = 28
	readRegWord  = 13
	readRegByte  = readRegWord * 4
	gpiomemPath  = "/dev/gpiomem"
)

// Fixed button pin numbers, per spec.md §6.
const (
	SW1Next   = 16
	SW2Scroll = 26
	SW3Reset  = 20
	SW4Back   = 21
)

// InvalidPinError reports a pin index outside the fixed pin count.
type InvalidPinError struct {
	Pin int
}

func (e *InvalidPinError) Error() string { return fmt.Sprintf("gpio: invalid pin %d", e.Pin) }

type snapshot struct {
	pressed bool
	since   time.Time
}

// GPIO owns the mapped register page and a per-pin edge-timestamp array.
// The mapping is acquired in New and must be released via Close on every
// exit path.
type GPIO struct {
	file *os.File
	mem  []byte
	snap [pinCount]snapshot
}

// New opens and maps /dev/gpiomem, taking an initial snapshot of every pin.
func New() (*GPIO, error) {
	f, err := os.OpenFile(gpiomemPath, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("gpio: open %s: %w", gpiomemPath, err)
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, blockSize, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("gpio: mmap %s: %w", gpiomemPath, err)
	}

	g := &GPIO{file: f, mem: mem}
	now := time.Now()
	val := g.value()
	for pin := 0; pin < pinCount; pin++ {
		g.snap[pin] = snapshot{pressed: bit(val, pin), since: now}
	}
	return g, nil
}

// value performs a fresh, non-cached read of the input-level register.
// The mapped page is hardware-backed; re-reading encoding/binary over the
// slice on every call is this package's substitute for a volatile read,
// since Go has no volatile qualifier.
func (g *GPIO) value() uint32 {
	return binary.LittleEndian.Uint32(g.mem[readRegByte : readRegByte+4])
}

func bit(val uint32, pin int) bool {
	return val&(1<<uint(pin)) == 0
}

// PinIn returns whether pin is currently pressed and how long it has held
// its current level.
func (g *GPIO) PinIn(pin int) (pressed bool, duration time.Duration, err error) {
	if pin < 0 || pin >= pinCount {
		return false, 0, &InvalidPinError{Pin: pin}
	}

	now := g.value()
	newPressed := bit(now, pin)

	if newPressed != g.snap[pin].pressed {
		g.snap[pin] = snapshot{pressed: newPressed, since: time.Now()}
	}
	return newPressed, time.Since(g.snap[pin].since), nil
}

// Close unmaps the register page and releases the device file. Safe to
// call more than once.
func (g *GPIO) Close() error {
	var err error
	if g.mem != nil {
		err = unix.Munmap(g.mem)
		g.mem = nil
	}
	if g.file != nil {
		if cerr := g.file.Close(); err == nil {
			err = cerr
		}
		g.file = nil
	}
	return err
}
