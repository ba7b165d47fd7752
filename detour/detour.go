// This file is part of gdbridge project, available at https://github.com/qrdl/gdbridge
// Copyright (c) 2024 Ilya Caramishev. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at https://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

/*
Package detour redirects native functions of the current process to replacement
code.

Each hook has a target (the function being intercepted), a detour (the code that runs
instead) and a trampoline: a copy of the instructions the jump overwrites, followed by
a jump back into the target, so calling the trampoline behaves like calling the
original function.

Hooks go through the usual lifecycle:

	tramp, err := engine.Create(target, detour) // trampoline built, target untouched
	err = engine.Enable(target)                 // jump written over the prologue
	err = engine.Disable(target)                // prologue restored
	err = engine.Remove(target)                 // trampoline released

Only x86 and x86-64 code is supported. Prologues containing short (8-bit) branches,
or ending before the jump fits, cannot be moved and are rejected with
[StatusUnsupportedFunction].
*/
package detour

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/arch/x86/x86asm"

	"github.com/qrdl/gdbridge/mem"
)

// Status is the outcome of an engine operation. All non-zero statuses are errors and
// can be matched with errors.Is.
type Status int

const (
	StatusOK Status = iota
	StatusAlreadyCreated
	StatusNotCreated
	StatusEnabled
	StatusDisabled
	StatusNotExecutable
	StatusUnsupportedFunction
	StatusMemoryAlloc
	StatusMemoryProtect
)

var statusText = map[Status]string{
	StatusOK:                  "ok",
	StatusAlreadyCreated:      "hook already created",
	StatusNotCreated:          "hook not created",
	StatusEnabled:             "hook already enabled",
	StatusDisabled:            "hook not enabled",
	StatusNotExecutable:       "address is not executable",
	StatusUnsupportedFunction: "function prologue cannot be relocated",
	StatusMemoryAlloc:         "cannot allocate trampoline",
	StatusMemoryProtect:       "cannot change memory protection",
}

func (s Status) Error() string {
	if t, ok := statusText[s]; ok {
		return t
	}
	return fmt.Sprintf("detour status %d", int(s))
}

const (
	jmpRel32Len    = 5  // E9 rel32
	jmpAbs64Len    = 14 // FF 25 00000000 abs64
	maxInstLen     = 15
	trampolineSize = 64
)

type patch struct {
	target     mem.Address
	detour     mem.Address
	trampoline mem.Address
	jump       []byte // written over the target on enable
	original   []byte // bytes the jump replaces
	enabled    bool
}

// Engine owns the hooks of one address space.
type Engine struct {
	mu    sync.Mutex
	mem   mem.Region
	prot  mem.Protector
	alloc func(near mem.Address, size int) (mem.Address, error)
	free  func(addr mem.Address, size int) error
	mode  int
	hooks map[mem.Address]*patch
	log   *logrus.Entry
}

type Option func(*Engine)

// WithMemory makes the engine patch r using p to lift page protection.
func WithMemory(r mem.Region, p mem.Protector) Option {
	return func(e *Engine) {
		e.mem, e.prot = r, p
	}
}

// WithAllocator replaces the allocator of trampoline memory.
func WithAllocator(alloc func(near mem.Address, size int) (mem.Address, error), free func(mem.Address, int) error) Option {
	return func(e *Engine) {
		e.alloc, e.free = alloc, free
	}
}

// WithMode sets the instruction set of patched code, 32 or 64. It defaults to the
// native pointer width.
func WithMode(bits int) Option {
	return func(e *Engine) {
		e.mode = bits
	}
}

func WithLogger(l *logrus.Entry) Option {
	return func(e *Engine) {
		e.log = l
	}
}

// New creates an engine patching the current process.
func New(opts ...Option) *Engine {
	e := &Engine{
		mem:   mem.Local,
		prot:  mem.System,
		alloc: mem.AllocExec,
		free:  mem.FreeExec,
		mode:  mem.PtrSize * 8,
		hooks: map[mem.Address]*patch{},
		log:   logrus.WithField("component", "detour"),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

/*
Create prepares a hook redirecting target to detour and returns the trampoline. The
target is not modified until Enable.
*/
func (e *Engine) Create(target, detour mem.Address) (mem.Address, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.hooks[target]; ok {
		return 0, StatusAlreadyCreated
	}
	if !e.executable(target) || !e.executable(detour) {
		return 0, StatusNotExecutable
	}

	jump := e.jumpTo(target, detour)
	code := make([]byte, len(jump)+maxInstLen)
	e.mem.Read(target, code)

	tramp, err := e.alloc(target, trampolineSize)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", StatusMemoryAlloc, err)
	}

	body, stolen, err := e.relocate(code, target, tramp, len(jump))
	if err == nil {
		body = append(body, e.jumpTo(tramp.Add(len(body)), target.Add(stolen))...)
		if len(body) > trampolineSize {
			err = StatusUnsupportedFunction
		}
	}
	if err != nil {
		e.free(tramp, trampolineSize) //nolint:errcheck
		return 0, err
	}
	e.mem.Write(tramp, body)

	e.hooks[target] = &patch{
		target:     target,
		detour:     detour,
		trampoline: tramp,
		jump:       jump,
		original:   append([]byte(nil), code[:len(jump)]...),
	}
	e.log.WithFields(logrus.Fields{
		"target":     target,
		"detour":     detour,
		"trampoline": tramp,
		"stolen":     stolen,
	}).Debug("hook created")

	return tramp, nil
}

// Remove disables the hook if needed and releases its trampoline.
func (e *Engine) Remove(target mem.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.hooks[target]
	if !ok {
		return StatusNotCreated
	}
	if p.enabled {
		if err := e.write(target, p.original); err != nil {
			return err
		}
		p.enabled = false
	}
	if err := e.free(p.trampoline, trampolineSize); err != nil {
		e.log.WithError(err).WithField("trampoline", p.trampoline).Warn("cannot release trampoline")
	}
	delete(e.hooks, target)
	e.log.WithField("target", target).Debug("hook removed")

	return nil
}

// Enable writes the jump to the detour over the target prologue.
func (e *Engine) Enable(target mem.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.hooks[target]
	if !ok {
		return StatusNotCreated
	}
	if p.enabled {
		return StatusEnabled
	}
	return e.enable(p)
}

// Disable restores the original target prologue.
func (e *Engine) Disable(target mem.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.hooks[target]
	if !ok {
		return StatusNotCreated
	}
	if !p.enabled {
		return StatusDisabled
	}
	return e.disable(p)
}

// EnableAll enables every created hook that is not enabled yet, in address order,
// and stops at the first failure.
func (e *Engine) EnableAll() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, p := range e.sorted() {
		if p.enabled {
			continue
		}
		if err := e.enable(p); err != nil {
			return err
		}
	}
	return nil
}

// DisableAll disables every enabled hook and stops at the first failure.
func (e *Engine) DisableAll() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, p := range e.sorted() {
		if !p.enabled {
			continue
		}
		if err := e.disable(p); err != nil {
			return err
		}
	}
	return nil
}

// Trampoline returns the trampoline of the hook on target.
func (e *Engine) Trampoline(target mem.Address) (mem.Address, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.hooks[target]
	if !ok {
		return 0, false
	}
	return p.trampoline, true
}

// Enabled reports whether the hook on target is enabled.
func (e *Engine) Enabled(target mem.Address) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.hooks[target]
	return ok && p.enabled
}

func (e *Engine) enable(p *patch) error {
	if err := e.write(p.target, p.jump); err != nil {
		return err
	}
	p.enabled = true
	e.log.WithField("target", p.target).Debug("hook enabled")
	return nil
}

func (e *Engine) disable(p *patch) error {
	if err := e.write(p.target, p.original); err != nil {
		return err
	}
	p.enabled = false
	e.log.WithField("target", p.target).Debug("hook disabled")
	return nil
}

func (e *Engine) write(addr mem.Address, data []byte) error {
	if err := mem.WriteProtected(e.mem, e.prot, addr, data); err != nil {
		return fmt.Errorf("%w: %w", StatusMemoryProtect, err)
	}
	return nil
}

func (e *Engine) sorted() []*patch {
	list := make([]*patch, 0, len(e.hooks))
	for _, p := range e.hooks {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].target < list[j].target })
	return list
}

func (e *Engine) executable(addr mem.Address) bool {
	prot, err := e.prot.Query(addr)
	return err == nil && prot&mem.ProtExec != 0
}

// jumpTo encodes a jump placed at from to to: a 5-byte relative jump when the
// distance fits 32 bits, an absolute indirect jump through the following quadword
// otherwise.
func (e *Engine) jumpTo(from, to mem.Address) []byte {
	rel := int64(to) - int64(from) - jmpRel32Len
	if e.mode == 32 || fitsRel32(rel) {
		buf := make([]byte, jmpRel32Len)
		buf[0] = 0xE9
		binary.LittleEndian.PutUint32(buf[1:], uint32(rel))
		return buf
	}
	buf := make([]byte, jmpAbs64Len)
	buf[0], buf[1] = 0xFF, 0x25
	binary.LittleEndian.PutUint64(buf[6:], uint64(to))
	return buf
}

func fitsRel32(v int64) bool {
	return v >= math.MinInt32 && v <= math.MaxInt32
}

/*
relocate copies whole instructions from the start of code (located at src) until at
least need bytes are covered, rewriting 32-bit relative operands so they keep pointing
at the same absolute address from dst. It returns the rewritten instructions and the
number of bytes taken from src.
*/
func (e *Engine) relocate(code []byte, src, dst mem.Address, need int) ([]byte, int, error) {
	var out []byte
	off := 0
	for off < need {
		inst, err := x86asm.Decode(code[off:], e.mode)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: decoding at %v: %w", StatusUnsupportedFunction, src.Add(off), err)
		}
		raw := append([]byte(nil), code[off:off+inst.Len]...)

		if endsFlow(inst.Op) && off+inst.Len < need {
			return nil, 0, fmt.Errorf("%w: function at %v is shorter than the jump", StatusUnsupportedFunction, src)
		}

		switch inst.PCRel {
		case 0:
		case 4:
			disp := int32(binary.LittleEndian.Uint32(raw[inst.PCRelOff:]))
			dest := int64(src) + int64(off+inst.Len) + int64(disp)
			rel := dest - (int64(dst) + int64(len(out)+inst.Len))
			if e.mode == 64 && !fitsRel32(rel) {
				return nil, 0, fmt.Errorf("%w: %v is out of reach of the trampoline", StatusUnsupportedFunction, mem.Address(dest))
			}
			binary.LittleEndian.PutUint32(raw[inst.PCRelOff:], uint32(rel))
		default:
			return nil, 0, fmt.Errorf("%w: short branch %v at %v", StatusUnsupportedFunction, inst.Op, src.Add(off))
		}

		out = append(out, raw...)
		off += inst.Len
	}
	return out, off, nil
}

func endsFlow(op x86asm.Op) bool {
	switch op {
	case x86asm.RET, x86asm.LRET, x86asm.JMP, x86asm.LJMP, x86asm.INT, x86asm.UD2:
		return true
	}
	return false
}
