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

package hook

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/qrdl/gdbridge/callconv"
	"github.com/qrdl/gdbridge/mem"
	"github.com/qrdl/gdbridge/proc"
)

// Interceptor patches machine code. *detour.Engine is the production implementation.
type Interceptor interface {
	Create(target, detour mem.Address) (trampoline mem.Address, err error)
	Remove(target mem.Address) error
	Enable(target mem.Address) error
	Disable(target mem.Address) error
}

// Entry is the bookkeeping of one hook.
type Entry struct {
	ID          ID
	Target      Target
	Addr        mem.Address
	Replacement mem.Address
	Trampoline  mem.Address
	Signature   *callconv.Signature
	State       State
}

/*
Registry is the table of hooks of one process. It is meant to be created once at
startup and handed to everything that installs hooks or calls original functions.

The registry serialises its own bookkeeping, but creating and removing the same ID
from several goroutines at once is still a race the caller has to avoid.
*/
type Registry struct {
	mu          sync.RWMutex
	entries     map[ID]*Entry
	icpt        Interceptor
	res         proc.Resolver
	calls       callconv.Invoker
	newCallback func(callconv.Signature, callconv.Callback) (mem.Address, error)
	callbacks   map[ID]*callbackSlot
	log         *logrus.Entry
}

// callbackSlot is the native entry point built for one ID. Native callbacks are never
// freed, so a re-created hook with the same signature reuses the slot and only swaps
// the Go function behind it.
type callbackSlot struct {
	sig  string
	addr mem.Address
	fn   atomic.Pointer[callconv.Callback]
}

func (s *callbackSlot) call(args []callconv.Value) callconv.Value {
	return (*s.fn.Load())(args)
}

type Option func(*Registry)

// WithInvoker sets the invoker CallOriginal goes through.
func WithInvoker(inv callconv.Invoker) Option {
	return func(r *Registry) {
		r.calls = inv
	}
}

// WithCallbacks replaces the way CreateFunc turns Go functions into native entry points.
func WithCallbacks(fn func(callconv.Signature, callconv.Callback) (mem.Address, error)) Option {
	return func(r *Registry) {
		r.newCallback = fn
	}
}

func WithLogger(l *logrus.Entry) Option {
	return func(r *Registry) {
		r.log = l
	}
}

// NewRegistry creates an empty registry patching code through icpt and resolving
// targets with res.
func NewRegistry(icpt Interceptor, res proc.Resolver, opts ...Option) *Registry {
	r := &Registry{
		entries:     map[ID]*Entry{},
		callbacks:   map[ID]*callbackSlot{},
		icpt:        icpt,
		res:         res,
		calls:       callconv.NativeInvoker(),
		newCallback: callconv.NewCallback,
		log:         logrus.WithField("component", "hook"),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

/*
Create resolves target and installs a hook redirecting it to replacement. The hook is
Installed but not Active until the next EnableAll.

It fails with ErrDoubleHook if id is already installed, with the resolver error if
target cannot be resolved, and with the interceptor status if the address cannot be
hooked (for example because another ID already hooks it).
*/
func (r *Registry) Create(id ID, target Target, replacement mem.Address) error {
	return r.create(id, target, replacement, nil)
}

/*
CreateFunc is like Create, but the replacement is a Go function. It is wrapped into a
native entry point with the calling convention of sig, and sig is remembered so the
replacement can reach the original function with CallOriginal.

The target is resolved before the entry point is built. Entry points are kept per ID
across Remove, so creating the same ID again with the same signature does not build
a new one.
*/
func (r *Registry) CreateFunc(id ID, target Target, sig callconv.Signature, fn callconv.Callback) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[id]; ok {
		return fmt.Errorf("%w: %s", ErrDoubleHook, id)
	}
	addr, err := r.resolve(id, target)
	if err != nil {
		return err
	}
	cb, err := r.callback(id, sig, fn)
	if err != nil {
		return fmt.Errorf("replacement for %s: %w", id, err)
	}
	return r.install(id, target, addr, cb, &sig)
}

func (r *Registry) create(id ID, target Target, replacement mem.Address, sig *callconv.Signature) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[id]; ok {
		return fmt.Errorf("%w: %s", ErrDoubleHook, id)
	}
	addr, err := r.resolve(id, target)
	if err != nil {
		return err
	}
	return r.install(id, target, addr, replacement, sig)
}

func (r *Registry) resolve(id ID, target Target) (mem.Address, error) {
	addr, err := target.Resolve(r.res)
	if err != nil {
		return 0, fmt.Errorf("resolving %s for %s: %w", target, id, err)
	}
	return addr, nil
}

// callback returns the native entry point for fn, reusing the one built for id
// earlier when the signature matches. Must be called with r.mu held.
func (r *Registry) callback(id ID, sig callconv.Signature, fn callconv.Callback) (mem.Address, error) {
	key := sig.String()
	if slot, ok := r.callbacks[id]; ok && slot.sig == key {
		slot.fn.Store(&fn)
		return slot.addr, nil
	}

	slot := &callbackSlot{sig: key}
	slot.fn.Store(&fn)
	addr, err := r.newCallback(sig, slot.call)
	if err != nil {
		return 0, err
	}
	slot.addr = addr
	r.callbacks[id] = slot
	return addr, nil
}

// install patches addr and records the hook. Must be called with r.mu held.
func (r *Registry) install(id ID, target Target, addr, replacement mem.Address, sig *callconv.Signature) error {
	tramp, err := r.icpt.Create(addr, replacement)
	if err != nil {
		return fmt.Errorf("hooking %s at %v: %w", id, addr, err)
	}

	r.entries[id] = &Entry{
		ID:          id,
		Target:      target,
		Addr:        addr,
		Replacement: replacement,
		Trampoline:  tramp,
		Signature:   sig,
		State:       Installed,
	}
	r.log.WithFields(logrus.Fields{
		"hook":       id,
		"target":     target.String(),
		"address":    addr,
		"trampoline": tramp,
	}).Info("hook installed")

	return nil
}

// Remove undoes the patch of id and forgets it.
func (r *Registry) Remove(id ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrHookNotFound, id)
	}
	if err := r.icpt.Remove(e.Addr); err != nil {
		return fmt.Errorf("removing %s: %w", id, err)
	}
	delete(r.entries, id)
	r.log.WithField("hook", id).Info("hook removed")

	return nil
}

// EnableAll activates every installed hook. It stops at the first failure, hooks
// enabled before it stay active.
func (r *Registry) EnableAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.sorted() {
		if e.State != Installed {
			continue
		}
		if err := r.icpt.Enable(e.Addr); err != nil {
			return fmt.Errorf("enabling %s: %w", e.ID, err)
		}
		e.State = Active
	}
	r.log.WithField("hooks", len(r.entries)).Debug("hooks enabled")
	return nil
}

// DisableAll deactivates every active hook, keeping them installed.
func (r *Registry) DisableAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.sorted() {
		if e.State != Active {
			continue
		}
		if err := r.icpt.Disable(e.Addr); err != nil {
			return fmt.Errorf("disabling %s: %w", e.ID, err)
		}
		e.State = Installed
	}
	r.log.WithField("hooks", len(r.entries)).Debug("hooks disabled")
	return nil
}

// Original returns the trampoline of id, the entry point that runs the original
// function.
func (r *Registry) Original(id ID) (mem.Address, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return 0, false
	}
	return e.Trampoline, true
}

// CallOriginal calls the original function of a hook created with CreateFunc.
func (r *Registry) CallOriginal(id ID, args ...any) (callconv.Value, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	var (
		tramp mem.Address
		sig   *callconv.Signature
	)
	if ok {
		tramp, sig = e.Trampoline, e.Signature
	}
	r.mu.RUnlock()

	if !ok {
		return callconv.Value{}, fmt.Errorf("%w: %s", ErrHookNotFound, id)
	}
	if sig == nil {
		return callconv.Value{}, fmt.Errorf("%w: %s", ErrNoSignature, id)
	}
	return r.calls.Invoke(tramp, *sig, args...)
}

// State reports the state of id.
func (r *Registry) State(id ID) State {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.entries[id]; ok {
		return e.State
	}
	return Uninitialized
}

// Entries returns a snapshot of all hooks, ordered by ID.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]Entry, 0, len(r.entries))
	for _, e := range r.sorted() {
		list = append(list, *e)
	}
	return list
}

func (r *Registry) sorted() []*Entry {
	list := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		list = append(list, e)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

// MustCreate is like Create but panics on error.
func (r *Registry) MustCreate(id ID, target Target, replacement mem.Address) {
	if err := r.Create(id, target, replacement); err != nil {
		panic(fmt.Errorf("failed to create hook: %w", err))
	}
}

// MustCreateFunc is like CreateFunc but panics on error.
func (r *Registry) MustCreateFunc(id ID, target Target, sig callconv.Signature, fn callconv.Callback) {
	if err := r.CreateFunc(id, target, sig, fn); err != nil {
		panic(fmt.Errorf("failed to create hook: %w", err))
	}
}

// MustRemove is like Remove but panics on error.
func (r *Registry) MustRemove(id ID) {
	if err := r.Remove(id); err != nil {
		panic(fmt.Errorf("failed to remove hook: %w", err))
	}
}

// MustEnableAll is like EnableAll but panics on error.
func (r *Registry) MustEnableAll() {
	if err := r.EnableAll(); err != nil {
		panic(fmt.Errorf("failed to enable hooks: %w", err))
	}
}

// MustDisableAll is like DisableAll but panics on error.
func (r *Registry) MustDisableAll() {
	if err := r.DisableAll(); err != nil {
		panic(fmt.Errorf("failed to disable hooks: %w", err))
	}
}
