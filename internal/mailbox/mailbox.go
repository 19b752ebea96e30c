/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

// Package mailbox implements a single-slot, non-blocking carrier for handing
// values between two real-time threads.
//
// A mailbox has exactly one sending side and one receiving side. Send never
// overwrites an occupied slot and TryReceive never waits for one to fill, so
// neither side can stall the other.
package mailbox

import (
	"errors"
	"sync/atomic"
)

// ErrFull is returned by Send while the previous value has not been received
var ErrFull = errors.New("mailbox full")

type slot[T any] struct {
	value atomic.Pointer[T]
}

// Sender is the producing end of a mailbox
type Sender[T any] struct {
	slot *slot[T]
}

// Receiver is the consuming end of a mailbox
type Receiver[T any] struct {
	slot *slot[T]
}

// New creates an empty mailbox and returns its two ends
func New[T any]() (*Sender[T], *Receiver[T]) {
	s := &slot[T]{}
	return &Sender[T]{slot: s}, &Receiver[T]{slot: s}
}

// Send places v in the slot. It fails with ErrFull, leaving the current
// occupant in place, if the slot has not been emptied yet.
func (s *Sender[T]) Send(v T) error {
	if !s.slot.value.CompareAndSwap(nil, &v) {
		return ErrFull
	}
	return nil
}

// IsFull reports whether a sent value is still waiting
func (s *Sender[T]) IsFull() bool {
	return s.slot.value.Load() != nil
}

// TryReceive takes the value out of the slot. The boolean is false when the
// slot was empty.
func (r *Receiver[T]) TryReceive() (T, bool) {
	p := r.slot.value.Swap(nil)
	if p == nil {
		var zero T
		return zero, false
	}
	return *p, true
}

// Pending reports whether a value is waiting to be received
func (r *Receiver[T]) Pending() bool {
	return r.slot.value.Load() != nil
}
