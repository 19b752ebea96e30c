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

// Package ringbuf provides a fixed-capacity single-producer single-consumer
// sample FIFO that never blocks and never allocates after construction.
package ringbuf

import "sync/atomic"

// Ring is a lock-free FIFO of float32 samples. Exactly one goroutine may
// write and exactly one goroutine may read at any time.
type Ring struct {
	data []float32
	mask uint64

	// head counts samples ever read, tail counts samples ever written.
	// Both only grow; tail-head is the fill level.
	head atomic.Uint64
	_    [56]byte
	tail atomic.Uint64
}

// New creates a ring holding at least capacity samples. Capacity is rounded
// up to a power of two.
func New(capacity int) *Ring {
	size := 1
	for size < capacity {
		size <<= 1
	}
	return &Ring{
		data: make([]float32, size),
		mask: uint64(size - 1),
	}
}

// Cap returns the number of samples the ring can hold
func (r *Ring) Cap() int { return len(r.data) }

// Len returns the number of samples ready to be read
func (r *Ring) Len() int {
	return int(r.tail.Load() - r.head.Load())
}

// Free returns the number of samples that can be written without loss
func (r *Ring) Free() int {
	return len(r.data) - r.Len()
}

// Write appends as many samples from src as fit and returns that count.
// Producer side only.
func (r *Ring) Write(src []float32) int {
	tail := r.tail.Load()
	free := len(r.data) - int(tail-r.head.Load())
	n := min(len(src), free)
	if n <= 0 {
		return 0
	}
	start := int(tail & r.mask)
	first := copy(r.data[start:], src[:n])
	copy(r.data, src[first:n])
	r.tail.Store(tail + uint64(n))
	return n
}

// Read moves up to len(dst) samples into dst and returns that count.
// Consumer side only.
func (r *Ring) Read(dst []float32) int {
	head := r.head.Load()
	n := min(len(dst), int(r.tail.Load()-head))
	if n <= 0 {
		return 0
	}
	start := int(head & r.mask)
	first := copy(dst[:n], r.data[start:])
	copy(dst[first:n], r.data)
	r.head.Store(head + uint64(n))
	return n
}

// Discard drops up to n samples from the read side and returns how many were
// dropped. Consumer side only.
func (r *Ring) Discard(n int) int {
	head := r.head.Load()
	n = min(n, int(r.tail.Load()-head))
	if n <= 0 {
		return 0
	}
	r.head.Store(head + uint64(n))
	return n
}
