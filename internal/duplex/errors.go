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

package duplex

import (
	"errors"
	"fmt"
)

var (
	// ErrNoInputChannels is reported when the input configuration selects no channels
	ErrNoInputChannels = errors.New("no input channels given")

	// ErrAlreadyEjected is returned by a second Eject on the same stream
	ErrAlreadyEjected = errors.New("duplex stream already ejected")

	// ErrUnexpectedCallback is returned when the output stream hands back a
	// callback that is not the duplex callback it was created with
	ErrUnexpectedCallback = errors.New("output stream returned an unexpected callback")
)

// Kind classifies where a duplex stream error originated
type Kind uint8

const (
	// KindOther covers failures outside either backend, such as a callback mismatch on eject
	KindOther Kind = iota
	// KindInput wraps an error from the input stream backend
	KindInput
	// KindOutput wraps an error from the output stream backend
	KindOutput
	// KindConfig marks a stream configuration that cannot be used
	KindConfig
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindOutput:
		return "output"
	case KindConfig:
		return "config"
	default:
		return "other"
	}
}

// Error is returned by CreateDuplexStream and StreamHandle.Eject
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("duplex %s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func kindOf(err error) (Kind, bool) {
	var e *Error
	if !errors.As(err, &e) {
		return KindOther, false
	}
	return e.Kind, true
}

// IsInputError reports whether err came from the input stream
func IsInputError(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindInput
}

// IsOutputError reports whether err came from the output stream
func IsOutputError(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindOutput
}

// IsConfigError reports whether err was caused by the stream configuration
func IsConfigError(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindConfig
}
