// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package transport

import (
	"errors"
	"strings"
)

// Errors returned by transports.
var (
	ErrNotConnected = errors.New("transport: not connected")
	ErrClosed       = errors.New("transport: session closed")
)

// accountRemoved is the text servers put in the stream error sent when the
// account of the connected user is deleted.
const accountRemoved = "User removed"

// IsAccountRemoved reports whether err signals that the account was deleted on
// the server.
func IsAccountRemoved(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), accountRemoved)
}
