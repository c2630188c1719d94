// Copyright 2025 CloudWeGo Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package receptor

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// Status is the closed set of results every receptor operation maps onto.
type Status int

const (
	OK    Status = 0
	ERROR Status = -1
	AGAIN Status = -2 // would block
	DONE  Status = -3 // completed early
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case OK:
		return "OK"
	case ERROR:
		return "ERROR"
	case AGAIN:
		return "AGAIN"
	case DONE:
		return "DONE"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// maxErrorStr bounds the runtime's last-error message.
const maxErrorStr = 2048

// Errors returned by receptor. Callers should match them with errors.Is.
var (
	ErrAgain           = errors.New("resource temporarily unavailable")
	ErrDone            = errors.New("operation completed early")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotInitialized  = errors.New("receptor not initialized")
	ErrInvalidModule   = errors.New("invalid module")
	ErrModuleExists    = errors.New("module already registered")
	ErrModuleInit      = errors.New("module init failed")
	ErrModuleExit      = errors.New("module exit failed")
	ErrNoBackend       = errors.New("no event backend configured")
	ErrUnknownBackend  = errors.New("unknown event backend")
	ErrReactorState    = errors.New("reactor not running")
	ErrNotSupported    = errors.New("operation not supported by backend")
	ErrAlreadyRunning  = errors.New("receptor already running")
	ErrNotRunning      = errors.New("receptor not running")
	ErrEmpty           = errors.New("container is empty")
	ErrOutOfRange      = errors.New("index out of range")
	ErrInvalidIterator = errors.New("invalid iterator")
	ErrPoolDestroyed   = errors.New("pool already destroyed")
	ErrConfig          = errors.New("invalid configuration")
)

// StatusOf maps an error returned by receptor onto its Status code.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return OK
	case errors.Is(err, ErrAgain):
		return AGAIN
	case errors.Is(err, ErrDone):
		return DONE
	}
	return ERROR
}

// truncateError bounds msg to maxErrorStr-1 bytes without splitting a
// UTF-8 sequence.
func truncateError(msg string) string {
	if len(msg) < maxErrorStr {
		return msg
	}
	n := maxErrorStr - 1
	for n > 0 && !utf8.RuneStart(msg[n]) {
		n--
	}
	return msg[:n]
}
