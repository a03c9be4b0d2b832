// Copyright 2025 Tom Barlow
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

package rpc

import (
	"crypto/subtle"
	"net"
	"sync"
	"time"

	"github.com/tombee/fdtd/pkg/errors"
)

var (
	// ErrAuthenticationFailed is returned for a wrong or missing token.
	ErrAuthenticationFailed = errors.New("rpc: authentication failed")

	// ErrLockedOut is returned while a client IP is locked out.
	ErrLockedOut = errors.New("rpc: too many failed authentication attempts")
)

const (
	// MaxFailedAttempts locks an IP out after this many failures within
	// FailureWindow.
	MaxFailedAttempts = 5
	FailureWindow     = time.Minute
	LockoutDuration   = time.Minute
)

// TokenValidator checks the X-Auth-Token header and locks out clients
// that keep guessing.
type TokenValidator struct {
	token string
	now   func() time.Time

	mu       sync.Mutex
	failures map[string]*failureEntry
}

type failureEntry struct {
	count       int
	first       time.Time
	lockedUntil time.Time
}

// NewTokenValidator returns a validator for token.
func NewTokenValidator(token string) *TokenValidator {
	return &TokenValidator{
		token:    token,
		now:      time.Now,
		failures: make(map[string]*failureEntry),
	}
}

// Validate compares token in constant time. remoteAddr may carry a port.
func (v *TokenValidator) Validate(token, remoteAddr string) error {
	ip, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		ip = remoteAddr
	}
	now := v.now()

	v.mu.Lock()
	defer v.mu.Unlock()

	v.prune(now)
	entry := v.failures[ip]
	if entry != nil && now.Before(entry.lockedUntil) {
		return ErrLockedOut
	}

	if subtle.ConstantTimeCompare([]byte(token), []byte(v.token)) == 1 {
		delete(v.failures, ip)
		return nil
	}

	if entry == nil || now.Sub(entry.first) > FailureWindow {
		entry = &failureEntry{first: now}
		v.failures[ip] = entry
	}
	entry.count++
	if entry.count >= MaxFailedAttempts {
		entry.lockedUntil = now.Add(LockoutDuration)
	}
	return ErrAuthenticationFailed
}

// FailedAttempts returns the failures recorded for ip.
func (v *TokenValidator) FailedAttempts(ip string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if e := v.failures[ip]; e != nil {
		return e.count
	}
	return 0
}

// prune drops entries whose window and lockout have both passed.
func (v *TokenValidator) prune(now time.Time) {
	for ip, e := range v.failures {
		if now.After(e.lockedUntil) && now.Sub(e.first) > FailureWindow {
			delete(v.failures, ip)
		}
	}
}
