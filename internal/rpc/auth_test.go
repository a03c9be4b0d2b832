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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTokenValidator(t *testing.T) {
	v := NewTokenValidator("secret")

	assert.NoError(t, v.Validate("secret", "10.0.0.1:5000"))
	assert.ErrorIs(t, v.Validate("wrong", "10.0.0.1:5000"), ErrAuthenticationFailed)
	assert.ErrorIs(t, v.Validate("", "10.0.0.1:5001"), ErrAuthenticationFailed)
	assert.Equal(t, 2, v.FailedAttempts("10.0.0.1"))

	// A success clears the failure count.
	assert.NoError(t, v.Validate("secret", "10.0.0.1:5002"))
	assert.Equal(t, 0, v.FailedAttempts("10.0.0.1"))
}

func TestTokenValidator_Lockout(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	v := NewTokenValidator("secret")
	v.now = func() time.Time { return now }

	for i := 0; i < MaxFailedAttempts; i++ {
		assert.ErrorIs(t, v.Validate("guess", "10.0.0.2:1"), ErrAuthenticationFailed)
	}

	// Even the right token is refused while locked out.
	assert.ErrorIs(t, v.Validate("secret", "10.0.0.2:1"), ErrLockedOut)

	// Other clients are unaffected.
	assert.NoError(t, v.Validate("secret", "10.0.0.3:1"))

	now = now.Add(LockoutDuration + time.Second)
	assert.NoError(t, v.Validate("secret", "10.0.0.2:1"))
}

func TestTokenValidator_WindowExpires(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	v := NewTokenValidator("secret")
	v.now = func() time.Time { return now }

	for i := 0; i < MaxFailedAttempts-1; i++ {
		v.Validate("guess", "10.0.0.4:1")
	}
	now = now.Add(FailureWindow + time.Second)

	assert.ErrorIs(t, v.Validate("guess", "10.0.0.4:1"), ErrAuthenticationFailed)
	assert.Equal(t, 1, v.FailedAttempts("10.0.0.4"))
}
