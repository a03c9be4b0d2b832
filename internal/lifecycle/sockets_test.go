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

package lifecycle

import (
	"context"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/fdtd/pkg/errors"
)

func listen(t *testing.T) (net.Listener, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return ln, ln.Addr().(*net.TCPAddr).Port
}

func TestFindPortOwners(t *testing.T) {
	ln, port := listen(t)
	defer ln.Close()

	owners, err := FindPortOwners(port)
	require.NoError(t, err)

	var found bool
	for _, o := range owners {
		if o.PID == os.Getpid() {
			found = true
			assert.NotEmpty(t, o.Command)
		}
	}
	assert.True(t, found, "owners %+v do not include this process", owners)
}

func TestProcessBindsPort(t *testing.T) {
	ln, port := listen(t)

	bound, err := ProcessBindsPort(os.Getpid(), port)
	require.NoError(t, err)
	assert.True(t, bound)

	require.NoError(t, ln.Close())
	bound, err = ProcessBindsPort(os.Getpid(), port)
	require.NoError(t, err)
	assert.False(t, bound)
}

func TestWaitPortReleased(t *testing.T) {
	t.Run("returns after close", func(t *testing.T) {
		ln, port := listen(t)
		go func() {
			time.Sleep(100 * time.Millisecond)
			ln.Close()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, WaitPortReleased(ctx, os.Getpid(), port, 20*time.Millisecond))
	})

	t.Run("times out while bound", func(t *testing.T) {
		ln, port := listen(t)
		defer ln.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		err := WaitPortReleased(ctx, os.Getpid(), port, 20*time.Millisecond)

		var te *errors.TimeoutError
		assert.ErrorAs(t, err, &te)
	})
}
