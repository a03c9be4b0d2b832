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

package action

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"os"
	"time"
)

// idTimeLayout renders as 2025-03-14-09h:26m:53s.
const idTimeLayout = "2006-01-02-15h:04m:05s"

// GenerateID builds a transfer id from the local host, both transfer
// endpoints, a timestamp and a random suffix.
func GenerateID(host, src, dst string, now time.Time) string {
	return fmt.Sprintf("fdtcp-%s--%s-to-%s--%s-%s", host, src, dst, now.Format(idTimeLayout), randomLetters(5))
}

// Hostname returns $HOSTNAME, falling back to the kernel host name.
func Hostname() string {
	if h := os.Getenv("HOSTNAME"); h != "" {
		return h
	}
	h, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	return h
}

// randomLetters returns n random lowercase letters.
func randomLetters(n int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	out := make([]byte, n)
	max := big.NewInt(int64(len(letters)))
	for i := range out {
		v, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand does not fail on supported platforms
			v = big.NewInt(time.Now().UnixNano() % int64(len(letters)))
		}
		out[i] = letters[v.Int64()]
	}
	return string(out)
}
