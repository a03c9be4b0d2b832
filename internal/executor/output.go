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

package executor

import (
	"bytes"
	"strings"
	"sync"
)

var logsDelimiter = strings.Repeat("-", 78)

// outputBuffer collects a child's stream while other goroutines read it.
type outputBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *outputBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *outputBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *outputBuffer) Contains(s string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bytes.Contains(b.buf.Bytes(), []byte(s))
}

func formatLogs(stdout, stderr string) string {
	var sb strings.Builder
	sb.WriteString(logsDelimiter)
	sb.WriteString("\nstdout:\n")
	sb.WriteString(stdout)
	sb.WriteString("\n")
	sb.WriteString(logsDelimiter)
	sb.WriteString("\nstderr:\n")
	sb.WriteString(stderr)
	sb.WriteString("\n")
	sb.WriteString(logsDelimiter)
	return sb.String()
}
