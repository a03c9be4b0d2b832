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

package shared

import (
	"strings"
	"testing"
)

func TestRenderFields(t *testing.T) {
	out := RenderFields([][2]string{
		{"Host", "fdt.example.org"},
		{"Ports", "1/80"},
	})

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), out)
	}
	if !strings.Contains(lines[0], "Host:") || !strings.Contains(lines[0], "fdt.example.org") {
		t.Errorf("unexpected first line %q", lines[0])
	}
	if !strings.Contains(lines[1], "Ports:") || !strings.Contains(lines[1], "1/80") {
		t.Errorf("unexpected second line %q", lines[1])
	}
}

func TestRenderLogs(t *testing.T) {
	if got := RenderLogs("\n"); got != "" {
		t.Errorf("expected empty logs to render empty, got %q", got)
	}
	if got := RenderLogs("stdout:\nlistening\n"); !strings.Contains(got, "listening") {
		t.Errorf("expected logs in output, got %q", got)
	}
}

func TestRenderStatusLines(t *testing.T) {
	if got := RenderOK("reachable"); !strings.Contains(got, "reachable") || !strings.Contains(got, SymbolOK) {
		t.Errorf("unexpected OK line %q", got)
	}
	if got := RenderError("unreachable"); !strings.Contains(got, SymbolError) {
		t.Errorf("unexpected error line %q", got)
	}
}
