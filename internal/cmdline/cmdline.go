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

// Package cmdline renders configured command templates and splits them into
// argument vectors.
//
// Templates use named placeholders of the form %(name)s, for example:
//
//	java -jar fdt.jar -p %(port)s -c %(hostDest)s -fl %(fileList)s
//
// Every placeholder must be supplied. A missing value is an error rather
// than an empty string, since a silently dropped flag argument shifts the
// rest of the command line.
package cmdline

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"al.essio.dev/pkg/shellescape"
	"github.com/kballard/go-shellquote"

	"github.com/tombee/fdtd/pkg/errors"
)

var placeholder = regexp.MustCompile(`%\(([A-Za-z_][A-Za-z0-9_]*)\)s`)

// Values maps placeholder names to their substitutions.
type Values map[string]any

// Render substitutes every %(name)s in tmpl with the matching value,
// formatted with %v. The result is not quoted; use RenderCommand for
// templates that become argument vectors.
func Render(tmpl string, values Values) (string, error) {
	return render(tmpl, values, func(s string) string { return s })
}

// RenderCommand renders tmpl with shell-quoted values so that a value
// containing whitespace stays a single argument after Split.
func RenderCommand(tmpl string, values Values) (string, error) {
	return render(tmpl, values, shellescape.Quote)
}

// Split breaks a rendered command into its argument vector using POSIX
// shell word rules.
func Split(command string) ([]string, error) {
	args, err := shellquote.Split(command)
	if err != nil {
		return nil, &errors.ValidationError{
			Field:   "command",
			Message: fmt.Sprintf("cannot split %q: %v", command, err),
		}
	}
	if len(args) == 0 {
		return nil, &errors.ValidationError{Field: "command", Message: "empty command"}
	}
	return args, nil
}

// Join is the inverse of Split.
func Join(args ...string) string {
	return shellquote.Join(args...)
}

// Placeholders returns the distinct placeholder names used by tmpl, sorted.
func Placeholders(tmpl string) []string {
	seen := make(map[string]struct{})
	for _, m := range placeholder.FindAllStringSubmatch(tmpl, -1) {
		seen[m[1]] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func render(tmpl string, values Values, quote func(string) string) (string, error) {
	var missing []string
	out := placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		v, ok := values[name]
		if !ok {
			missing = append(missing, name)
			return m
		}
		return quote(fmt.Sprint(v))
	})
	if len(missing) > 0 {
		return "", &errors.ValidationError{
			Field:      "template",
			Message:    fmt.Sprintf("unknown placeholder(s) %s in %q", strings.Join(missing, ", "), tmpl),
			Suggestion: "Check the command template in the configuration file",
		}
	}
	return out, nil
}
