// Copyright the Hayroll authors.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with
// the License. You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
// an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
// specific language governing permissions and limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0
package hayroll

import (
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"
	"golang.org/x/term"
)

// Diagnostics accumulates non-fatal findings raised while recovering macros,
// so a run can finish the rest of its work and still surface everything it
// had to skip or degrade.
type Diagnostics struct {
	entries []string
}

// Warnf logs a finding immediately and records it for the end-of-run report.
func (d *Diagnostics) Warnf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Warn(msg)
	d.entries = append(d.entries, msg)
}

// Len returns the number of findings recorded so far.
func (d *Diagnostics) Len() int {
	return len(d.entries)
}

// Entries returns the recorded findings in the order they were raised.
func (d *Diagnostics) Entries() []string {
	return d.entries
}

// Report writes one line per finding, clipped to the terminal width when
// stdout is a terminal.  Does nothing when there is nothing to report.
func (d *Diagnostics) Report(w io.Writer) {
	if len(d.entries) == 0 {
		return
	}
	//
	width := 80
	if term.IsTerminal(0) {
		if tw, _, err := term.GetSize(0); err == nil && tw > 0 {
			width = tw
		}
	}
	//
	fmt.Fprintf(w, "%d diagnostic(s) raised:\n", len(d.entries))
	for _, entry := range d.entries {
		fmt.Fprintln(w, clipLine(entry, width))
	}
}

// clipLine truncates a line to the given width, marking the cut.
func clipLine(s string, width int) string {
	runes := []rune(s)
	if len(runes) <= width || width < 4 {
		return s
	}
	return string(runes[:width-3]) + "..."
}
