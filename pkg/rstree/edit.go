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
package rstree

import (
	"fmt"
	"sort"

	sitter "github.com/smacker/go-tree-sitter"
)

// Edit is one planned text mutation: the byte range [Start,End) of the
// snapshot is replaced by Text.  A pure insertion has Start == End; a pure
// deletion has empty Text.
type Edit struct {
	Start uint32
	End   uint32
	Text  string
}

// EditSet collects edits planned against one immutable source snapshot and
// applies them in a single batch.  This is the transaction discipline the
// whole system relies on: every pass plans all of its edits first, against
// positions that stay valid because nothing has moved yet, and only then
// applies them.
type EditSet struct {
	edits []Edit
}

// NewEditSet creates an empty transaction.
func NewEditSet() *EditSet {
	return &EditSet{}
}

// Len returns the number of planned edits.
func (e *EditSet) Len() int {
	return len(e.edits)
}

// Empty reports whether no edits have been planned.
func (e *EditSet) Empty() bool {
	return len(e.edits) == 0
}

// ReplaceRange plans the replacement of a byte range with new text.
func (e *EditSet) ReplaceRange(start, end uint32, text string) {
	if end < start {
		panic(fmt.Sprintf("invalid edit range %d..%d", start, end))
	}
	e.edits = append(e.edits, Edit{Start: start, End: end, Text: text})
}

// Replace plans the replacement of a node's span with new text.
func (e *EditSet) Replace(n *sitter.Node, text string) {
	e.ReplaceRange(n.StartByte(), n.EndByte(), text)
}

// Insert plans the insertion of text at a byte offset.
func (e *EditSet) Insert(at uint32, text string) {
	e.ReplaceRange(at, at, text)
}

// Delete plans the removal of a node's span.
func (e *EditSet) Delete(n *sitter.Node) {
	e.ReplaceRange(n.StartByte(), n.EndByte(), "")
}

// DeleteRange plans the removal of a byte range.
func (e *EditSet) DeleteRange(start, end uint32) {
	e.ReplaceRange(start, end, "")
}

// Conflicts reports whether a proposed range would overlap an already-planned
// non-empty edit.  Callers that may legitimately produce nested regions use
// this to degrade (drop the nested edit and diagnose) instead of tripping the
// overlap panic at apply time.
func (e *EditSet) Conflicts(start, end uint32) bool {
	for _, edit := range e.edits {
		if edit.Start == edit.End && edit.Start <= start {
			// Pure insertions at or before the range never conflict.
			continue
		}
		if start < edit.End && edit.Start < end {
			return true
		}
	}
	//
	return false
}

// Apply splices every planned edit into the snapshot and returns the new
// buffer.  Edits are ordered by start offset, with insertions at the same
// offset kept in plan order.  Overlapping edits are a planning bug and panic.
func (e *EditSet) Apply(src []byte) []byte {
	ordered := make([]Edit, len(e.edits))
	copy(ordered, e.edits)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Start != ordered[j].Start {
			return ordered[i].Start < ordered[j].Start
		}
		return ordered[i].End < ordered[j].End
	})
	// Verify the edits are pairwise disjoint before touching anything.
	for i := 1; i < len(ordered); i++ {
		if ordered[i].Start < ordered[i-1].End {
			panic(fmt.Sprintf(
				"overlapping edits %d..%d and %d..%d",
				ordered[i-1].Start, ordered[i-1].End, ordered[i].Start, ordered[i].End,
			))
		}
	}
	//
	var out []byte
	cursor := uint32(0)
	//
	for _, edit := range ordered {
		if edit.End > uint32(len(src)) {
			panic(fmt.Sprintf("edit %d..%d outside source of %d bytes", edit.Start, edit.End, len(src)))
		}
		out = append(out, src[cursor:edit.Start]...)
		out = append(out, edit.Text...)
		cursor = edit.End
	}
	out = append(out, src[cursor:]...)
	//
	return out
}
