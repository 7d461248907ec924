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

// Package pipeline drives the macro-recovery passes over a translated
// workspace.  Every pass follows the same discipline: extract seeds from the
// current parse, plan all edits for a file against that one snapshot, commit
// the file, and let the next pass re-extract from the committed result.  A
// structural defect in the instrumentation aborts the run; a macro the
// passes cannot reconstruct is reported and left behind in its instrumented
// form, which still builds.
package pipeline

import (
	"errors"
	"regexp"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/hayroll/go-hayroll/pkg/hayroll"
	"github.com/hayroll/go-hayroll/pkg/rstree"
	"github.com/hayroll/go-hayroll/pkg/workspace"
)

// extractWorkspace decodes every file's seeds, treating any unmatched begin
// marker as fatal.  File failures are independent, so they are joined rather
// than reported one at a time.
func extractWorkspace(ws *workspace.Workspace) (map[string][]hayroll.Seed, error) {
	seeds := make(map[string][]hayroll.Seed)
	var errs []error
	//
	for _, path := range ws.Paths() {
		fileSeeds, open, err := hayroll.ExtractFile(ws.Tree(path), path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := hayroll.RequireAllClosed(path, open); err != nil {
			errs = append(errs, err)
			continue
		}
		seeds[path] = fileSeeds
	}
	//
	return seeds, errors.Join(errs...)
}

// fileEdits lazily allocates one transaction per touched file, so a pass can
// plan across the whole workspace and still commit file by file.
type fileEdits struct {
	planned map[string]*rstree.EditSet
}

func newFileEdits() *fileEdits {
	return &fileEdits{planned: make(map[string]*rstree.EditSet)}
}

func (f *fileEdits) at(path string) *rstree.EditSet {
	edits, ok := f.planned[path]
	if !ok {
		edits = rstree.NewEditSet()
		f.planned[path] = edits
	}
	return edits
}

// commit applies every planned transaction in workspace path order.
func (f *fileEdits) commit(ws *workspace.Workspace) error {
	for _, path := range ws.Paths() {
		if edits, ok := f.planned[path]; ok {
			if err := ws.Commit(path, edits); err != nil {
				return err
			}
		}
	}
	return nil
}

// deleteSpanLines plans the removal of a byte range widened to whole lines
// when the range sits alone on them: leading indentation and the trailing
// newline go with it, so deleting a statement or item does not leave a blank
// line behind.
func deleteSpanLines(tree *rstree.Tree, edits *rstree.EditSet, start, end uint32) {
	src := tree.Source()
	//
	lineStart := start
	for lineStart > 0 && (src[lineStart-1] == ' ' || src[lineStart-1] == '\t') {
		lineStart--
	}
	aloneLeft := lineStart == 0 || src[lineStart-1] == '\n'
	//
	lineEnd := end
	for lineEnd < uint32(len(src)) && (src[lineEnd] == ' ' || src[lineEnd] == '\t') {
		lineEnd++
	}
	aloneRight := lineEnd >= uint32(len(src)) || src[lineEnd] == '\n'
	//
	if !aloneLeft || !aloneRight {
		edits.DeleteRange(start, end)
		return
	}
	if lineEnd < uint32(len(src)) {
		lineEnd++
	}
	edits.DeleteRange(lineStart, lineEnd)
}

// lineIndentAt returns the whitespace prefix of the line containing the
// offset.
func lineIndentAt(src []byte, at uint32) string {
	lineStart := at
	for lineStart > 0 && src[lineStart-1] != '\n' {
		lineStart--
	}
	end := lineStart
	for end < uint32(len(src)) && (src[end] == ' ' || src[end] == '\t') {
		end++
	}
	return string(src[lineStart:end])
}

var featureAtomPattern = regexp.MustCompile(`feature\s*=\s*"([^"]+)"`)

// featureAtoms collects the distinct feature names a set of premises refers
// to, in first-appearance order.
func featureAtoms(premises []string) []string {
	var atoms []string
	seen := make(map[string]bool)
	//
	for _, premise := range premises {
		for _, m := range featureAtomPattern.FindAllStringSubmatch(premise, -1) {
			if !seen[m[1]] {
				seen[m[1]] = true
				atoms = append(atoms, m[1])
			}
		}
	}
	//
	return atoms
}

// registerFeatures declares every feature atom the gated premises mention in
// the workspace manifest, so the reconstructed cfg gates resolve.
func registerFeatures(ws *workspace.Workspace, premises []string) error {
	atoms := featureAtoms(premises)
	changed, err := ws.EnsureFeatures(atoms)
	if err != nil {
		return err
	}
	if changed {
		log.Infof("registered %d cfg feature(s) in %s", len(atoms), ws.ManifestPath())
	}
	return nil
}

func elapsed(start time.Time) time.Duration {
	return time.Since(start).Round(time.Millisecond)
}
