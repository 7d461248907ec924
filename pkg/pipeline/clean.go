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
package pipeline

import (
	"time"

	log "github.com/sirupsen/logrus"
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/hayroll/go-hayroll/pkg/hayroll"
	"github.com/hayroll/go-hayroll/pkg/rstree"
	"github.com/hayroll/go-hayroll/pkg/workspace"
)

// Clean strips every piece of scaffolding still in the workspace: expression
// guards are peeled down to their live branch, statement markers and
// declaration tag items are deleted, and the translator's location attributes
// go with them.  Whatever structure the earlier passes could not recover is
// thereby reduced to plain live code.
func Clean(ws *workspace.Workspace) error {
	start := time.Now()
	peeled := 0
	//
	for _, path := range ws.Paths() {
		n, err := peelExprSeeds(ws, path)
		if err != nil {
			return err
		}
		peeled += n
		if err := sweepFile(ws, path); err != nil {
			return err
		}
	}
	//
	log.Infof("peeled %d expression guard(s) and swept scaffolding in %s", peeled, elapsed(start))
	return nil
}

// peelExprSeeds collapses every expression guard in the file to its live
// branch.  Peeling copies branch text out of the current snapshot, so a guard
// enclosing another pending guard waits for the next round; rounds repeat
// until no expression seed is left.
func peelExprSeeds(ws *workspace.Workspace, path string) (int, error) {
	peeled := 0
	for {
		seeds, open, err := hayroll.ExtractFile(ws.Tree(path), path)
		if err != nil {
			return peeled, err
		}
		if err := hayroll.RequireAllClosed(path, open); err != nil {
			return peeled, err
		}
		//
		type site struct {
			start, end uint32
			text       string
		}
		var sites []site
		for _, seed := range seeds {
			if _, ok := seed.(*hayroll.ExprSeed); !ok {
				continue
			}
			region, err := hayroll.RawRegion(seed, true)
			if err != nil {
				return peeled, err
			}
			s, e := hayroll.FlattenToRange(region)
			text, err := hayroll.PeelTag(region)
			if err != nil {
				return peeled, err
			}
			sites = append(sites, site{start: s, end: e, text: text})
		}
		if len(sites) == 0 {
			return peeled, nil
		}
		//
		// Innermost first: a guard enclosing another is deferred, so its
		// branch text is copied only after the inner guard has been peeled.
		edits := rstree.NewEditSet()
		for i, st := range sites {
			enclosing := false
			for j, other := range sites {
				if i != j && st.start <= other.start && other.end <= st.end {
					enclosing = true
					break
				}
			}
			if enclosing {
				continue
			}
			edits.ReplaceRange(st.start, st.end, st.text)
			peeled++
		}
		if edits.Empty() {
			panic("expression peeling stalled")
		}
		if err := ws.Commit(path, edits); err != nil {
			return peeled, err
		}
	}
}

// sweepFile deletes the statement markers, the declaration tag items, and
// every location attribute left in the file.
func sweepFile(ws *workspace.Workspace, path string) error {
	tree := ws.Tree(path)
	seeds, open, err := hayroll.ExtractFile(tree, path)
	if err != nil {
		return err
	}
	if err := hayroll.RequireAllClosed(path, open); err != nil {
		return err
	}
	//
	edits := rstree.NewEditSet()
	for _, seed := range seeds {
		switch s := seed.(type) {
		case *hayroll.StmtsSeed:
			deleteSpanLines(tree, edits, s.BeginStmt.StartByte(), s.BeginStmt.EndByte())
			deleteSpanLines(tree, edits, s.EndStmt.StartByte(), s.EndStmt.EndByte())
		case *hayroll.DeclsSeed:
			start, end := rstree.SpanWithAttrs(s.TagItem)
			deleteSpanLines(tree, edits, start, end)
		}
	}
	//
	// A location attribute on a deleted tag item is already inside a planned
	// deletion; all the others go one by one.
	rstree.Visit(tree.Root(), func(n *sitter.Node) bool {
		if n.Type() != rstree.KindAttributeItem {
			return true
		}
		if _, ok := hayroll.AttrSrcLoc(tree, n); ok && !edits.Conflicts(n.StartByte(), n.EndByte()) {
			deleteSpanLines(tree, edits, n.StartByte(), n.EndByte())
		}
		return false
	})
	//
	if edits.Empty() {
		return nil
	}
	return ws.Commit(path, edits)
}
