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
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/hayroll/go-hayroll/pkg/hayroll"
	"github.com/hayroll/go-hayroll/pkg/rstree"
	"github.com/hayroll/go-hayroll/pkg/workspace"
)

// Reap recovers macro structure across the workspace: it repairs
// instrumentation torn by early returns, rebuilds one callable or template
// per invocation cluster, gates conditional regions on their premises, and
// finally strips the remaining scaffolding.  With keepTags the cleanup is
// skipped, leaving the tags in place for a later variant merge; the merged
// result is cleaned once at the end instead.
func Reap(ws *workspace.Workspace, keepTags bool, diags *hayroll.Diagnostics) error {
	if err := repairPass(ws); err != nil {
		return err
	}
	if err := invocationPass(ws, diags); err != nil {
		return err
	}
	premises, err := conditionalPass(ws)
	if err != nil {
		return err
	}
	if !keepTags {
		if err := Clean(ws); err != nil {
			return err
		}
	}
	return registerFeatures(ws, premises)
}

// repairPass closes every begin marker whose end marker was lost to an early
// return: the translator hoists returns out of the instrumented run, so the
// lost marker is re-inserted right after the first return that follows the
// begin.  A begin with no such return is a real defect and aborts the run.
func repairPass(ws *workspace.Workspace) error {
	start := time.Now()
	repaired := 0
	//
	for _, path := range ws.Paths() {
		tree := ws.Tree(path)
		_, open, err := hayroll.ExtractFile(tree, path)
		if err != nil {
			return err
		}
		if len(open) == 0 {
			continue
		}
		//
		edits := rstree.NewEditSet()
		// Innermost spans close first: open seeds arrive in begin order, and
		// same-position insertions apply in plan order.
		for i := len(open) - 1; i >= 0; i-- {
			seed := open[i]
			ret := returnAfter(seed.BeginStmt)
			if ret == nil {
				return fmt.Errorf("%w: %s at %s has no end marker and no return to anchor one",
					hayroll.ErrUnmatchedBeginTag, seed.TagBegin.LocBegin, path)
			}
			indent := lineIndentAt(tree.Source(), ret.StartByte())
			edits.Insert(ret.EndByte(), "\n"+indent+seed.SyntheticEndMarkerText())
			repaired++
		}
		if err := ws.Commit(path, edits); err != nil {
			return err
		}
	}
	//
	if repaired > 0 {
		log.Infof("repaired %d torn statement region(s) in %s", repaired, elapsed(start))
	}
	return nil
}

// returnAfter finds the first return statement among the given statement's
// following siblings.
func returnAfter(stmt *sitter.Node) *sitter.Node {
	for n := stmt.NextNamedSibling(); n != nil; n = n.NextNamedSibling() {
		switch n.Type() {
		case rstree.KindReturnExpr:
			return n
		case rstree.KindExprStmt:
			if inner := n.NamedChild(0); inner != nil && inner.Type() == rstree.KindReturnExpr {
				return n
			}
		}
	}
	return nil
}

// invocationPass clusters the invocation seeds, synthesizes one construct per
// cluster, and rewrites every call site.  A cluster whose call sites cannot
// agree on a construct is reported and left instrumented; the cleanup pass
// later reduces its sites to plain live code.
func invocationPass(ws *workspace.Workspace, diags *hayroll.Diagnostics) error {
	start := time.Now()
	//
	seedsByFile, err := extractWorkspace(ws)
	if err != nil {
		return err
	}
	var all []hayroll.Seed
	for _, path := range ws.Paths() {
		all = append(all, seedsByFile[path]...)
	}
	//
	invs, err := hayroll.ExtractInvocations(all)
	if err != nil {
		return err
	}
	db, err := hayroll.BuildMacroDB(invs)
	if err != nil {
		return err
	}
	//
	edits := newFileEdits()
	fns, templates := 0, 0
	for _, key := range db.Keys() {
		cluster := db.Cluster(key)
		//
		canBeFn, err := cluster.CanBeFn()
		if err != nil {
			return err
		}
		if canBeFn {
			if err := reapAsFn(ws, cluster, edits, diags); err != nil {
				return err
			}
			fns++
			continue
		}
		//
		structural, err := cluster.StructurallyCompatible()
		if err != nil {
			return err
		}
		if !structural {
			diags.Warnf("macro %s cannot be converted: incompatible argument usage; leaving its call sites instrumented",
				cluster.First().Name())
			continue
		}
		if err := reapAsMacroRules(ws, cluster, edits, diags); err != nil {
			return err
		}
		templates++
	}
	//
	if err := edits.commit(ws); err != nil {
		return err
	}
	log.Infof("recovered %d function(s) and %d template(s) from %d cluster(s) in %s",
		fns, templates, db.Len(), elapsed(start))
	return nil
}

// reapAsFn plans one function definition plus a call per site.
func reapAsFn(ws *workspace.Workspace, cluster *hayroll.MacroCluster, edits *fileEdits, diags *hayroll.Diagnostics) error {
	def, err := hayroll.FnDef(cluster, diags)
	if err != nil {
		return err
	}
	declFile := cluster.DeclFile()
	edits.at(declFile).Insert(rstree.BottomInsertionPoint(ws.Tree(declFile)), "\n"+def+"\n")
	//
	requires := cluster.ArgsRequireLvalue()
	for _, inv := range cluster.Invocations {
		call, err := hayroll.CallExprText(inv, requires, diags)
		if err != nil {
			return err
		}
		if err := replaceCallSite(inv, call, edits, diags); err != nil {
			return err
		}
	}
	return nil
}

// reapAsMacroRules plans one template definition plus an invocation per site.
// The definition goes to the top of the declaring file, where a textual
// template is in scope for the whole file.
func reapAsMacroRules(ws *workspace.Workspace, cluster *hayroll.MacroCluster, edits *fileEdits, diags *hayroll.Diagnostics) error {
	def, err := hayroll.MacroRulesDef(cluster, diags)
	if err != nil {
		return err
	}
	declFile := cluster.DeclFile()
	edits.at(declFile).Insert(rstree.TopInsertionPoint(ws.Tree(declFile)), def+"\n\n")
	//
	for _, inv := range cluster.Invocations {
		call, err := hayroll.MacroCallText(inv, diags)
		if err != nil {
			return err
		}
		if seed, ok := inv.Seed.(*hayroll.DeclsSeed); ok {
			if err := replaceDeclsSite(ws, inv, seed, call, edits, diags); err != nil {
				return err
			}
			continue
		}
		if err := replaceCallSite(inv, call, edits, diags); err != nil {
			return err
		}
	}
	return nil
}

// replaceCallSite swaps one instrumented region for its call text.  A site
// already covered by an enclosing rewrite is reported and left alone.
func replaceCallSite(inv *hayroll.MacroInv, call string, edits *fileEdits, diags *hayroll.Diagnostics) error {
	region, err := hayroll.RawRegion(inv.Seed, true)
	if err != nil {
		return err
	}
	start, end := hayroll.FlattenToRange(region)
	//
	fe := edits.at(inv.Tag().File)
	if fe.Conflicts(start, end) {
		diags.Warnf("macro %s at %s: call site overlaps an already planned rewrite; leaving it instrumented",
			inv.Name(), inv.Tag().LocBegin)
		return nil
	}
	fe.ReplaceRange(start, end, call)
	return nil
}

// replaceDeclsSite deletes the expanded declarations and their tag item, then
// re-declares them through one template invocation at the bottom of the same
// file.  A site whose items overlap an already planned rewrite is reported
// and left alone in full.
func replaceDeclsSite(ws *workspace.Workspace, inv *hayroll.MacroInv, seed *hayroll.DeclsSeed, call string, edits *fileEdits, diags *hayroll.Diagnostics) error {
	region, err := hayroll.RawRegion(seed, true)
	if err != nil {
		return err
	}
	//
	file := inv.Tag().File
	tree := ws.Tree(file)
	fe := edits.at(file)
	//
	spans := make([][2]uint32, 0, len(region.(*hayroll.DeclsRegion).Items)+1)
	for _, item := range region.(*hayroll.DeclsRegion).Items {
		start, end := rstree.SpanWithAttrs(item)
		spans = append(spans, [2]uint32{start, end})
	}
	start, end := rstree.SpanWithAttrs(seed.TagItem)
	spans = append(spans, [2]uint32{start, end})
	for _, span := range spans {
		if fe.Conflicts(span[0], span[1]) {
			diags.Warnf("macro %s at %s: declarations overlap an already planned rewrite; leaving them in place",
				inv.Name(), inv.Tag().LocBegin)
			return nil
		}
	}
	//
	for _, span := range spans {
		deleteSpanLines(tree, fe, span[0], span[1])
	}
	fe.Insert(rstree.BottomInsertionPoint(tree), "\n"+call+"\n")
	return nil
}

// conditionalPass gates every conditional region on its premise.  Gating
// copies branch text out of the current snapshot, so conditionals nested
// inside a pending guard wait for the next round; each round re-extracts from
// the committed result of the last.  Returns the premises that were gated.
func conditionalPass(ws *workspace.Workspace) ([]string, error) {
	start := time.Now()
	var premises []string
	gated := 0
	//
	for _, path := range ws.Paths() {
		// Gating keeps every tag literal in place, so an instance keeps its
		// ordinal among same-location instances across rounds.
		processed := make(map[string]bool)
		for {
			seeds, open, err := hayroll.ExtractFile(ws.Tree(path), path)
			if err != nil {
				return nil, err
			}
			if err := hayroll.RequireAllClosed(path, open); err != nil {
				return nil, err
			}
			//
			var pending []*hayroll.ConditionalMacro
			ordinals := make(map[string]int)
			keys := make(map[*hayroll.ConditionalMacro]string)
			for _, c := range hayroll.CollectConditionals(seeds) {
				loc := c.Tag().LocBegin
				key := fmt.Sprintf("%s#%d", loc, ordinals[loc])
				ordinals[loc]++
				if !processed[key] {
					pending = append(pending, c)
					keys[c] = key
				}
			}
			if len(pending) == 0 {
				break
			}
			//
			edits := rstree.NewEditSet()
			progressed := false
			for _, c := range pending {
				if c.Deferred(pending) {
					continue
				}
				before := edits.Len()
				if err := c.AttachCfg(edits); err != nil {
					return nil, err
				}
				processed[keys[c]] = true
				progressed = true
				if edits.Len() > before {
					premises = append(premises, c.Tag().Premise)
					gated++
				}
			}
			if !progressed {
				panic("conditional gating stalled")
			}
			if edits.Empty() {
				continue
			}
			if err := ws.Commit(path, edits); err != nil {
				return nil, err
			}
		}
	}
	//
	if gated > 0 {
		log.Infof("gated %d conditional region(s) in %s", gated, elapsed(start))
	}
	return premises, nil
}
