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
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/hayroll/go-hayroll/pkg/hayroll"
	"github.com/hayroll/go-hayroll/pkg/rstree"
	"github.com/hayroll/go-hayroll/pkg/workspace"
)

// Merge folds one reaped variant workspace (the patch) into another (the
// base).  Conditional regions pair up by the source location of their
// directive; each pair is reconciled in place on the base.  Declarations the
// patch compiled in but the base never saw are then copied over wholesale.
// The patch workspace is read, never written; feature atoms from both sides
// end up in the base manifest.
func Merge(base, patch *workspace.Workspace, stripSrcLocs bool, diags *hayroll.Diagnostics) error {
	start := time.Now()
	//
	baseSeeds, err := extractWorkspace(base)
	if err != nil {
		return err
	}
	patchSeeds, err := extractWorkspace(patch)
	if err != nil {
		return err
	}
	//
	baseRefs, baseByRef := conditionalsByRef(base, baseSeeds)
	_, patchByRef := conditionalsByRef(patch, patchSeeds)
	//
	edits := newFileEdits()
	merged := 0
	var premises []string
	for _, ref := range baseRefs {
		bc := baseByRef[ref]
		pc, ok := patchByRef[ref]
		if !ok {
			continue
		}
		changed, err := hayroll.MergeVariant(bc, pc, edits.at(bc.Tag().File), diags)
		if err != nil {
			return err
		}
		if changed {
			merged++
		}
	}
	//
	copied, err := mergeDecls(base, patch, patchSeeds, stripSrcLocs, edits, diags)
	if err != nil {
		return err
	}
	//
	// The manifest carries every atom of the whole build matrix, so a gate
	// spliced in from either side always resolves.
	for _, conds := range [][]*hayroll.ConditionalMacro{allConditionals(base, baseSeeds), allConditionals(patch, patchSeeds)} {
		for _, c := range conds {
			if c.Tag().Premise != "" {
				premises = append(premises, c.Tag().Premise)
			}
		}
	}
	if err := registerFeatures(base, premises); err != nil {
		return err
	}
	//
	if err := edits.commit(base); err != nil {
		return err
	}
	log.Infof("merged %d conditional pair(s) and copied %d declaration(s) in %s", merged, copied, elapsed(start))
	return nil
}

// conditionalsByRef keys each workspace's conditionals by the source location
// of their directive, first instance wins.  The same directive reaches
// several compilation units through an included header; every instance
// records the same decision, so one representative is enough.
func conditionalsByRef(ws *workspace.Workspace, seeds map[string][]hayroll.Seed) ([]string, map[string]*hayroll.ConditionalMacro) {
	var refs []string
	byRef := make(map[string]*hayroll.ConditionalMacro)
	//
	for _, path := range ws.Paths() {
		for _, c := range hayroll.CollectConditionals(seeds[path]) {
			ref := c.Tag().LocRefBegin
			if _, ok := byRef[ref]; ok {
				continue
			}
			byRef[ref] = c
			refs = append(refs, ref)
		}
	}
	//
	return refs, byRef
}

// allConditionals flattens a workspace's conditionals in path order.
func allConditionals(ws *workspace.Workspace, seeds map[string][]hayroll.Seed) []*hayroll.ConditionalMacro {
	var conds []*hayroll.ConditionalMacro
	for _, path := range ws.Paths() {
		conds = append(conds, hayroll.CollectConditionals(seeds[path])...)
	}
	return conds
}

// mergeDecls copies every top-level declaration the patch has and the base
// lacks.  Items match by kind, name and attribute signature, location
// attributes aside; an unnamed item matches by its text.  Functions and
// templates land at the top of the base file, everything else at the bottom,
// and members of an extern block land inside the base's matching block.
func mergeDecls(base, patch *workspace.Workspace, patchSeeds map[string][]hayroll.Seed, stripSrcLocs bool, edits *fileEdits, diags *hayroll.Diagnostics) (int, error) {
	copied := 0
	basePaths := make(map[string]bool)
	for _, path := range base.Paths() {
		basePaths[path] = true
	}
	//
	for _, path := range patch.Paths() {
		if !basePaths[path] {
			diags.Warnf("patch file %s has no counterpart in the base workspace; skipping its declarations", path)
			continue
		}
		//
		baseTree, patchTree := base.Tree(path), patch.Tree(path)
		index := declIndex(baseTree)
		tagItems := tagItemStarts(patchSeeds[path])
		fe := edits.at(path)
		//
		for _, item := range rstree.NamedChildren(patchTree.Root()) {
			switch item.Type() {
			case rstree.KindLineComment, rstree.KindBlockComment,
				rstree.KindAttributeItem, rstree.KindInnerAttribute:
				continue
			}
			if tagItems[item.StartByte()] {
				continue
			}
			//
			if item.Type() == rstree.KindForeignMod {
				copied += mergeForeignMod(baseTree, patchTree, item, stripSrcLocs, fe)
				continue
			}
			//
			if index[declKey(patchTree, item)] {
				continue
			}
			text := copiedItemText(patchTree, item, stripSrcLocs)
			switch item.Type() {
			case rstree.KindFunctionItem, rstree.KindMacroDefinition:
				fe.Insert(rstree.TopInsertionPoint(baseTree), text+"\n\n")
			default:
				fe.Insert(rstree.BottomInsertionPoint(baseTree), "\n"+text+"\n")
			}
			copied++
		}
	}
	//
	return copied, nil
}

// tagItemStarts collects the start offsets of the declaration tag items, so
// the scaffolding never travels with a merge.
func tagItemStarts(seeds []hayroll.Seed) map[uint32]bool {
	starts := make(map[uint32]bool)
	for _, seed := range seeds {
		if s, ok := seed.(*hayroll.DeclsSeed); ok {
			starts[s.TagItem.StartByte()] = true
		}
	}
	return starts
}

// declIndex keys every top-level item of a file.
func declIndex(tree *rstree.Tree) map[string]bool {
	index := make(map[string]bool)
	for _, item := range rstree.NamedChildren(tree.Root()) {
		switch item.Type() {
		case rstree.KindLineComment, rstree.KindBlockComment,
			rstree.KindAttributeItem, rstree.KindInnerAttribute:
			continue
		}
		index[declKey(tree, item)] = true
	}
	return index
}

// declKey renders an item's identity: kind, name, and the sorted attribute
// texts minus location attributes.  Unnamed items fall back to their full
// text, normalized the same way.
func declKey(tree *rstree.Tree, item *sitter.Node) string {
	var sigs []string
	for _, attr := range rstree.PrecedingAttrs(item) {
		if _, ok := hayroll.AttrSrcLoc(tree, attr); ok {
			continue
		}
		sigs = append(sigs, tree.Text(attr))
	}
	sort.Strings(sigs)
	//
	name := item.ChildByFieldName("name")
	if name == nil {
		start, end := rstree.SpanWithAttrs(item)
		return item.Type() + "\x00" + strings.TrimSpace(hayroll.PeelLocationAttrs(tree.TextRange(start, end)))
	}
	return item.Type() + "\x00" + tree.Text(name) + "\x00" + strings.Join(sigs, "\x00")
}

// copiedItemText renders the text an item travels as: attributes included,
// location attributes stripped on request.
func copiedItemText(tree *rstree.Tree, item *sitter.Node, stripSrcLocs bool) string {
	start, end := rstree.SpanWithAttrs(item)
	text := tree.TextRange(start, end)
	if stripSrcLocs {
		text = strings.TrimSpace(hayroll.PeelLocationAttrs(text))
	}
	return text
}

// mergeForeignMod copies the members of a patch extern block into the base's
// block with the same ABI, or copies the whole block when the base has none.
func mergeForeignMod(baseTree, patchTree *rstree.Tree, patchMod *sitter.Node, stripSrcLocs bool, fe *rstree.EditSet) int {
	patchList := rstree.FirstDescendant(patchMod, rstree.KindDeclarationList)
	if patchList == nil {
		return 0
	}
	abi := externABI(patchTree, patchMod, patchList)
	//
	var baseMod, baseList *sitter.Node
	for _, item := range rstree.NamedChildren(baseTree.Root()) {
		if item.Type() != rstree.KindForeignMod {
			continue
		}
		list := rstree.FirstDescendant(item, rstree.KindDeclarationList)
		if list != nil && externABI(baseTree, item, list) == abi {
			baseMod, baseList = item, list
			break
		}
	}
	//
	if baseMod == nil {
		fe.Insert(rstree.BottomInsertionPoint(baseTree), "\n"+copiedItemText(patchTree, patchMod, stripSrcLocs)+"\n")
		return 1
	}
	//
	known := make(map[string]bool)
	for _, member := range rstree.NamedChildren(baseList) {
		known[declKey(baseTree, member)] = true
	}
	//
	copied := 0
	at := baseList.EndByte() - 1
	src := baseTree.Source()
	for _, member := range rstree.NamedChildren(patchList) {
		switch member.Type() {
		case rstree.KindLineComment, rstree.KindBlockComment, rstree.KindAttributeItem:
			continue
		}
		if known[declKey(patchTree, member)] {
			continue
		}
		text := "    " + copiedItemText(patchTree, member, stripSrcLocs) + "\n"
		if at > 0 && src[at-1] != '\n' {
			text = "\n" + text
		}
		fe.Insert(at, text)
		copied++
	}
	//
	return copied
}

// externABI renders the introducer of an extern block, `extern "C"` for the
// usual case.
func externABI(tree *rstree.Tree, mod, list *sitter.Node) string {
	return strings.TrimSpace(tree.TextRange(mod.StartByte(), list.StartByte()))
}
