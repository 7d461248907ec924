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
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/hayroll/go-hayroll/pkg/rstree"
)

// MergeVariant reconciles one base/patch conditional pair and plans the
// resulting edits against the base file.  Both sides must already be gated:
// the merge composes cfg choices, it does not invent them.
//
// The placeholder matrix decides the direction.  A concrete patch replaces a
// placeholder base outright; two concrete sides merge by appending the
// patch's gate as a new alternative on the base's chain; in every other
// combination the base already carries everything the patch knows.
// Declaration-shaped pairs are left to the whole-declaration merge, which
// copies missing items wholesale.
//
// It reports whether an edit was planned, so callers can register the
// patch's premise atoms only when the premise actually landed in the base.
func MergeVariant(base, patch *ConditionalMacro, edits *rstree.EditSet, diags *Diagnostics) (bool, error) {
	bTag, pTag := base.Tag(), patch.Tag()
	switch {
	case bTag.IsPlaceholder && !pTag.IsPlaceholder:
		return spliceConcrete(base, patch, edits, diags)
	//
	case !bTag.IsPlaceholder && !pTag.IsPlaceholder:
		// A variant never merges into itself, and a recorded variant never
		// merges twice.
		if bTag.LocBegin == pTag.LocBegin || bTag.HasMergedVariant(pTag.LocBegin) {
			return false, nil
		}
		return appendVariantArm(base, patch, edits, diags)
	//
	default:
		// The patch side is a placeholder; there is nothing to bring over.
		return false, nil
	}
}

// spliceConcrete replaces the base's placeholder region, scaffolding
// included, with the patch's concrete region text.  The copied text carries
// the patch's own tags, so the merged workspace still extracts and cleans
// like any reaped one.
func spliceConcrete(base, patch *ConditionalMacro, edits *rstree.EditSet, diags *Diagnostics) (bool, error) {
	bRegion, err := RawRegion(base.Seed, true)
	if err != nil {
		return false, err
	}
	pRegion, err := RawRegion(patch.Seed, true)
	if err != nil {
		return false, err
	}
	//
	if _, ok := bRegion.(*DeclsRegion); ok {
		// Declarations travel through the whole-declaration merge instead.
		return false, nil
	}
	if !sameRegionShape(bRegion, pRegion) {
		diags.Warnf("conditional %s at %s: base and patch regions disagree in shape; leaving the base as is",
			base.Tag().Name, base.Tag().LocBegin)
		return false, nil
	}
	//
	bStart, bEnd := FlattenToRange(bRegion)
	pStart, pEnd := FlattenToRange(pRegion)
	if edits.Conflicts(bStart, bEnd) {
		diags.Warnf("conditional %s at %s: region already rewritten by an enclosing merge; skipping",
			base.Tag().Name, base.Tag().LocBegin)
		return false, nil
	}
	edits.ReplaceRange(bStart, bEnd, patch.Tag().Tree.TextRange(pStart, pEnd))
	//
	return true, nil
}

// appendVariantArm grafts the patch's gate onto the base.  For expressions
// the patch's cfg chain replaces the terminal else of the base's chain, so
// chains from earlier merges keep composing; for statement runs the patch's
// gated statements land right after the base's span.  The begin tag records
// the patch's identity either way, which is what makes a re-merge a no-op.
func appendVariantArm(base, patch *ConditionalMacro, edits *rstree.EditSet, diags *Diagnostics) (bool, error) {
	switch bSeed := base.Seed.(type) {
	case *ExprSeed:
		pSeed, ok := patch.Seed.(*ExprSeed)
		if !ok {
			diags.Warnf("conditional %s at %s: base and patch regions disagree in shape; leaving the base as is",
				base.Tag().Name, base.Tag().LocBegin)
			return false, nil
		}
		return appendExprArm(base, patch, bSeed, pSeed, edits, diags)
	//
	case *StmtsSeed:
		pSeed, ok := patch.Seed.(*StmtsSeed)
		if !ok {
			diags.Warnf("conditional %s at %s: base and patch regions disagree in shape; leaving the base as is",
				base.Tag().Name, base.Tag().LocBegin)
			return false, nil
		}
		return appendStmtsArm(base, patch, bSeed, pSeed, edits, diags)
	//
	case *DeclsSeed:
		return false, nil
	}
	//
	return false, nil
}

func appendExprArm(base, patch *ConditionalMacro, bSeed, pSeed *ExprSeed, edits *rstree.EditSet, diags *Diagnostics) (bool, error) {
	bChain := gateChain(bSeed)
	pChain := gateChain(pSeed)
	if bChain == nil || pChain == nil {
		diags.Warnf("conditional %s at %s is not gated on both sides; reconstruct both workspaces before merging",
			base.Tag().Name, base.Tag().LocBegin)
		return false, nil
	}
	terminal := terminalElse(bChain)
	if terminal == nil {
		diags.Warnf("conditional %s at %s: gate chain has no terminal alternative; skipping",
			base.Tag().Name, base.Tag().LocBegin)
		return false, nil
	}
	if edits.Conflicts(terminal.StartByte(), terminal.EndByte()) {
		diags.Warnf("conditional %s at %s: region already rewritten by an enclosing merge; skipping",
			base.Tag().Name, base.Tag().LocBegin)
		return false, nil
	}
	//
	edits.Replace(terminal, patch.Tag().Tree.Text(pChain))
	edits.Replace(base.Tag().Literal, base.Tag().WithAppendedMergedVariant(patch.Tag().LocBegin))
	//
	return true, nil
}

func appendStmtsArm(base, patch *ConditionalMacro, bSeed, pSeed *StmtsSeed, edits *rstree.EditSet, diags *Diagnostics) (bool, error) {
	inner, err := InnerRegion(pSeed)
	if err != nil {
		return false, err
	}
	span := inner.(*StmtsRegion)
	if span.IsEmpty() {
		return false, nil
	}
	//
	at := bSeed.EndStmt.EndByte()
	if edits.Conflicts(bSeed.BeginStmt.StartByte(), at) {
		diags.Warnf("conditional %s at %s: region already rewritten by an enclosing merge; skipping",
			base.Tag().Name, base.Tag().LocBegin)
		return false, nil
	}
	pStart, pEnd := FlattenToRange(span)
	indent := lineIndent(base.Tag().Tree.Source(), bSeed.EndStmt.StartByte())
	text := patch.Tag().Tree.TextRange(pStart, pEnd)
	//
	edits.Insert(at, "\n"+indent+text)
	edits.Replace(base.Tag().Literal, base.Tag().WithAppendedMergedVariant(patch.Tag().LocBegin))
	//
	return true, nil
}

// sameRegionShape reports whether two regions carry the same shape of code.
func sameRegionShape(a, b CodeRegion) bool {
	switch a.(type) {
	case *ExprRegion:
		_, ok := b.(*ExprRegion)
		return ok
	case *StmtsRegion:
		_, ok := b.(*StmtsRegion)
		return ok
	case *DeclsRegion:
		_, ok := b.(*DeclsRegion)
		return ok
	}
	return false
}

// gateChain returns the cfg choice the conditional pass left in a gated
// expression guard's live branch, or nil when the guard was never gated.
func gateChain(s *ExprSeed) *sitter.Node {
	then := thenBlock(s.Guard)
	if then == nil {
		return nil
	}
	var inner *sitter.Node
	for _, child := range rstree.NamedChildren(then) {
		if child.Type() == rstree.KindIfExpr {
			inner = child
			break
		}
	}
	if inner == nil {
		return nil
	}
	cond := inner.ChildByFieldName("condition")
	if cond == nil || cond.Type() != rstree.KindMacroInvocation {
		return nil
	}
	if !strings.HasPrefix(s.Tag.Tree.Text(cond), "cfg!") {
		return nil
	}
	return inner
}

// terminalElse walks a gate chain's else-if spine down to its final block.
func terminalElse(chain *sitter.Node) *sitter.Node {
	for {
		alt := elseBranch(chain)
		if alt == nil {
			return nil
		}
		if alt.Type() == rstree.KindIfExpr {
			chain = alt
			continue
		}
		return alt
	}
}
