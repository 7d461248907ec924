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
	"regexp"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/hayroll/go-hayroll/pkg/hayroll"
	"github.com/hayroll/go-hayroll/pkg/rstree"
	"github.com/hayroll/go-hayroll/pkg/workspace"
)

// template is one single-rule macro_rules definition reduced to its textual
// shape: parameter names in pattern order and the body text between the rule's
// outer delimiters.
type template struct {
	name   string
	params []string
	body   string
}

// Inline expands every invocation of a workspace-defined template back into
// its body, substituting the call's operands for the parameters.  The
// expansion is textual, exactly inverse to how the templates were synthesized;
// invocations of macros defined elsewhere are left alone.  One run expands
// one level of calls, which is a fixpoint for the templates the recovery
// passes generate.
func Inline(ws *workspace.Workspace, diags *hayroll.Diagnostics) error {
	start := time.Now()
	templates := collectTemplates(ws, diags)
	if len(templates) == 0 {
		log.Info("no single-rule templates to inline")
		return nil
	}
	//
	expanded := 0
	for _, path := range ws.Paths() {
		tree := ws.Tree(path)
		edits := rstree.NewEditSet()
		inlineInvocations(tree, tree.Root(), templates, edits, diags)
		if edits.Empty() {
			continue
		}
		expanded += edits.Len()
		if err := ws.Commit(path, edits); err != nil {
			return err
		}
	}
	//
	log.Infof("inlined %d template call(s) across %d template(s) in %s", expanded, len(templates), elapsed(start))
	return nil
}

var templateParamPattern = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)\s*:\s*[a-z_]+`)

// collectTemplates gathers the workspace's single-rule macro definitions.
func collectTemplates(ws *workspace.Workspace, diags *hayroll.Diagnostics) map[string]*template {
	templates := make(map[string]*template)
	//
	for _, path := range ws.Paths() {
		tree := ws.Tree(path)
		rstree.Visit(tree.Root(), func(n *sitter.Node) bool {
			if n.Type() != rstree.KindMacroDefinition {
				return true
			}
			nameNode := n.ChildByFieldName("name")
			if nameNode == nil {
				return false
			}
			name := tree.Text(nameNode)
			//
			var rules []*sitter.Node
			for _, child := range rstree.NamedChildren(n) {
				if child.Type() == rstree.KindMacroRule {
					rules = append(rules, child)
				}
			}
			if len(rules) != 1 {
				diags.Warnf("macro %s has %d rules; only single-rule templates inline", name, len(rules))
				return false
			}
			//
			pattern := rules[0].ChildByFieldName("left")
			body := rules[0].ChildByFieldName("right")
			if pattern == nil || body == nil {
				return false
			}
			var params []string
			for _, m := range templateParamPattern.FindAllStringSubmatch(tree.Text(pattern), -1) {
				params = append(params, m[1])
			}
			templates[name] = &template{
				name:   name,
				params: params,
				body:   strings.TrimSpace(innerText(tree.Text(body))),
			}
			return false
		})
	}
	//
	return templates
}

// inlineInvocations plans one expansion per known call, outermost first.
// Calls inside a definition body stay as written; operands of a call are
// expanded as plain text, not revisited, so nested known calls take another
// run.
func inlineInvocations(tree *rstree.Tree, root *sitter.Node, templates map[string]*template, edits *rstree.EditSet, diags *hayroll.Diagnostics) {
	rstree.Visit(root, func(n *sitter.Node) bool {
		if n.Type() == rstree.KindMacroDefinition {
			return false
		}
		if n.Type() != rstree.KindMacroInvocation {
			return true
		}
		//
		nameNode := n.ChildByFieldName("macro")
		if nameNode == nil {
			return true
		}
		tmpl, ok := templates[tree.Text(nameNode)]
		if !ok {
			return true
		}
		//
		tt := rstree.FirstDescendant(n, rstree.KindTokenTree)
		if tt == nil {
			return true
		}
		args := splitMacroArgs(innerText(tree.Text(tt)))
		if len(args) != len(tmpl.params) {
			diags.Warnf("call of %s! passes %d operand(s), template takes %d; leaving it as is",
				tmpl.name, len(args), len(tmpl.params))
			return false
		}
		//
		body := substituteParams(tmpl.body, tmpl.params, args)
		// A body of whole statements absorbs the call's own semicolon; an
		// expression body slots in and leaves the semicolon where it was.
		parent := n.Parent()
		stmtBody := strings.HasSuffix(body, ";") || strings.HasSuffix(body, "}")
		if stmtBody && parent != nil && parent.Type() == rstree.KindExprStmt && rstree.SameNode(parent.NamedChild(0), n) {
			edits.Replace(parent, body)
		} else {
			edits.Replace(n, body)
		}
		return false
	})
}

// innerText strips one layer of delimiters from a token tree's text.
func innerText(text string) string {
	if len(text) < 2 {
		return text
	}
	return text[1 : len(text)-1]
}

// splitMacroArgs splits a call's operand text on top-level commas, honouring
// nested brackets and string, character and byte literals.
func splitMacroArgs(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	//
	var args []string
	depth := 0
	last := 0
	for i := 0; i < len(text); i++ {
		switch c := text[i]; c {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case '"', '\'':
			i = skipLiteral(text, i)
		case ',':
			if depth == 0 {
				args = append(args, strings.TrimSpace(text[last:i]))
				last = i + 1
			}
		}
	}
	args = append(args, strings.TrimSpace(text[last:]))
	//
	return args
}

// skipLiteral returns the index of the closing quote of the literal opening
// at i, or the last index when the literal never closes.
func skipLiteral(text string, i int) int {
	quote := text[i]
	for j := i + 1; j < len(text); j++ {
		switch text[j] {
		case '\\':
			j++
		case quote:
			return j
		}
	}
	return len(text) - 1
}

var paramRefPattern = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)

// substituteParams swaps each parameter reference in the body for its
// operand text.
func substituteParams(body string, params, args []string) string {
	byName := make(map[string]string, len(params))
	for i, p := range params {
		byName[p] = args[i]
	}
	//
	return paramRefPattern.ReplaceAllStringFunc(body, func(ref string) string {
		if arg, ok := byName[ref[1:]]; ok {
			return arg
		}
		return ref
	})
}
