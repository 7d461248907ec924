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
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/hayroll/go-hayroll/pkg/rstree"
)

// ErrMalformedTag indicates a byte-string literal which identifies itself as a
// seed tag but whose payload cannot be decoded into a usable Tag.
var ErrMalformedTag = errors.New("malformed seed tag")

// SeedType distinguishes the two families of seed a tag can open.
type SeedType string

const (
	// SeedInvocation marks the expansion of a function-like or object-like macro.
	SeedInvocation SeedType = "invocation"
	// SeedConditional marks the live branch of a preprocessor conditional.
	SeedConditional SeedType = "conditional"
)

// ASTKind names the syntactic shape of the code region a seed covers.
type ASTKind string

const (
	KindExpr  ASTKind = "Expr"
	KindStmt  ASTKind = "Stmt"
	KindStmts ASTKind = "Stmts"
	KindDecl  ASTKind = "Decl"
	KindDecls ASTKind = "Decls"
)

// IsStmtLike reports whether the kind covers statement positions.
func (k ASTKind) IsStmtLike() bool {
	return k == KindStmt || k == KindStmts
}

// IsDeclLike reports whether the kind covers item positions.
func (k ASTKind) IsDeclLike() bool {
	return k == KindDecl || k == KindDecls
}

// Tag is one decoded seed-tag literal.  It pairs the literal node in its
// hosting tree with the JSON payload the literal carries.  The raw payload map
// is retained alongside the typed fields so that a tag can be re-serialised
// without losing fields this tool does not interpret.
type Tag struct {
	// Tree is the parse of the file the literal lives in.
	Tree *rstree.Tree
	// File is the path of that file, relative to the workspace root.
	File string
	// Literal is the string_literal node holding the payload.
	Literal *sitter.Node
	// payload is the decoded JSON object, kept verbatim for re-serialisation.
	payload map[string]any
	//
	SeedType      SeedType
	ASTKind       ASTKind
	Begin         bool
	Name          string
	ArgNames      []string
	IsArg         bool
	IsLvalue      bool
	CanBeFn       bool
	IsPlaceholder bool
	LocBegin      string
	LocEnd        string
	LocRefBegin   string
	CuLnColBegin  string
	CuLnColEnd    string
	Premise       string
	//
	MergedVariants []string
}

// ParseTag inspects a string_literal node and decodes it into a Tag.  A
// literal which is not a byte string, or whose contents do not parse as a JSON
// object claiming "hayroll": true, is not a tag and yields (nil, nil).  A
// literal which does claim to be a tag but cannot be decoded is an error.
func ParseTag(tree *rstree.Tree, file string, lit *sitter.Node) (*Tag, error) {
	raw := tree.Text(lit)
	if !strings.HasPrefix(raw, "b\"") {
		return nil, nil
	}
	//
	decoded, err := decodeByteString(raw)
	if err != nil {
		// A corrupted literal that still mentions the discriminator deserves a
		// loud failure; anything else is just a byte string we do not own.
		if strings.Contains(raw, "hayroll") {
			return nil, fmt.Errorf("%w: %s at %s: %v", ErrMalformedTag, clip(raw), file, err)
		}
		return nil, nil
	}
	decoded = strings.TrimSuffix(decoded, "\x00")
	//
	var payload map[string]any
	if err := json.Unmarshal([]byte(decoded), &payload); err != nil {
		if strings.Contains(decoded, "hayroll") {
			return nil, fmt.Errorf("%w: %s at %s: %v", ErrMalformedTag, clip(raw), file, err)
		}
		return nil, nil
	}
	if marker, ok := payload["hayroll"].(bool); !ok || !marker {
		return nil, nil
	}
	//
	return newTag(tree, file, lit, payload)
}

// newTag populates the typed fields of a Tag from its payload map, applying
// the documented defaults for optional fields and rejecting tags whose
// required fields are missing or mistyped.
func newTag(tree *rstree.Tree, file string, lit *sitter.Node, payload map[string]any) (*Tag, error) {
	tag := &Tag{Tree: tree, File: file, Literal: lit, payload: payload}
	fail := func(field string, err error) (*Tag, error) {
		return nil, fmt.Errorf("%w: field %q at %s: %v", ErrMalformedTag, field, file, err)
	}
	//
	var err error
	if tag.Name, err = requiredString(payload, "name"); err != nil {
		return fail("name", err)
	}
	if tag.LocBegin, err = requiredString(payload, "locBegin"); err != nil {
		return fail("locBegin", err)
	}
	if tag.LocRefBegin, err = requiredString(payload, "locRefBegin"); err != nil {
		return fail("locRefBegin", err)
	}
	if tag.Begin, err = requiredBool(payload, "begin"); err != nil {
		return fail("begin", err)
	}
	if tag.IsArg, err = requiredBool(payload, "isArg"); err != nil {
		return fail("isArg", err)
	}
	//
	seedType, err := requiredString(payload, "seedType")
	if err != nil {
		return fail("seedType", err)
	}
	tag.SeedType = SeedType(seedType)
	if tag.SeedType != SeedInvocation && tag.SeedType != SeedConditional {
		return fail("seedType", fmt.Errorf("unknown value %q", seedType))
	}
	astKind, err := requiredString(payload, "astKind")
	if err != nil {
		return fail("astKind", err)
	}
	tag.ASTKind = ASTKind(astKind)
	switch tag.ASTKind {
	case KindExpr, KindStmt, KindStmts, KindDecl, KindDecls:
	case "":
		// End markers may leave the kind blank; seed folding routes them by
		// their begin flag alone.
	default:
		return fail("astKind", fmt.Errorf("unknown value %q", astKind))
	}
	//
	tag.LocEnd = optionalString(payload, "locEnd")
	tag.CuLnColBegin = optionalString(payload, "cuLnColBegin")
	tag.CuLnColEnd = optionalString(payload, "cuLnColEnd")
	tag.Premise = optionalString(payload, "premise")
	tag.IsLvalue = optionalBool(payload, "isLvalue")
	tag.CanBeFn = optionalBool(payload, "canBeFn")
	tag.IsPlaceholder = optionalBool(payload, "isPlaceholder")
	if tag.ArgNames, err = optionalStrings(payload, "argNames"); err != nil {
		return fail("argNames", err)
	}
	if tag.MergedVariants, err = optionalStrings(payload, "mergedVariants"); err != nil {
		return fail("mergedVariants", err)
	}
	//
	return tag, nil
}

// StartByte returns the offset of the literal within its file.
func (t *Tag) StartByte() uint32 {
	return t.Literal.StartByte()
}

// EndByte returns the end offset of the literal within its file.
func (t *Tag) EndByte() uint32 {
	return t.Literal.EndByte()
}

// HasMergedVariant reports whether the given variant id has already been
// folded into this tag by an earlier merge.
func (t *Tag) HasMergedVariant(id string) bool {
	for _, v := range t.MergedVariants {
		if v == id {
			return true
		}
	}
	return false
}

// WithUpdatedBegin renders the literal text of this tag with its begin flag
// replaced, leaving every other payload field intact.
func (t *Tag) WithUpdatedBegin(begin bool) string {
	payload := clonePayload(t.payload)
	payload["begin"] = begin
	return encodeTagLiteral(payload)
}

// WithAppendedMergedVariant renders the literal text of this tag with the
// given variant id recorded in its mergedVariants list.
func (t *Tag) WithAppendedMergedVariant(id string) string {
	payload := clonePayload(t.payload)
	variants, _ := payload["mergedVariants"].([]any)
	payload["mergedVariants"] = append(variants, id)
	return encodeTagLiteral(payload)
}

func clonePayload(payload map[string]any) map[string]any {
	clone := make(map[string]any, len(payload))
	for k, v := range payload {
		clone[k] = v
	}
	return clone
}

// encodeTagLiteral renders a payload map back into Rust byte-string literal
// text, NUL terminator included.  Keys serialise in sorted order, so encoding
// the unchanged payload of a parsed tag is stable.
func encodeTagLiteral(payload map[string]any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		panic(fmt.Sprintf("unencodable tag payload: %v", err))
	}
	text := strings.TrimSuffix(buf.String(), "\n")
	return encodeByteString(text + "\x00")
}

// decodeByteString decodes the contents of a Rust byte-string literal,
// resolving the escape forms byte strings admit.
func decodeByteString(raw string) (string, error) {
	body, ok := strings.CutPrefix(raw, "b\"")
	if !ok {
		return "", fmt.Errorf("not a byte-string literal")
	}
	body, ok = strings.CutSuffix(body, "\"")
	if !ok {
		return "", fmt.Errorf("unterminated byte-string literal")
	}
	//
	var out []byte
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c != '\\' {
			out = append(out, c)
			continue
		}
		i++
		if i >= len(body) {
			return "", fmt.Errorf("dangling escape")
		}
		switch body[i] {
		case 'n':
			out = append(out, '\n')
		case 'r':
			out = append(out, '\r')
		case 't':
			out = append(out, '\t')
		case '0':
			out = append(out, 0)
		case '\\':
			out = append(out, '\\')
		case '\'':
			out = append(out, '\'')
		case '"':
			out = append(out, '"')
		case 'x':
			if i+2 >= len(body) {
				return "", fmt.Errorf("truncated \\x escape")
			}
			v, err := strconv.ParseUint(body[i+1:i+3], 16, 8)
			if err != nil {
				return "", fmt.Errorf("bad \\x escape: %v", err)
			}
			out = append(out, byte(v))
			i += 2
		default:
			return "", fmt.Errorf("unsupported escape \\%c", body[i])
		}
	}
	//
	return string(out), nil
}

// encodeByteString renders bytes as a Rust byte-string literal.  Printable
// ASCII passes through, quote and backslash gain a backslash, everything else
// becomes a \xNN escape.
func encodeByteString(s string) string {
	var b strings.Builder
	b.WriteString("b\"")
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"':
			b.WriteString("\\\"")
		case c == '\\':
			b.WriteString("\\\\")
		case c == 0:
			b.WriteString("\\0")
		case c >= 0x20 && c < 0x7F:
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "\\x%02X", c)
		}
	}
	b.WriteString("\"")
	return b.String()
}

func requiredString(payload map[string]any, field string) (string, error) {
	v, ok := payload[field]
	if !ok {
		return "", fmt.Errorf("missing")
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("not a string")
	}
	return s, nil
}

func requiredBool(payload map[string]any, field string) (bool, error) {
	v, ok := payload[field]
	if !ok {
		return false, fmt.Errorf("missing")
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("not a boolean")
	}
	return b, nil
}

func optionalString(payload map[string]any, field string) string {
	s, _ := payload[field].(string)
	return s
}

func optionalBool(payload map[string]any, field string) bool {
	b, _ := payload[field].(bool)
	return b
}

func optionalStrings(payload map[string]any, field string) ([]string, error) {
	v, ok := payload[field]
	if !ok {
		return nil, nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("not an array")
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("element is not a string")
		}
		out = append(out, s)
	}
	return out, nil
}

// clip shortens literal text for error messages.
func clip(s string) string {
	const limit = 60
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}

// LnCol is a 1-based line:column position inside a compilation unit.
type LnCol struct {
	Line int
	Col  int
}

// ParseLnCol parses the "line:col" form used by cuLnCol fields and by
// c2rust src_loc attributes.
func ParseLnCol(s string) (LnCol, error) {
	line, col, ok := strings.Cut(s, ":")
	if !ok {
		return LnCol{}, fmt.Errorf("position %q is not line:col", s)
	}
	l, err := strconv.Atoi(line)
	if err != nil {
		return LnCol{}, fmt.Errorf("position %q has a bad line: %v", s, err)
	}
	c, err := strconv.Atoi(col)
	if err != nil {
		return LnCol{}, fmt.Errorf("position %q has a bad column: %v", s, err)
	}
	return LnCol{Line: l, Col: c}, nil
}

// Less orders positions by line, then column.
func (p LnCol) Less(q LnCol) bool {
	if p.Line != q.Line {
		return p.Line < q.Line
	}
	return p.Col < q.Col
}

// Within reports whether p lies in the inclusive range [begin, end].
func (p LnCol) Within(begin, end LnCol) bool {
	return !p.Less(begin) && !end.Less(p)
}

// String renders the position back in line:col form.
func (p LnCol) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Col)
}
