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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_CollectTags_DecodesGuardLiteral(t *testing.T) {
	lit := testLit(map[string]any{
		"name":     "ISNAN",
		"argNames": []any{"x"},
		"locBegin": "f.c:7:12",
	})
	src := "unsafe fn f(x: libc::c_float) -> libc::c_int {\n    " +
		guardText(lit, "(x != x) as libc::c_int", deadFor("libc::c_int")) + "\n}\n"
	tree := parseFixture(t, src)
	//
	tags, err := CollectTags(tree, "f.rs")
	require.NoError(t, err)
	require.Len(t, tags, 1)
	//
	tag := tags[0]
	assert.Equal(t, "ISNAN", tag.Name)
	assert.Equal(t, SeedInvocation, tag.SeedType)
	assert.Equal(t, KindExpr, tag.ASTKind)
	assert.True(t, tag.Begin)
	assert.False(t, tag.IsArg)
	assert.True(t, tag.CanBeFn)
	assert.Equal(t, "f.c:7:12", tag.LocBegin)
	assert.Equal(t, []string{"x"}, tag.ArgNames)
	assert.Equal(t, "f.rs", tag.File)
}

func Test_CollectTags_IgnoresForeignLiterals(t *testing.T) {
	src := `
fn f() {
    let s = "hayroll in a plain string is not a tag";
    let b = b"not json at all\0";
    let n = b"{\"some\":\"json\"}\0";
}
`
	tree := parseFixture(t, src)
	tags, err := CollectTags(tree, "f.rs")
	require.NoError(t, err)
	assert.Empty(t, tags)
}

func Test_CollectTags_MalformedTagIsLoud(t *testing.T) {
	src := "fn f() {\n    let b = b\"{\\\"hayroll\\\":true,broken\\0\";\n}\n"
	tree := parseFixture(t, src)
	//
	_, err := CollectTags(tree, "f.rs")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedTag)
}

func Test_CollectTags_MissingRequiredField(t *testing.T) {
	payload := testPayload(nil)
	delete(payload, "locRefBegin")
	src := "fn f() {\n    " + markerText(encodeTagLiteral(payload)) + "\n}\n"
	tree := parseFixture(t, src)
	//
	_, err := CollectTags(tree, "f.rs")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedTag)
	assert.Contains(t, err.Error(), "locRefBegin")
}

func Test_CollectTags_UnknownKindRejected(t *testing.T) {
	src := "fn f() {\n    " + markerText(testLit(map[string]any{"astKind": "Blob"})) + "\n}\n"
	tree := parseFixture(t, src)
	//
	_, err := CollectTags(tree, "f.rs")
	assert.ErrorIs(t, err, ErrMalformedTag)
}

func Test_CollectTags_BlankKindEndMarker(t *testing.T) {
	// Older seed streams leave astKind empty on end markers.
	src := "fn f() {\n    " + markerText(testLit(map[string]any{"astKind": "", "begin": false})) + "\n}\n"
	tree := parseFixture(t, src)
	//
	tags, err := CollectTags(tree, "f.rs")
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.False(t, tags[0].Begin)
	assert.Equal(t, ASTKind(""), tags[0].ASTKind)
}

func Test_Tag_WithUpdatedBegin(t *testing.T) {
	src := "fn f() {\n    " + markerText(testLit(map[string]any{"astKind": "Stmts", "name": "SWAP"})) + "\n}\n"
	tree := parseFixture(t, src)
	tags, err := CollectTags(tree, "f.rs")
	require.NoError(t, err)
	require.Len(t, tags, 1)
	//
	// Re-embed the re-rendered literal and decode it again.
	reSrc := "fn f() {\n    " + fmt.Sprintf("*(%s as *const u8 as *const libc::c_char);", tags[0].WithUpdatedBegin(false)) + "\n}\n"
	reTree := parseFixture(t, reSrc)
	reTags, err := CollectTags(reTree, "f.rs")
	require.NoError(t, err)
	require.Len(t, reTags, 1)
	//
	assert.False(t, reTags[0].Begin)
	assert.Equal(t, "SWAP", reTags[0].Name)
	assert.Equal(t, tags[0].LocBegin, reTags[0].LocBegin)
	assert.Equal(t, tags[0].ASTKind, reTags[0].ASTKind)
}

func Test_Tag_WithAppendedMergedVariant(t *testing.T) {
	src := "fn f() {\n    " + markerText(testLit(nil)) + "\n}\n"
	tree := parseFixture(t, src)
	tags, err := CollectTags(tree, "f.rs")
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.False(t, tags[0].HasMergedVariant("g.c:4:1"))
	//
	reSrc := "fn f() {\n    " + fmt.Sprintf("*(%s as *const u8 as *const libc::c_char);", tags[0].WithAppendedMergedVariant("g.c:4:1")) + "\n}\n"
	reTree := parseFixture(t, reSrc)
	reTags, err := CollectTags(reTree, "f.rs")
	require.NoError(t, err)
	require.Len(t, reTags, 1)
	//
	assert.True(t, reTags[0].HasMergedVariant("g.c:4:1"))
	assert.Equal(t, []string{"g.c:4:1"}, reTags[0].MergedVariants)
}

func Test_ByteString_RoundTrip(t *testing.T) {
	cases := []string{
		"",
		"plain ascii",
		`quotes " and \ backslash`,
		"nul \x00 inside",
		"high bytes \xff\xfe and tab\tnewline\n",
	}
	for _, want := range cases {
		got, err := decodeByteString(encodeByteString(want))
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func Test_ByteString_DecodeErrors(t *testing.T) {
	for _, raw := range []string{
		`b"dangling\`,
		`b"truncated\x1`,
		`b"unknown\q"`,
		`"not byte"`,
	} {
		_, err := decodeByteString(raw)
		assert.Error(t, err, raw)
	}
}

func Test_ParseLnCol(t *testing.T) {
	pos, err := ParseLnCol("12:34")
	require.NoError(t, err)
	assert.Equal(t, LnCol{Line: 12, Col: 34}, pos)
	//
	_, err = ParseLnCol("12")
	assert.Error(t, err)
	_, err = ParseLnCol("a:b")
	assert.Error(t, err)
}

func Test_LnCol_WithinIsInclusive(t *testing.T) {
	begin := LnCol{Line: 10, Col: 5}
	end := LnCol{Line: 12, Col: 1}
	//
	assert.True(t, begin.Within(begin, end))
	assert.True(t, end.Within(begin, end))
	assert.True(t, LnCol{Line: 11, Col: 99}.Within(begin, end))
	assert.False(t, LnCol{Line: 10, Col: 4}.Within(begin, end))
	assert.False(t, LnCol{Line: 12, Col: 2}.Within(begin, end))
}
