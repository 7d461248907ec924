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

// Package workspace loads a directory of translated Rust sources (typically
// a Cargo package), keeps a parse per file, and writes edited files back.
// Mutation follows a plan/commit discipline: passes plan byte-range edits
// against a file's current parse, commit them in one batch, and get a fresh
// parse for the next pass.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	log "github.com/sirupsen/logrus"

	"github.com/hayroll/go-hayroll/pkg/rstree"
)

// File is one Rust source file under the workspace root.
type File struct {
	// Path is workspace-relative, slash-separated.
	Path  string
	Tree  *rstree.Tree
	dirty bool
}

// Workspace is a set of parsed Rust files under one root directory.
type Workspace struct {
	Root  string
	files map[string]*File
	paths []string
}

// Load scans root recursively for *.rs files and parses each one.  The
// root-level target directory (Cargo's build output) is skipped.
func Load(root string) (*Workspace, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("workspace %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace %s: not a directory", root)
	}
	//
	matches, err := doublestar.FilepathGlob(filepath.Join(root, "**", "*.rs"))
	if err != nil {
		return nil, fmt.Errorf("workspace %s: %w", root, err)
	}
	//
	ws := &Workspace{Root: root, files: make(map[string]*File)}
	for _, match := range matches {
		rel, err := filepath.Rel(root, match)
		if err != nil {
			return nil, err
		}
		rel = filepath.ToSlash(rel)
		if rel == "target" || strings.HasPrefix(rel, "target/") {
			continue
		}
		//
		src, err := os.ReadFile(match)
		if err != nil {
			return nil, err
		}
		tree, err := rstree.Parse(src)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", rel, err)
		}
		ws.files[rel] = &File{Path: rel, Tree: tree}
		ws.paths = append(ws.paths, rel)
	}
	sort.Strings(ws.paths)
	//
	log.Debugf("workspace %s: loaded %d file(s)", root, len(ws.paths))
	return ws, nil
}

// Paths returns the workspace-relative file paths in sorted order.
func (ws *Workspace) Paths() []string {
	return ws.paths
}

// File returns the file at a workspace-relative path, or nil.
func (ws *Workspace) File(path string) *File {
	return ws.files[path]
}

// Tree returns the current parse of the file at path, or nil.
func (ws *Workspace) Tree(path string) *rstree.Tree {
	if f := ws.files[path]; f != nil {
		return f.Tree
	}
	return nil
}

// Commit applies planned edits to a file and re-parses it.  An empty edit
// set leaves the file untouched.
func (ws *Workspace) Commit(path string, edits *rstree.EditSet) error {
	f := ws.files[path]
	if f == nil {
		return fmt.Errorf("workspace %s: no file %s", ws.Root, path)
	}
	if edits.Empty() {
		return nil
	}
	//
	next := edits.Apply(f.Tree.Source())
	tree, err := rstree.Parse(next)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	f.Tree.Close()
	f.Tree = tree
	f.dirty = true
	//
	log.Debugf("%s: committed %d edit(s)", path, edits.Len())
	return nil
}

// Save writes every edited file back in place, normalized to exactly one
// trailing newline, and reports how many files it wrote.
func (ws *Workspace) Save() (int, error) {
	written := 0
	for _, path := range ws.paths {
		f := ws.files[path]
		if !f.dirty {
			continue
		}
		//
		text := strings.TrimRight(string(f.Tree.Source()), "\n") + "\n"
		if err := os.WriteFile(filepath.Join(ws.Root, filepath.FromSlash(path)), []byte(text), 0644); err != nil {
			return written, err
		}
		f.dirty = false
		written++
	}
	return written, nil
}

// Close releases every file's parse.
func (ws *Workspace) Close() {
	for _, f := range ws.files {
		f.Tree.Close()
	}
}
