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

// ClusterKey groups call sites of one macro under one argument-type
// instantiation.
type ClusterKey struct {
	LocRefBegin string
	Signature   string
}

// MacroCluster is every invocation sharing a cluster key.  All synthesis
// decisions are made per cluster, from its first invocation.
type MacroCluster struct {
	Invocations []*MacroInv
}

// First returns the cluster's representative invocation.
func (c *MacroCluster) First() *MacroInv {
	return c.Invocations[0]
}

// StructurallyCompatible reports whether every invocation is structurally
// compatible with the first.
func (c *MacroCluster) StructurallyCompatible() (bool, error) {
	first := c.First()
	for _, inv := range c.Invocations {
		ok, err := first.StructurallyCompatibleWith(inv)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// TypeCompatible reports whether every invocation is type compatible with
// the first.
func (c *MacroCluster) TypeCompatible() (bool, error) {
	first := c.First()
	for _, inv := range c.Invocations {
		ok, err := first.TypeCompatibleWith(inv)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// CanBeFn decides whether the cluster becomes a plain callable: the cluster
// must be type compatible, every call site must carry the translator's
// callable hint, and every bound argument must be expression-shaped so a
// parameter type exists for it.  Declaration-shaped bodies always take the
// template route, since declarations cannot move into a function body
// without changing their linkage.
func (c *MacroCluster) CanBeFn() (bool, error) {
	if _, ok := c.First().Seed.(*DeclsSeed); ok {
		return false, nil
	}
	for _, inv := range c.Invocations {
		if !inv.Tag().CanBeFn {
			return false, nil
		}
		for _, name := range inv.ArgNames {
			if anyStmtShaped(inv.Args[name]) {
				return false, nil
			}
		}
	}
	return c.TypeCompatible()
}

// ArgsRequireLvalue folds the per-invocation calling conventions: a slot is
// passed by pointer only when every call site binds it exclusively to
// lvalues.
func (c *MacroCluster) ArgsRequireLvalue() []bool {
	out := make([]bool, len(c.First().ArgNames))
	for i := range out {
		out[i] = true
	}
	for _, inv := range c.Invocations {
		for i, req := range inv.ArgsRequireLvalue() {
			out[i] = out[i] && req
		}
	}
	return out
}

// DeclFile is the file the synthesized construct is inserted into: the file
// of the first invocation.
func (c *MacroCluster) DeclFile() string {
	return c.First().Tag().File
}

// MacroDB indexes invocations by declaring location and signature.  Key
// order follows first insertion, so passes visit clusters deterministically.
type MacroDB struct {
	keys     []ClusterKey
	clusters map[ClusterKey]*MacroCluster
}

// BuildMacroDB groups invocations into clusters.
func BuildMacroDB(invs []*MacroInv) (*MacroDB, error) {
	db := &MacroDB{clusters: make(map[ClusterKey]*MacroCluster)}
	for _, inv := range invs {
		sig, err := inv.Signature()
		if err != nil {
			return nil, err
		}
		key := ClusterKey{LocRefBegin: inv.Tag().LocRefBegin, Signature: sig}
		cluster, ok := db.clusters[key]
		if !ok {
			cluster = &MacroCluster{}
			db.clusters[key] = cluster
			db.keys = append(db.keys, key)
		}
		cluster.Invocations = append(cluster.Invocations, inv)
	}
	return db, nil
}

// Keys returns the cluster keys in insertion order.
func (db *MacroDB) Keys() []ClusterKey {
	return db.keys
}

// Cluster returns the cluster for a key.
func (db *MacroDB) Cluster(key ClusterKey) *MacroCluster {
	return db.clusters[key]
}

// Len returns the number of clusters.
func (db *MacroDB) Len() int {
	return len(db.keys)
}
