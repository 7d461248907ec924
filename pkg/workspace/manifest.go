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
package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	log "github.com/sirupsen/logrus"
)

// ManifestPath returns the path of the workspace's Cargo manifest, which may
// or may not exist.
func (ws *Workspace) ManifestPath() string {
	return filepath.Join(ws.Root, "Cargo.toml")
}

// EnsureFeatures declares every named feature in the manifest's [features]
// table, so that the #[cfg(feature = "...")] gates written by conditional
// reconstruction name real features.  Existing entries keep their dependency
// lists.  Reports whether the manifest was rewritten; a workspace without a
// manifest only logs a warning, since gating still works under --all-features
// style builds.
func (ws *Workspace) EnsureFeatures(atoms []string) (bool, error) {
	if len(atoms) == 0 {
		return false, nil
	}
	//
	path := ws.ManifestPath()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		log.Warnf("workspace %s has no Cargo.toml; %d feature(s) left undeclared", ws.Root, len(atoms))
		return false, nil
	}
	if err != nil {
		return false, err
	}
	//
	var manifest map[string]any
	if err := toml.Unmarshal(data, &manifest); err != nil {
		return false, fmt.Errorf("%s: %w", path, err)
	}
	//
	features, _ := manifest["features"].(map[string]any)
	if features == nil {
		features = make(map[string]any)
	}
	changed := false
	for _, atom := range atoms {
		if _, ok := features[atom]; !ok {
			features[atom] = []any{}
			changed = true
		}
	}
	if !changed {
		return false, nil
	}
	manifest["features"] = features
	//
	out, err := toml.Marshal(manifest)
	if err != nil {
		return false, fmt.Errorf("%s: %w", path, err)
	}
	if err := os.WriteFile(path, out, 0644); err != nil {
		return false, err
	}
	//
	log.Debugf("%s: declared %d feature(s)", path, len(atoms))
	return true, nil
}
