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
package cmd

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/hayroll/go-hayroll/pkg/hayroll"
	"github.com/hayroll/go-hayroll/pkg/workspace"
)

// Get an expected flag, or exit if an error arises.
func getFlag(cmd *cobra.Command, flag string) bool {
	r, err := cmd.Flags().GetBool(flag)
	if err != nil {
		fmt.Println(err)
		os.Exit(2)
	}

	return r
}

// Configure log level from the persistent verbosity flag.
func configureLogging(cmd *cobra.Command) {
	if getFlag(cmd, "verbose") {
		log.SetLevel(log.DebugLevel)
	}
}

// Open a translated crate rooted at the given directory.
func openWorkspace(root string) *workspace.Workspace {
	ws, err := workspace.Load(root)
	if err != nil {
		fmt.Println(err)
		os.Exit(2)
	}

	return ws
}

// Write a workspace's modified files back to disk and surface everything the
// run had to skip or degrade.
func finishRun(ws *workspace.Workspace, diags *hayroll.Diagnostics, err error) {
	if err != nil {
		fmt.Println(err)
		os.Exit(2)
	}
	diags.Report(os.Stderr)
	//
	written, err := ws.Save()
	if err != nil {
		fmt.Println(err)
		os.Exit(2)
	}
	log.Infof("wrote %d file(s)", written)
}
