/*
 * Copyright 2025 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

//go:build !windows

package ioloop

import (
	"os/exec"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestProcessExitDeliversExitCode exercises the blockpool-backed
// VariantProcessExit path (review comment G): waiting happens off the loop
// thread, and the completion must still surface through a single Run call
// without racing the manual-completion drain (see DESIGN.md's "Bug fix:
// blockpool-submitted work must not return ErrManualCompletion").
func TestProcessExitDeliversExitCode(t *testing.T) {
	l, err := Create()
	require.NoError(t, err)
	defer l.Close()

	cmd := exec.Command("sh", "-c", "exit 7")
	require.NoError(t, cmd.Start())

	var op Operation
	var exitCode int
	var gotErr error
	require.NoError(t, l.StartProcessExit(&op, cmd.Process, func(res *ProcessExitResult) {
		exitCode = res.ExitCode()
		gotErr = res.Err()
	}))

	require.NoError(t, l.Run())
	require.NoError(t, gotErr)
	require.Equal(t, 7, exitCode)
	require.Equal(t, StateFree, op.State())
}
