//
// Copyright 2019-2020 Nestybox, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRequiresRootfs(t *testing.T) {
	_, err := Build(Options{Argv: []string{"/bin/sh"}})
	assert.Error(t, err)
}

func TestBuildRequiresCommand(t *testing.T) {
	dir := t.TempDir()
	_, err := Build(Options{Rootfs: dir})
	assert.Error(t, err)
}

func TestBuildRootBinding(t *testing.T) {
	dir := t.TempDir()
	policy, err := Build(Options{Rootfs: dir, Argv: []string{"/bin/sh"}})
	require.NoError(t, err)

	require.NotEmpty(t, policy.Bindings)
	assert.Equal(t, "/", policy.Bindings[0].GuestPath)
	assert.Equal(t, dir, policy.Bindings[0].HostPath)
	assert.Equal(t, "/", policy.InitialCwd)
}

func TestBuildExplicitBindTakesPrecedenceOverDefault(t *testing.T) {
	dir := t.TempDir()
	policy, err := Build(Options{
		Rootfs: dir,
		Binds:  []string{"/tmp:/tmp"},
		Argv:   []string{"/bin/sh"},
	})
	require.NoError(t, err)

	count := 0
	for _, b := range policy.Bindings {
		if b.GuestPath == "/tmp" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestParseBindShorthand(t *testing.T) {
	b, err := parseBind("/dev")
	require.NoError(t, err)
	assert.Equal(t, "/dev", b.GuestPath)
	assert.Equal(t, "/dev", b.HostPath)
	assert.False(t, b.NeedsSubstitution)
}

func TestParseBindHostGuest(t *testing.T) {
	b, err := parseBind("/opt/data:/mnt/data")
	require.NoError(t, err)
	assert.Equal(t, "/mnt/data", b.GuestPath)
	assert.Equal(t, "/opt/data", b.HostPath)
	assert.True(t, b.NeedsSubstitution)
}

func TestParseBindRejectsRelativeGuest(t *testing.T) {
	_, err := parseBind("/opt/data:mnt/data")
	assert.Error(t, err)
}

func TestBuildDefaultEnvFallsBackToOSEnviron(t *testing.T) {
	dir := t.TempDir()
	os.Setenv("PROOT_GO_TEST_MARKER", "1")
	defer os.Unsetenv("PROOT_GO_TEST_MARKER")

	policy, err := Build(Options{Rootfs: dir, Argv: []string{"/bin/sh"}})
	require.NoError(t, err)

	found := false
	for _, e := range policy.Envp {
		if e == "PROOT_GO_TEST_MARKER=1" {
			found = true
		}
	}
	assert.True(t, found)
}
