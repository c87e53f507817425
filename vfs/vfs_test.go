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

package vfs

import (
	"testing"

	"github.com/nestybox/proot-go/domain"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFs(t *testing.T) afero.Fs {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/guestroot/etc", 0755))
	require.NoError(t, fs.MkdirAll("/guestroot/bin", 0755))
	require.NoError(t, afero.WriteFile(fs, "/guestroot/etc/passwd", []byte("root"), 0644))
	require.NoError(t, fs.MkdirAll("/hostoverlay", 0755))
	require.NoError(t, afero.WriteFile(fs, "/hostoverlay/resolv.conf", []byte("nameserver 1.1.1.1"), 0644))
	return fs
}

func newTestVFS(t *testing.T) domain.VFS {
	policy := &domain.FsPolicy{
		RootfsHost: "/guestroot",
		Bindings: []domain.Binding{
			{HostPath: "/guestroot", GuestPath: "/", NeedsSubstitution: true},
			{HostPath: "/hostoverlay/resolv.conf", GuestPath: "/etc/resolv.conf", NeedsSubstitution: true},
		},
	}
	v, err := New(policy, newTestFs(t))
	require.NoError(t, err)
	return v
}

func TestTranslateRootBinding(t *testing.T) {
	v := newTestVFS(t)

	host, err := v.Translate("/etc/passwd", "/", domain.DerefAlways)
	require.NoError(t, err)
	assert.Equal(t, "/guestroot/etc/passwd", host)
}

func TestTranslateOverlayBindingWinsOverRoot(t *testing.T) {
	v := newTestVFS(t)

	// /etc/resolv.conf is overlaid onto a host file that does not exist
	// under /guestroot at all -- the longest-prefix match must pick the
	// more specific binding.
	host, err := v.Translate("/etc/resolv.conf", "/", domain.DerefNever)
	require.NoError(t, err)
	assert.Equal(t, "/hostoverlay/resolv.conf", host)
}

func TestTranslateRelativeToCwd(t *testing.T) {
	v := newTestVFS(t)

	host, err := v.Translate("passwd", "/etc", domain.DerefAlways)
	require.NoError(t, err)
	assert.Equal(t, "/guestroot/etc/passwd", host)
}

func TestReverseIsInverseOfTranslate(t *testing.T) {
	v := newTestVFS(t)

	host, err := v.Translate("/etc/passwd", "/", domain.DerefAlways)
	require.NoError(t, err)

	guest, ok := v.Reverse(host)
	require.True(t, ok)
	assert.Equal(t, "/etc/passwd", guest)
}

func TestProcSelfCwdOverride(t *testing.T) {
	v := newTestVFS(t)

	host, ok := v.ProcSelfOverride(42, "/proc/self/cwd", "/etc", "")
	require.True(t, ok)
	assert.Equal(t, "/guestroot/etc", host)

	host, ok = v.ProcSelfOverride(42, "/proc/42/cwd", "/etc", "")
	require.True(t, ok)
	assert.Equal(t, "/guestroot/etc", host)
}

func TestProcSelfRootOverride(t *testing.T) {
	v := newTestVFS(t)

	host, ok := v.ProcSelfOverride(1, "/proc/self/root", "/", "")
	require.True(t, ok)
	assert.Equal(t, "/guestroot", host)
}

func TestProcSelfExeOverride(t *testing.T) {
	v := newTestVFS(t)
	v.SetLastExec(7, "/bin/sh")

	host, ok := v.ProcSelfOverride(7, "/proc/self/exe", "/", v.LastExec(7))
	require.True(t, ok)
	assert.Equal(t, "/guestroot/bin/sh", host)
}

func TestProcSelfOverrideNotMatched(t *testing.T) {
	v := newTestVFS(t)

	_, ok := v.ProcSelfOverride(1, "/proc/self/status", "/", "")
	assert.False(t, ok)
}
