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

// Package config builds domain.FsPolicy from CLI input, applying the
// default binding set spec.md §6 calls out. Grounded on the teacher's
// own config construction in cmd/sysbox-fs/main.go, which resolves CLI
// flags into a fully-built *sysbox.Config before handing it down to the
// services it wires up -- generalized here from a daemon's startup
// config to the one-shot FsPolicy the tracer and VFS share.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nestybox/proot-go/domain"
)

// DefaultBindings are applied to every guest rootfs unless the caller's
// own -b/--bind flags already cover the same guest path, per spec.md §6
// "External interfaces": a handful of host files/directories a guest
// userland expects to exist and reflect the host's own view (DNS
// resolution config, /dev, /proc, /sys, /tmp).
var DefaultBindings = []string{
	"/etc/host.conf",
	"/etc/nsswitch.conf",
	"/etc/resolv.conf",
	"/dev",
	"/sys",
	"/proc",
	"/tmp",
}

// Options collects the raw CLI input cmd/proot-go parses, before it is
// resolved into a domain.FsPolicy.
type Options struct {
	Rootfs  string
	Cwd     string
	Binds   []string // "HOST:GUEST" or "HOST" shorthand (GUEST == HOST)
	Argv    []string
	Envp    []string
}

// Build resolves opts into a domain.FsPolicy: the rootfs becomes the
// guest "/" binding, explicit binds are parsed and canonicalized, and
// DefaultBindings are appended for any guest path not already covered.
func Build(opts Options) (*domain.FsPolicy, error) {
	if opts.Rootfs == "" {
		return nil, fmt.Errorf("config: rootfs is required")
	}
	rootfsHost, err := filepath.Abs(opts.Rootfs)
	if err != nil {
		return nil, fmt.Errorf("config: resolve rootfs %q: %w", opts.Rootfs, err)
	}
	if fi, err := os.Stat(rootfsHost); err != nil || !fi.IsDir() {
		return nil, fmt.Errorf("config: rootfs %q is not a directory", rootfsHost)
	}

	cwd := opts.Cwd
	if cwd == "" {
		cwd = "/"
	}
	if !filepath.IsAbs(cwd) {
		return nil, fmt.Errorf("config: cwd %q must be absolute (guest-rooted)", cwd)
	}

	bindings := []domain.Binding{{
		HostPath:          rootfsHost,
		GuestPath:         "/",
		NeedsSubstitution: rootfsHost != "/",
	}}

	seenGuest := map[string]bool{"/": true}

	addBind := func(spec string) error {
		b, err := parseBind(spec)
		if err != nil {
			return err
		}
		if seenGuest[b.GuestPath] {
			return nil
		}
		seenGuest[b.GuestPath] = true
		bindings = append(bindings, b)
		return nil
	}

	for _, spec := range opts.Binds {
		if err := addBind(spec); err != nil {
			return nil, err
		}
	}
	for _, guest := range DefaultBindings {
		if seenGuest[guest] {
			continue
		}
		if _, err := os.Stat(guest); err != nil {
			continue // host doesn't have it either; skip rather than fail startup
		}
		if err := addBind(guest); err != nil {
			return nil, err
		}
	}

	argv := opts.Argv
	if len(argv) == 0 {
		return nil, fmt.Errorf("config: no command given")
	}

	envp := opts.Envp
	if envp == nil {
		envp = os.Environ()
	}

	return &domain.FsPolicy{
		RootfsHost: rootfsHost,
		Bindings:   bindings,
		InitialCwd: cwd,
		Argv:       argv,
		Envp:       envp,
	}, nil
}

// parseBind parses one -b/--bind argument. "HOST:GUEST" binds host path
// HOST at guest path GUEST; bare "HOST" (no colon) binds HOST at the
// same path in the guest, matching proot's own shorthand.
func parseBind(spec string) (domain.Binding, error) {
	host, guest, hasGuest := strings.Cut(spec, ":")
	if !hasGuest {
		guest = host
	}

	hostAbs, err := filepath.Abs(host)
	if err != nil {
		return domain.Binding{}, fmt.Errorf("config: resolve bind host path %q: %w", host, err)
	}
	if !filepath.IsAbs(guest) {
		return domain.Binding{}, fmt.Errorf("config: bind guest path %q must be absolute", guest)
	}
	guest = filepath.Clean(guest)

	return domain.Binding{
		HostPath:          hostAbs,
		GuestPath:         guest,
		NeedsSubstitution: hostAbs != guest,
	}, nil
}
