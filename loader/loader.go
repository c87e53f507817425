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

package loader

import (
	"crypto/rand"
	"fmt"
	"os"

	"github.com/nestybox/proot-go/domain"
)

// Loader prepares the bootstrap substitution performed at execve, per
// spec.md §4.4: the tracer never lets the tracee's own execve run
// directly against the translated host path, because the target's own
// dynamic linker (if any) would then resolve library paths against the
// host's view of the filesystem rather than the guest's. Instead the
// tracee execve's BootstrapHostPath, and the tracer hands that process
// an ABI blob describing the real target (and its interpreter) so
// cmd/proot-loader can map it and jump to its entry point itself.
type Loader struct {
	BootstrapHostPath string
	MaxShebangDepth   int
}

func New(bootstrapHostPath string) *Loader {
	return &Loader{BootstrapHostPath: bootstrapHostPath, MaxShebangDepth: 1}
}

// PreparedExec is everything the caller needs to finish an execve
// substitution: which host binary to actually execve (the bootstrap),
// the ABI blob to stage into its address space, and the already-
// resolved host paths of the target and (if any) its interpreter, so
// the caller can open fds on them in the tracee's own fd table before
// the substituted execve runs (see ptrace/handlers.injectOpen).
type PreparedExec struct {
	BootstrapHostPath string
	Blob              []byte
	TargetHostPath    string
	InterpHostPath    string // empty if statically linked
}

// Prepare resolves hostPath (following at most MaxShebangDepth levels
// of "#!" indirection), parses the resulting ELF image and its
// interpreter, and returns the bootstrap substitution plan.
//
// resolveGuest translates a guest-rooted path (an interpreter named by
// "#!" or by PT_INTERP) to its host path; the caller passes
// domain.VFS.Translate bound to the tracee's current cwd.
func (l *Loader) Prepare(guestPath, hostPath string, argv, envp []string, resolveGuest func(guestPath string) (string, error)) (*PreparedExec, error) {
	realHost := hostPath
	realArgv := append([]string(nil), argv...)

	header, err := peekHeader(hostPath)
	if err != nil {
		return nil, err
	}

	depth := 0
	for {
		interp, arg, ok := ParseShebang(header)
		if !ok {
			break
		}
		if depth >= l.MaxShebangDepth {
			return nil, fmt.Errorf("loader: %s: too many levels of \"#!\" indirection", hostPath)
		}
		depth++

		interpHost, rerr := resolveGuest(interp)
		if rerr != nil {
			return nil, rerr
		}

		newArgv := []string{interp}
		if arg != "" {
			newArgv = append(newArgv, arg)
		}
		newArgv = append(newArgv, realArgv...)
		realArgv = newArgv
		realHost = interpHost

		header, err = peekHeader(realHost)
		if err != nil {
			return nil, err
		}
	}

	img, err := ParseImage(realHost)
	if err != nil {
		return nil, err
	}

	abi := &ABI{
		Entry:     img.Entry,
		Segments:  append([]Segment(nil), img.Segments...),
		Argv:      realArgv,
		Envp:      envp,
		AuxPhdr:   img.PhdrVaddr,
		AuxPhent:  uint64(img.Phentsize),
		AuxPhnum:  uint64(img.Phnum),
		AuxEntry:  img.Entry,
		AuxExecfn: guestPath,
	}
	if _, rerr := rand.Read(abi.AuxRandom[:]); rerr != nil {
		return nil, fmt.Errorf("loader: generate AT_RANDOM: %w", rerr)
	}

	plan := &PreparedExec{
		BootstrapHostPath: l.BootstrapHostPath,
		TargetHostPath:    realHost,
	}

	if img.Interp != "" {
		interpHost, rerr := resolveGuest(img.Interp)
		if rerr != nil {
			return nil, rerr
		}
		interpImg, ierr := ParseImage(interpHost)
		if ierr != nil {
			return nil, ierr
		}
		abi.Interp = &ABI{
			Entry:    interpImg.Entry,
			Segments: interpImg.Segments,
		}
		// The dynamic linker's own entry point is what the bootstrap
		// must actually jump to; the target's ELF entry becomes the
		// value handed to it via AT_ENTRY for it to resolve PLT/IFUNCs
		// against once it has mapped the target itself.
		abi.Entry = interpImg.Entry
		plan.InterpHostPath = interpHost
	}

	blob, err := abi.Marshal()
	if err != nil {
		return nil, err
	}
	plan.Blob = blob

	return plan, nil
}

func peekHeader(hostPath string) ([]byte, error) {
	f, err := os.Open(hostPath)
	if err != nil {
		return nil, fmt.Errorf("loader: open %s: %w", hostPath, err)
	}
	defer f.Close()

	buf := make([]byte, 256)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return nil, fmt.Errorf("loader: read %s: %w", hostPath, err)
	}
	return buf[:n], nil
}

// ResolveViaVFS adapts a domain.VFS + fixed cwd into the resolveGuest
// callback Prepare expects.
func ResolveViaVFS(vfs domain.VFS, cwd string) func(string) (string, error) {
	return func(guestPath string) (string, error) {
		return vfs.Translate(guestPath, cwd, domain.DerefAlways)
	}
}
