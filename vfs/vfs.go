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
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/nestybox/proot-go/domain"

	"github.com/spf13/afero"
)

// translator implements domain.VFS. The canonicalization algorithm below
// follows the component-walk shape of the teacher's
// process.(*process).pathAccess, generalized from "check permission at
// each component" to "translate guest prefix to host prefix and
// dereference symlinks at each component", per spec.md §4.1.
type translator struct {
	fs       afero.Fs // real OS fs in production; afero.MemMapFs in tests
	bindings *bindingTable
	rootfs   string // host path the guest "/" binding maps to

	lastExecMu sync.Mutex
	lastExec   map[uint32]string
}

// New builds a VFS translator over the given FsPolicy. fs is the
// filesystem used for Stat/Lstat/Readlink during canonicalization --
// pass afero.NewOsFs() in production.
func New(policy *domain.FsPolicy, fs afero.Fs) (domain.VFS, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}

	bindings := append([]domain.Binding(nil), policy.Bindings...)

	return &translator{
		fs:       fs,
		bindings: newBindingTable(bindings),
		rootfs:   policy.RootfsHost,
		lastExec: make(map[uint32]string),
	}, nil
}

// ProcSelfOverride implements the "/proc/self/..." and "/proc/<pid>/..."
// special cases of spec.md §4.1.
func (t *translator) ProcSelfOverride(pid uint32, path, guestCwd, lastExecGuest string) (string, bool) {
	clean := filepath.Clean(path)

	pidStr := strconv.FormatUint(uint64(pid), 10)
	rewritten := rewriteSelf(clean, pidStr)
	if rewritten == "" {
		return "", false
	}

	switch rewritten {
	case "/proc/" + pidStr + "/cwd":
		host, err := t.GuestCwdToHost(guestCwd)
		if err != nil {
			return "", false
		}
		return host, true
	case "/proc/" + pidStr + "/root":
		return t.rootfs, true
	case "/proc/" + pidStr + "/exe":
		if lastExecGuest == "" {
			return "", false
		}
		host, err := t.Translate(lastExecGuest, guestCwd, domain.DerefAlways)
		if err != nil {
			return "", false
		}
		return host, true
	}

	return "", false
}

// rewriteSelf canonicalizes a leading "/proc/self", "/proc/thread-self"
// or "/proc/<pid>" (the tracee's own pid) component into "/proc/<pid>"
// so the switch above need only match one shape. Returns "" if path
// isn't one of the three recognized leaves.
func rewriteSelf(path, pidStr string) string {
	var rest string
	matched := false
	for _, prefix := range []string{"/proc/self", "/proc/thread-self", "/proc/" + pidStr} {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			rest = strings.TrimPrefix(path, prefix)
			matched = true
			break
		}
	}
	if !matched {
		return ""
	}

	switch rest {
	case "/cwd", "/root", "/exe":
		return "/proc/" + pidStr + rest
	default:
		return ""
	}
}

func (t *translator) SetLastExec(pid uint32, guestExePath string) {
	t.lastExecMu.Lock()
	defer t.lastExecMu.Unlock()
	t.lastExec[pid] = guestExePath
}

func (t *translator) LastExec(pid uint32) string {
	t.lastExecMu.Lock()
	defer t.lastExecMu.Unlock()
	return t.lastExec[pid]
}

func (t *translator) Bindings() []domain.Binding {
	return t.bindings.order
}

func errnoErr(path string, errno syscall.Errno) error {
	return &domain.TranslationError{Path: path, Err: errno}
}

// Translate is the guest->host canonicalization entry point described in
// spec.md §4.1 steps 1-5.
func (t *translator) Translate(guestPath, cwd string, policy domain.DerefPolicy) (string, error) {
	if guestPath == "" {
		return "", errnoErr(guestPath, syscall.ENOENT)
	}
	if len(guestPath)+1 > 4096 {
		return "", errnoErr(guestPath, syscall.ENAMETOOLONG)
	}

	trailingSlash := strings.HasSuffix(guestPath, "/") || guestPath == "."

	input := guestPath
	if !filepath.IsAbs(input) {
		input = filepath.Join(cwd, input)
	}

	resolved, err := t.canonicalize(input, policy, trailingSlash, 0)
	if err != nil {
		return "", err
	}

	return resolved, nil
}

// canonicalize walks input component by component, translating the
// tentative guest prefix to a host prefix at each step and following
// symlinks per policy. It returns the HOST path.
func (t *translator) canonicalize(input string, policy domain.DerefPolicy, trailingSlash bool, depth int) (string, error) {
	if depth > domain.SymlinkMax {
		return "", errnoErr(input, syscall.ELOOP)
	}

	comps := splitClean(input)
	guestPrefix := "/"

	for i, c := range comps {
		final := i == len(comps)-1

		switch c {
		case "", ".":
			continue
		case "..":
			guestPrefix = parentOf(guestPrefix)
			continue
		}

		tentative := joinGuest(guestPrefix, c)
		hostTentative, ok := t.bindings.guestToHost(tentative)
		if !ok {
			hostTentative = tentative
		}

		fi, _, statErr := afero.LstatIfPossible(t.fs, hostTentative)
		if statErr != nil {
			if os.IsNotExist(statErr) {
				if final {
					// Non-existent final component: translation still
					// succeeds (the syscall itself will get ENOENT from
					// the kernel); this matches §3 "bindings ... still
					// satisfied at translation time" for not-yet-created
					// overlay targets.
					guestPrefix = tentative
					continue
				}
				return "", errnoErr(input, syscall.ENOENT)
			}
			return "", errnoErr(input, syscall.ENOENT)
		}

		isSymlink := fi.Mode()&os.ModeSymlink != 0

		if !final && !isSymlink && !fi.IsDir() {
			return "", errnoErr(input, syscall.ENOTDIR)
		}

		// A trailing slash on the final component forces dereference
		// unconditionally, regardless of policy: real symlink(7) semantics
		// make "symlink/" resolve through the symlink even when the
		// caller asked to avoid following it (e.g. lstat("symlink/")
		// behaves like stat()), raising ENOTDIR below if the target isn't
		// a directory.
		dereferenceHere := !final ||
			policy == domain.DerefAlways ||
			trailingSlash

		if isSymlink && dereferenceHere {
			link, rerr := afero.ReadlinkIfPossible(t.fs, hostTentative)
			if rerr != nil {
				return "", errnoErr(input, syscall.ENOENT)
			}

			var newInput string
			if filepath.IsAbs(link) {
				newInput = link
			} else {
				newInput = filepath.Join(guestPrefix, link)
			}

			if final {
				rest := ""
				if trailingSlash {
					rest = "/"
				}
				return t.canonicalize(newInput+rest, policy, trailingSlash, depth+1)
			}

			remaining := "/" + strings.Join(comps[i+1:], "/")
			return t.canonicalize(newInput+remaining, policy, trailingSlash, depth+1)
		}

		if final && trailingSlash && !fi.IsDir() && !isSymlink {
			return "", errnoErr(input, syscall.ENOTDIR)
		}

		guestPrefix = tentative
	}

	host, ok := t.bindings.guestToHost(guestPrefix)
	if !ok {
		host = guestPrefix
	}
	return host, nil
}

func parentOf(guestPrefix string) string {
	if guestPrefix == "/" {
		return "/"
	}
	return filepath.Dir(guestPrefix)
}

func joinGuest(prefix, comp string) string {
	if prefix == "/" {
		return "/" + comp
	}
	return prefix + "/" + comp
}

// Reverse implements host->guest translation, per spec.md §4.1
// "Host->guest (reverse)".
func (t *translator) Reverse(hostPath string) (string, bool) {
	return t.bindings.hostToGuest(filepath.Clean(hostPath))
}

// GuestCwdToHost maps a guest cwd to its host directory without a full
// symlink-aware walk (the cwd is already canonical -- it was produced by
// a prior successful Translate/chdir).
func (t *translator) GuestCwdToHost(guestCwd string) (string, error) {
	host, ok := t.bindings.guestToHost(filepath.Clean(guestCwd))
	if !ok {
		return "", errnoErr(guestCwd, syscall.ENOENT)
	}
	return host, nil
}
