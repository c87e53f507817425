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

package domain

// VFS translates guest paths to host paths (and back) under the
// configured binding list, honoring per-syscall symlink-dereference
// policy and trailing-slash semantics. See spec.md §4.1.
type VFS interface {
	// Translate maps a guest path (absolute or relative to cwd) to its
	// host-side counterpart. Returns a TranslationError wrapping the
	// syscall.Errno the kernel would have produced (ENOENT, ENOTDIR,
	// ELOOP, ENAMETOOLONG) on failure.
	Translate(guestPath, cwd string, policy DerefPolicy) (string, error)

	// Reverse maps a host path back to its guest-side counterpart, used
	// whenever the kernel hands a path back to the tracee (getcwd,
	// readlink of an absolute target, /proc/self/exe).
	Reverse(hostPath string) (string, bool)

	// GuestCwdToHost is a convenience used by handlers that need the
	// host directory a guest cwd refers to, without walking a whole
	// path (e.g. openat with AT_FDCWD).
	GuestCwdToHost(guestCwd string) (string, error)

	// Bindings returns the active binding list in insertion order.
	Bindings() []Binding

	// ProcSelfOverride recognizes "/proc/self/..." and "/proc/<pid>/..."
	// special cases that must bypass the ordinary binding-based
	// translation (spec.md §4.1 "Special paths"): cwd and root always
	// reflect the tracee's guest-side view, never the host's, and
	// "exe" reflects the guest-mapped path of the tracee's last
	// execve. ok is false when path is not one of these specials.
	ProcSelfOverride(pid uint32, path, guestCwd, lastExecGuest string) (resolved string, ok bool)

	// SetLastExec records the guest path of the image most recently
	// execve'd by pid, for later /proc/<pid>/exe resolution.
	SetLastExec(pid uint32, guestExePath string)
	LastExec(pid uint32) string
}

// TranslationError is surfaced to the tracee as the wrapped errno by
// rewriting the return value register at syscall-exit. It is never
// treated as a tracer-fatal error.
type TranslationError struct {
	Path string
	Err  error
}

func (e *TranslationError) Error() string {
	return e.Path + ": " + e.Err.Error()
}

func (e *TranslationError) Unwrap() error {
	return e.Err
}
