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

// Binding is an ordered guest<->host path mapping, as configured via
// "-b/--bind HOST:GUEST" or synthesized from the rootfs itself (the "/"
// root binding). Bindings are resolved to canonical absolute host paths
// during FsPolicy construction; NeedsSubstitution is false only for the
// degenerate case where HostPath == GuestPath (e.g. "-b /dev" shorthand
// when the rootfs already has "/dev" at the same path).
type Binding struct {
	HostPath          string
	GuestPath         string
	NeedsSubstitution bool
}

// DerefPolicy controls whether the final path component of a translated
// path is followed if it is a symlink. Supplied per syscall-argument by
// the SyscallTable.
type DerefPolicy int

const (
	// DerefAlways always follows a trailing symlink (stat, open w/o O_NOFOLLOW).
	DerefAlways DerefPolicy = iota
	// DerefNever never follows the final component (lstat, rename, unlink).
	DerefNever
	// DerefIfTrailingSlash follows only if the guest path ends in "/".
	DerefIfTrailingSlash
)

// SymlinkMax bounds symlink recursion during canonicalization, matching the
// kernel's own MAXSYMLINKS.
const SymlinkMax = 40
