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

// ArgRole classifies a single syscall argument for the purposes of
// translation.
type ArgRole int

const (
	ArgIgnored ArgRole = iota
	ArgPathIn          // guest path read from tracee memory, translated guest->host
	ArgPathOut         // host path written by the kernel, translated host->guest on exit
	ArgFD              // file descriptor, no translation
	ArgDirFD           // *at() dirfd argument (AT_FDCWD or an fd)
	ArgFlag            // flags bitmask, inspected but not translated
)

// SyscallKind flags syscalls needing bespoke handling beyond the generic
// path-in/path-out machinery.
type SyscallKind int

const (
	KindGeneric SyscallKind = iota
	KindExecve
	KindChdir
	KindFchdir
	KindMount
	KindClone
	KindGetcwd
	KindReadlink
)

// ArgSpec describes one argument of a syscall-table entry.
type ArgSpec struct {
	Role   ArgRole
	Deref  DerefPolicy
	MaxLen int // for ArgPathOut: size of the caller-supplied buffer arg, 0 if n/a
}

// SyscallEntry is one row of the per-architecture SyscallTable.
type SyscallEntry struct {
	Name string
	Nr   uint64
	Kind SyscallKind
	Args [6]ArgSpec

	// AtFDArgIndex is the index (0-based) of the directory-fd argument
	// for *at() family calls, or -1 if this syscall has no such arg.
	AtFDArgIndex int
}

// SyscallTable maps syscall numbers (architecture-specific) to metadata.
type SyscallTable interface {
	Lookup(nr uint64) (SyscallEntry, bool)
}
