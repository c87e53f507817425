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

// RegsView abstracts reading and writing a tracee's general-purpose
// register file, and the per-architecture layout of syscall number,
// the six syscall argument registers and the return-value register.
// Implementations exist for x86_64 and aarch64 only; there is none for
// i386 or 32-bit arm. See ptrace/regsview.
type RegsView interface {
	// ReadRegs re-reads the register file from the kernel into the
	// cache, clearing the dirty flag.
	ReadRegs(pid int) error

	// Flush writes the cached registers back to the kernel iff dirty,
	// then clears the dirty flag. Must be called before a tracee is
	// resumed whenever SetArg/SetSyscallNo/SetReturn was used.
	Flush(pid int) error

	SyscallNo() uint64
	SetSyscallNo(n uint64)

	Arg(i int) uint64
	SetArg(i int, v uint64)

	Return() int64
	SetReturn(v int64)

	// InstructionPointer returns the tracee's current PC/IP. The scratch
	// allocator does not consult it.
	InstructionPointer() uint64
}

// RegsViewFactory returns a fresh, architecture-appropriate RegsView.
type RegsViewFactory func() RegsView
