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

package main

import (
	"fmt"
	"unsafe"

	"github.com/nestybox/proot-go/loader"

	"golang.org/x/sys/unix"
)

const (
	stackSize = 8 * 1024 * 1024

	// ELF auxv type constants (elf.h), reproduced here because
	// debug/elf only exposes them for parsing core/section headers, not
	// as named auxv constants for stack construction.
	atNull   = 0
	atPhdr   = 3
	atPhent  = 4
	atPhnum  = 5
	atBase   = 7
	atEntry  = 9
	atRandom = 25
	atExecfn = 31
	atNotelf = 10
	atUid    = 11
	atEuid   = 12
	atGid    = 13
	atEgid   = 14
)

// buildStack lays out a fresh argv/envp/auxv stack matching what the
// kernel itself constructs for a direct execve (System V AMD64 ABI
// §3.4.1, and the equivalent AAPCS64 layout -- both architectures
// share this same argc/argv/envp/auxv shape), and returns the initial
// stack pointer to hand to the target's entry point.
func buildStack(abi *loader.ABI) (uintptr, error) {
	base, err := mmapAnon(stackSize)
	if err != nil {
		return 0, fmt.Errorf("proot-loader: map stack: %w", err)
	}

	w := &stackWriter{top: base + stackSize}

	argvPtrs := make([]uintptr, len(abi.Argv))
	for i, s := range abi.Argv {
		argvPtrs[i] = w.pushString(s)
	}
	envpPtrs := make([]uintptr, len(abi.Envp))
	for i, s := range abi.Envp {
		envpPtrs[i] = w.pushString(s)
	}
	execfnPtr := w.pushString(abi.AuxExecfn)
	randomPtr := w.pushBytes(abi.AuxRandom[:])

	w.align(16)

	type auxEntry struct{ typ, val uint64 }
	auxv := []auxEntry{
		{atPhdr, abi.AuxPhdr},
		{atPhent, abi.AuxPhent},
		{atPhnum, abi.AuxPhnum},
		{atBase, 0},
		{atEntry, abi.AuxEntry},
		{atRandom, uint64(randomPtr)},
		{atExecfn, uint64(execfnPtr)},
		{atNull, 0},
	}

	// Total size of argc + argv[]+NULL + envp[]+NULL + auxv pairs, so
	// the pointer block itself can be written bottom-up in one pass and
	// end up 16-byte aligned at its base (the ABI-mandated alignment of
	// the initial stack pointer).
	ptrWords := 1 + (len(argvPtrs) + 1) + (len(envpPtrs) + 1) + len(auxv)*2
	w.reserve(ptrWords * 8)
	if w.sp%16 != 0 {
		w.reserve(8)
	}

	sp := w.sp
	cursor := sp

	putWord(cursor, uint64(len(abi.Argv)))
	cursor += 8
	for _, p := range argvPtrs {
		putWord(cursor, uint64(p))
		cursor += 8
	}
	putWord(cursor, 0)
	cursor += 8
	for _, p := range envpPtrs {
		putWord(cursor, uint64(p))
		cursor += 8
	}
	putWord(cursor, 0)
	cursor += 8
	for _, a := range auxv {
		putWord(cursor, a.typ)
		cursor += 8
		putWord(cursor, a.val)
		cursor += 8
	}

	return sp, nil
}

// stackWriter bump-allocates downward from the top of a freshly mapped
// stack region.
type stackWriter struct {
	top uintptr
	sp  uintptr
}

func (w *stackWriter) reserve(n int) uintptr {
	if w.sp == 0 {
		w.sp = w.top
	}
	w.sp -= uintptr(n)
	return w.sp
}

func (w *stackWriter) pushBytes(b []byte) uintptr {
	addr := w.reserve(len(b))
	dst := unsafe.Slice((*byte)(unsafe.Pointer(addr)), len(b))
	copy(dst, b)
	return addr
}

func (w *stackWriter) pushString(s string) uintptr {
	return w.pushBytes(append([]byte(s), 0))
}

func (w *stackWriter) align(n uintptr) {
	if w.sp == 0 {
		w.sp = w.top
	}
	w.sp &^= n - 1
}

func putWord(addr uintptr, v uint64) {
	*(*uint64)(unsafe.Pointer(addr)) = v
}

func mmapAnon(size uintptr) (uintptr, error) {
	addr, _, errno := unix.Syscall6(unix.SYS_MMAP, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		uintptr(unix.MAP_PRIVATE|unix.MAP_ANONYMOUS), ^uintptr(0), 0)
	if errno != 0 {
		return 0, errno
	}
	return addr, nil
}
