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

// Command proot-loader is the bootstrap image a tracee's execve is
// substituted with, per spec.md §4.4. The tracer writes an ABI blob
// directly into this process's own address space (via the same
// injected-mmap technique ptrace/mem uses for scratch allocation)
// before this binary's first instruction runs; main reads that blob
// back out of its own memory, maps the real target image (and its
// interpreter, if dynamically linked) at the addresses the target's
// own program headers specify, builds a raw argv/envp/auxv stack in
// the shape the kernel itself would have built for a direct execve,
// and hands off control with jumpToEntry -- which never returns.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"unsafe"

	"github.com/nestybox/proot-go/loader"

	"golang.org/x/sys/unix"
)

const pageSize = 4096

func main() {
	abi, err := readABI()
	if err != nil {
		fatal(err)
	}

	targetFd, err := envInt("PROOT_LOADER_TARGET_FD")
	if err != nil {
		fatal(err)
	}
	if err := mapSegments(abi.Segments, targetFd); err != nil {
		fatal(err)
	}

	entry := abi.Entry
	if abi.Interp != nil {
		interpFd, err := envInt("PROOT_LOADER_INTERP_FD")
		if err != nil {
			fatal(err)
		}
		if err := mapSegments(abi.Interp.Segments, interpFd); err != nil {
			fatal(err)
		}
		entry = abi.Interp.Entry
	}

	sp, err := buildStack(abi)
	if err != nil {
		fatal(err)
	}

	jumpToEntry(sp, uintptr(entry))
	// unreachable
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "proot-loader:", err)
	os.Exit(127)
}

// readABI recovers the ABI blob the tracer staged at a fixed address
// before this process's first instruction, per the PROOT_LOADER_ABI
// environment variable it set at execve time ("addr:len", both hex).
func readABI() (*loader.ABI, error) {
	raw := os.Getenv("PROOT_LOADER_ABI")
	if raw == "" {
		return nil, fmt.Errorf("PROOT_LOADER_ABI not set")
	}
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("malformed PROOT_LOADER_ABI %q", raw)
	}
	addr, err := strconv.ParseUint(parts[0], 16, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed PROOT_LOADER_ABI address: %w", err)
	}
	length, err := strconv.ParseUint(parts[1], 16, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed PROOT_LOADER_ABI length: %w", err)
	}

	data := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), int(length))
	return loader.UnmarshalABI(data)
}

// mapSegments maps each PT_LOAD segment of an image, read from fd, at
// its specified virtual address, page-aligning the mmap per the ELF
// rule that p_vaddr and p_offset agree modulo the page size.
func mapSegments(segs []loader.Segment, fd int) error {
	for _, seg := range segs {
		if err := mapSegment(seg, fd); err != nil {
			return err
		}
	}
	return nil
}

func mapSegment(seg loader.Segment, fd int) error {
	prot := uintptr(0)
	if seg.Flags&0x4 != 0 { // PF_R
		prot |= unix.PROT_READ
	}
	if seg.Flags&0x2 != 0 { // PF_W
		prot |= unix.PROT_WRITE
	}
	if seg.Flags&0x1 != 0 { // PF_X
		prot |= unix.PROT_EXEC
	}

	alignedVaddr := seg.Vaddr &^ uint64(pageSize-1)
	pageOff := seg.Vaddr - alignedVaddr
	alignedOff := seg.Offset - pageOff
	mapLen := seg.Filesz + pageOff

	if mapLen > 0 {
		if err := mmapFixed(alignedVaddr, mapLen, prot, unix.MAP_PRIVATE|unix.MAP_FIXED, fd, int64(alignedOff)); err != nil {
			return fmt.Errorf("proot-loader: mmap segment at %#x: %w", seg.Vaddr, err)
		}
	}

	if seg.Memsz > seg.Filesz {
		zeroTail(seg.Vaddr+seg.Filesz, seg.Vaddr+seg.Memsz, prot)
	}

	return nil
}

// zeroTail zeros the BSS portion of a segment: bytes within the last
// file-backed page past Filesz (already mapped, needs memset), and any
// further whole pages up to Memsz (not yet mapped, needs an anonymous
// mapping).
func zeroTail(start, end uint64, prot uintptr) {
	pageEnd := (start + pageSize - 1) &^ uint64(pageSize-1)
	if pageEnd > end {
		pageEnd = end
	}
	if pageEnd > start {
		tail := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(start))), int(pageEnd-start))
		for i := range tail {
			tail[i] = 0
		}
	}
	if end > pageEnd {
		_ = mmapFixed(pageEnd, end-pageEnd, prot, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_FIXED, -1, 0)
	}
}

// mmapFixed issues a raw mmap(2) at an exact virtual address. The
// x/sys/unix helper (unix.Mmap) always lets the kernel choose the
// base address and hands back a []byte, which is unusable here: every
// PT_LOAD segment must land at the address its own program header
// names, so this goes straight to Syscall6.
func mmapFixed(addr uint64, length uint64, prot uintptr, flags int, fd int, offset int64) error {
	_, _, errno := unix.Syscall6(unix.SYS_MMAP, uintptr(addr), uintptr(length), prot, uintptr(flags), uintptr(fd), uintptr(offset))
	if errno != 0 {
		return errno
	}
	return nil
}

func envInt(name string) (int, error) {
	v := os.Getenv(name)
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("proot-loader: %s=%q: %w", name, v, err)
	}
	return n, nil
}
