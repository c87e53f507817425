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

//go:build arm64

package regsview

import (
	"github.com/nestybox/proot-go/domain"

	"golang.org/x/sys/unix"
)

// New returns the aarch64 RegsView implementation.
func New() (domain.RegsView, error) {
	return newArm64(), nil
}

// arm64View implements domain.RegsView over unix.PtraceRegs, the
// aarch64 layout: syscall number in X8 (Regs[8]), arguments in X0-X5
// (Regs[0..5]), return value in X0. aarch64 has no separate
// "orig_x0"-style shadow register the way x86_64 has Orig_rax, so the
// syscall number itself (X8) is what we rewrite to redirect a syscall --
// callers needing to preserve the original argument registers must save
// and restore them themselves (ptrace/mem's InjectSyscall does so through
// Arg/SetArg).
type arm64View struct {
	regs  unix.PtraceRegs
	dirty bool
}

func newArm64() *arm64View {
	return &arm64View{}
}

func (v *arm64View) ReadRegs(pid int) error {
	if err := unix.PtraceGetRegs(pid, &v.regs); err != nil {
		return err
	}
	v.dirty = false
	return nil
}

func (v *arm64View) Flush(pid int) error {
	if !v.dirty {
		return nil
	}
	if err := unix.PtraceSetRegs(pid, &v.regs); err != nil {
		return err
	}
	v.dirty = false
	return nil
}

func (v *arm64View) SyscallNo() uint64 { return v.regs.Regs[8] }
func (v *arm64View) SetSyscallNo(n uint64) {
	v.regs.Regs[8] = n
	v.dirty = true
}

func (v *arm64View) Arg(i int) uint64 {
	if i < 0 || i > 5 {
		return 0
	}
	return v.regs.Regs[i]
}

func (v *arm64View) SetArg(i int, val uint64) {
	if i < 0 || i > 5 {
		return
	}
	v.regs.Regs[i] = val
	v.dirty = true
}

func (v *arm64View) Return() int64 { return int64(v.regs.Regs[0]) }
func (v *arm64View) SetReturn(val int64) {
	v.regs.Regs[0] = uint64(val)
	v.dirty = true
}

func (v *arm64View) InstructionPointer() uint64 { return v.regs.Pc }
