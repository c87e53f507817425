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

//go:build amd64

package regsview

import (
	"github.com/nestybox/proot-go/domain"

	"golang.org/x/sys/unix"
)

// New returns the x86_64 RegsView implementation.
func New() (domain.RegsView, error) {
	return newAmd64(), nil
}

// amd64View implements domain.RegsView over unix.PtraceRegs, the
// x86_64 user_regs_struct layout: syscall number and return value both
// live in Orig_rax/Rax, arguments in Rdi, Rsi, Rdx, R10, R8, R9 (note
// the ABI swaps R10 in for Rcx, which ptrace/syscall clobbers).
type amd64View struct {
	regs  unix.PtraceRegs
	dirty bool
}

func newAmd64() *amd64View {
	return &amd64View{}
}

func (v *amd64View) ReadRegs(pid int) error {
	if err := unix.PtraceGetRegs(pid, &v.regs); err != nil {
		return err
	}
	v.dirty = false
	return nil
}

func (v *amd64View) Flush(pid int) error {
	if !v.dirty {
		return nil
	}
	if err := unix.PtraceSetRegs(pid, &v.regs); err != nil {
		return err
	}
	v.dirty = false
	return nil
}

func (v *amd64View) SyscallNo() uint64 { return v.regs.Orig_rax }
func (v *amd64View) SetSyscallNo(n uint64) {
	v.regs.Orig_rax = n
	v.regs.Rax = n
	v.dirty = true
}

func (v *amd64View) Arg(i int) uint64 {
	switch i {
	case 0:
		return v.regs.Rdi
	case 1:
		return v.regs.Rsi
	case 2:
		return v.regs.Rdx
	case 3:
		return v.regs.R10
	case 4:
		return v.regs.R8
	case 5:
		return v.regs.R9
	default:
		return 0
	}
}

func (v *amd64View) SetArg(i int, val uint64) {
	switch i {
	case 0:
		v.regs.Rdi = val
	case 1:
		v.regs.Rsi = val
	case 2:
		v.regs.Rdx = val
	case 3:
		v.regs.R10 = val
	case 4:
		v.regs.R8 = val
	case 5:
		v.regs.R9 = val
	default:
		return
	}
	v.dirty = true
}

func (v *amd64View) Return() int64 { return int64(v.regs.Rax) }
func (v *amd64View) SetReturn(val int64) {
	v.regs.Rax = uint64(val)
	v.dirty = true
}

func (v *amd64View) InstructionPointer() uint64 { return v.regs.Rip }
