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

// Package tracee implements the per-tracee state machine of spec.md
// §3 "Tracee record" and §4.5 "Tracee state machine". A Record is owned
// exclusively by the tracer's single-threaded event loop; nothing here
// takes locks of its own beyond what domain.FsState already provides for
// shared cwd.
package tracee

import (
	"github.com/nestybox/proot-go/domain"
)

// Status mirrors spec.md §3's tracee status enum.
type Status int

const (
	AllocatedBeforeFirstStop Status = iota
	SysEnter
	SysExit
	SignalDelivery
	ExitedZombie
)

func (s Status) String() string {
	switch s {
	case AllocatedBeforeFirstStop:
		return "allocated"
	case SysEnter:
		return "sys-enter"
	case SysExit:
		return "sys-exit"
	case SignalDelivery:
		return "signal-delivery"
	case ExitedZombie:
		return "exited"
	default:
		return "unknown"
	}
}

// PendingExec tracks the multi-step execve/loader handoff of spec.md
// §4.4: the tracer substitutes the bootstrap loader's host path at
// execve-entry, then -- at the exit stop of the substituted execve, if
// it succeeded, before the bootstrap runs an instruction -- writes the
// ABI-description blob the bootstrap reads to perform its own mapping.
type PendingExec struct {
	// GuestPath is the guest path of the program that was actually
	// requested (before loader substitution).
	GuestPath string
	// HostPath is its resolved host path; once the loader substitution
	// runs, this becomes the bootstrap's own host path.
	HostPath string
	// Blob is the ABI description the tracer stages into the
	// bootstrap's address space once the substituted execve succeeds.
	Blob []byte
	// AwaitingBootstrap is set at execve-entry once the bootstrap
	// substitution has been staged, telling the execve-exit handler to
	// write Blob into the new image; it is false when no substitution
	// was staged.
	AwaitingBootstrap bool
}

// Record is one tracee's state, keyed by OS pid (== tid, since ptrace
// operates per-task).
type Record struct {
	Pid    int
	Status Status

	// ParentRef is the pid of the tracee that created this one (clone/
	// fork/vfork/exec), 0 for the root tracee.
	ParentRef int

	FsState *domain.FsState

	Regs domain.RegsView
	Mem  domain.TraceeMem

	// SavedArgs holds the register values captured at syscall-entry so
	// they can be restored/compared at the matching syscall-exit; see
	// spec.md §3 invariant "between syscall-entry and matching
	// syscall-exit, saved_syscall_args is populated".
	SavedArgs    [6]uint64
	SavedNo      uint64
	HaveSavedArgs bool

	PendingExec *PendingExec

	// LastStopSignal is the signal number that produced the most recent
	// SignalDelivery stop, valid only while Status == SignalDelivery.
	LastStopSignal int

	// PendingChdirGuest holds the canonical guest-side target of an
	// in-flight chdir, computed at entry but only committed to
	// FsState at a successful exit (spec.md §4.3 exit handler step 5).
	PendingChdirGuest string

	// DeniedErrno is non-zero when the entry handler decided to deny
	// the in-flight syscall (translation failure); the syscall number
	// was rewritten to an invalid one so the kernel short-circuits it,
	// and the exit handler must overwrite the return register with
	// -DeniedErrno instead of trusting the kernel's own (ENOSYS)
	// result.
	DeniedErrno int
}

// New allocates a Record for a freshly observed tid. fsState is used
// as given: the caller passes either a fresh owned FsState or the
// parent's own, per spec.md §3's fs_state invariant.
func New(pid int, parentRef int, regs domain.RegsView, mem domain.TraceeMem, fsState *domain.FsState) *Record {
	return &Record{
		Pid:       pid,
		Status:    AllocatedBeforeFirstStop,
		ParentRef: parentRef,
		FsState:   fsState,
		Regs:      regs,
		Mem:       mem,
	}
}

// EnterSyscall transitions to SysEnter and snapshots argument registers.
func (r *Record) EnterSyscall() {
	r.Status = SysEnter
	r.SavedNo = r.Regs.SyscallNo()
	for i := 0; i < 6; i++ {
		r.SavedArgs[i] = r.Regs.Arg(i)
	}
	r.HaveSavedArgs = true
	r.Mem.ScratchReset(r.Pid)
}

// ExitSyscall transitions to SysExit and clears the saved-args snapshot,
// per spec.md §3's invariant that saved_syscall_args is cleared on exit.
func (r *Record) ExitSyscall() {
	r.Status = SysExit
	r.HaveSavedArgs = false
}

// RestoreSavedArgs rewrites the argument registers back to what was
// captured at entry -- used by the exit handler's belt-and-suspenders
// restore (spec.md §4.3 exit handler step 1).
func (r *Record) RestoreSavedArgs() {
	if !r.HaveSavedArgs {
		return
	}
	for i := 0; i < 6; i++ {
		r.Regs.SetArg(i, r.SavedArgs[i])
	}
}

// Cwd returns this tracee's guest-visible current working directory.
func (r *Record) Cwd() string {
	return r.FsState.Cwd()
}
