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

// Package tracer owns the ptrace event loop of spec.md §4.5: it spawns
// the root tracee, classifies every wait4 stop (syscall-entry/exit,
// clone/fork/vfork, exec, signal-delivery, termination), and hands
// syscall stops off to ptrace/handlers.Dispatcher.
//
// Grounded on the teacher's seccomp/tracer.go, which owns the analogous
// read-notification/dispatch/respond loop for a single seccomp
// notification fd; here there is one loop shared across every traced
// pid rather than one fd per container, since PTRACE_SYSCALL multiplexes
// through wait4(-1, ...) instead.
package tracer

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/nestybox/proot-go/domain"
	"github.com/nestybox/proot-go/ptrace/handlers"
	"github.com/nestybox/proot-go/ptrace/regsview"
	"github.com/nestybox/proot-go/ptrace/tracee"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// ptraceOpts are set once on the root tracee and inherited by every
// clone/fork/vfork descendant.
const ptraceOpts = unix.PTRACE_O_TRACESYSGOOD |
	unix.PTRACE_O_TRACECLONE |
	unix.PTRACE_O_TRACEFORK |
	unix.PTRACE_O_TRACEVFORK |
	unix.PTRACE_O_TRACEEXEC |
	unix.PTRACE_O_EXITKILL

// syscallTrapSignal is the stop signal PTRACE_O_TRACESYSGOOD delivers at
// a syscall-entry/exit stop: ordinary SIGTRAP with the high bit set, so
// it can never be confused with a genuine signal-delivery stop.
const syscallTrapSignal = unix.SIGTRAP | 0x80

// Tracer runs the event loop for one root tracee and its descendants.
type Tracer struct {
	VFS        domain.VFS
	Table      domain.SyscallTable
	Dispatcher *handlers.Dispatcher
	NewRegs    func() (domain.RegsView, error)
	Mem        domain.TraceeMem
	Log        *logrus.Logger

	tracees map[int]*tracee.Record
	// pending stashes wait4 results observed for a pid before its
	// Record exists: the kernel can report a freshly cloned child's
	// first stop before the parent's PTRACE_EVENT_CLONE has been
	// processed and the child registered.
	pending map[int]unix.WaitStatus

	rootPid int
}

// New builds a Tracer. Its NewRegs field is set to regsview.New, which
// constructs one fresh domain.RegsView per observed tid, since the
// register file layout carries no shared state across tracees.
func New(vfs domain.VFS, table domain.SyscallTable, dispatcher *handlers.Dispatcher, mem domain.TraceeMem, log *logrus.Logger) *Tracer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Tracer{
		VFS:        vfs,
		Table:      table,
		Dispatcher: dispatcher,
		NewRegs:    regsview.New,
		Mem:        mem,
		Log:        log,
		tracees:    make(map[int]*tracee.Record),
		pending:    make(map[int]unix.WaitStatus),
	}
}

// Launch spawns policy.Argv[0] under ptrace with the given environment
// and working directory, then runs the event loop to completion. The
// returned int is the process exit code the caller's own main() should
// use: 128+signal if the root tracee died to a signal, its own exit
// status otherwise.
func (t *Tracer) Launch(policy *domain.FsPolicy) (int, error) {
	cmd := exec.Command(policy.Argv[0], policy.Argv[1:]...)
	if len(policy.Argv) > 1 {
		cmd.Args = policy.Argv
	}
	cmd.Env = policy.Envp
	cmd.Dir = policy.InitialCwd
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Ptrace: true}

	if err := cmd.Start(); err != nil {
		return 1, fmt.Errorf("tracer: spawn root tracee: %w", err)
	}
	pid := cmd.Process.Pid
	t.rootPid = pid

	var ws unix.WaitStatus
	if _, err := unix.Wait4(pid, &ws, 0, nil); err != nil {
		return 1, fmt.Errorf("tracer: wait for initial stop: %w", err)
	}
	if !ws.Stopped() {
		return 1, fmt.Errorf("tracer: root tracee did not stop at TRACEME (status %v)", ws)
	}

	if err := unix.PtraceSetOptions(pid, ptraceOpts); err != nil {
		return 1, fmt.Errorf("tracer: set ptrace options: %w", err)
	}

	regs, err := t.NewRegs()
	if err != nil {
		return 1, fmt.Errorf("tracer: allocate register view: %w", err)
	}
	fsState := domain.NewFsState(policy.InitialCwd)
	t.tracees[pid] = tracee.New(pid, 0, regs, t.Mem, fsState)

	if err := unix.PtraceSyscall(pid, 0); err != nil {
		return 1, fmt.Errorf("tracer: resume root tracee: %w", err)
	}

	return t.loop()
}

// loop drains wait4(-1, ...) until no tracee remains, dispatching each
// stop per spec.md §4.5's state machine.
func (t *Tracer) loop() (int, error) {
	exitCode := 0

	for len(t.tracees) > 0 {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(-1, &ws, 0, nil)
		if err != nil {
			if err == unix.ECHILD {
				break
			}
			if err == unix.EINTR {
				continue
			}
			return exitCode, fmt.Errorf("tracer: wait4: %w", err)
		}

		rec, known := t.tracees[pid]
		if !known {
			// Either the root tracee's own very first TRACEME stop
			// (already consumed in Launch, so this branch shouldn't see
			// it again) or a clone child observed before its
			// PTRACE_EVENT_CLONE was processed. Stash it; handleCloneEvent
			// will replay it once the Record exists.
			t.pending[pid] = ws
			continue
		}

		if code, terminal := t.handleStop(rec, ws); terminal {
			if rec.Pid == t.rootPid {
				exitCode = code
			}
		}
	}

	return exitCode, nil
}

// handleStop dispatches one wait4 status for a known tracee. The
// (code, true) return means rec has exited/been killed and was removed
// from t.tracees.
func (t *Tracer) handleStop(rec *tracee.Record, ws unix.WaitStatus) (int, bool) {
	switch {
	case ws.Exited():
		delete(t.tracees, rec.Pid)
		rec.Status = tracee.ExitedZombie
		return ws.ExitStatus(), true

	case ws.Signaled():
		delete(t.tracees, rec.Pid)
		rec.Status = tracee.ExitedZombie
		return 128 + int(ws.Signal()), true

	case !ws.Stopped():
		return 0, false
	}

	sig := ws.StopSignal()

	switch {
	case sig == syscallTrapSignal:
		t.handleSyscallStop(rec)

	case sig == unix.SIGTRAP && isCloneEvent(ws):
		t.handleCloneEvent(rec)

	case sig == unix.SIGTRAP && ws.TrapCause() == unix.PTRACE_EVENT_EXEC:
		// The real post-exec syscall-exit stop (ordinary
		// syscallTrapSignal) follows immediately; nothing to do here
		// but resume into it.
		t.resume(rec, 0)

	case sig == unix.SIGTRAP:
		// A bare SIGTRAP not carrying a recognized event -- resume
		// without delivering it.
		t.resume(rec, 0)

	case sig == unix.SIGSTOP && rec.Status == tracee.AllocatedBeforeFirstStop:
		// A new clone/fork/vfork child starts with a ptrace-generated
		// SIGSTOP; it is resumed without delivering that signal.
		t.resume(rec, 0)

	default:
		// A signal-delivery stop is transient: it must not clobber the
		// entry/exit state handleSyscallStop relies on to classify the
		// next syscallTrapSignal stop, so the prior Status is restored
		// once the signal has been forwarded.
		prior := rec.Status
		rec.Status = tracee.SignalDelivery
		rec.LastStopSignal = int(sig)
		t.resume(rec, int(sig))
		rec.Status = prior
	}

	return 0, false
}

func isCloneEvent(ws unix.WaitStatus) bool {
	switch ws.TrapCause() {
	case unix.PTRACE_EVENT_CLONE, unix.PTRACE_EVENT_FORK, unix.PTRACE_EVENT_VFORK:
		return true
	default:
		return false
	}
}

func (t *Tracer) resume(rec *tracee.Record, signo int) {
	if err := unix.PtraceSyscall(rec.Pid, signo); err != nil && err != unix.ESRCH {
		t.Log.WithError(err).WithField("pid", rec.Pid).Warn("tracer: PTRACE_SYSCALL resume failed")
	}
}

// handleSyscallStop classifies a syscallTrapSignal stop as entry or
// exit from rec's own prior Status, per spec.md §4.5: a tracee
// alternates entry/exit on every syscall-trap stop it receives.
func (t *Tracer) handleSyscallStop(rec *tracee.Record) {
	if err := rec.Regs.ReadRegs(rec.Pid); err != nil {
		t.Log.WithError(err).WithField("pid", rec.Pid).Error("tracer: read regs at syscall stop")
		t.resume(rec, 0)
		return
	}

	if rec.Status != tracee.SysEnter {
		rec.EnterSyscall()
		if err := t.Dispatcher.HandleEntry(rec); err != nil {
			t.Log.WithError(err).WithField("pid", rec.Pid).Error("tracer: entry handler failed")
		}
	} else {
		if err := t.Dispatcher.HandleExit(rec); err != nil {
			t.Log.WithError(err).WithField("pid", rec.Pid).Error("tracer: exit handler failed")
		}
		rec.ExitSyscall()
	}

	t.resume(rec, 0)
}

// handleCloneEvent registers the new tracee spawned by a clone/fork/
// vfork and resumes the parent. Per spec.md §3's fs_state invariant,
// the child shares the parent's FsState only when created with
// CLONE_FS (plain clone(2) threads); fork/vfork/clone-without-FS get
// their own copy seeded from the parent's current cwd.
func (t *Tracer) handleCloneEvent(rec *tracee.Record) {
	childPid64, err := unix.PtraceGetEventMsg(rec.Pid)
	if err != nil {
		t.Log.WithError(err).WithField("pid", rec.Pid).Error("tracer: get clone event msg")
		t.resume(rec, 0)
		return
	}
	childPid := int(childPid64)

	// Only clone(2) carries a flags word in its first argument.
	entry, isKnown := t.Table.Lookup(rec.SavedNo)
	shareFS := rec.HaveSavedArgs && isKnown && entry.Name == "clone" &&
		rec.SavedArgs[0]&uint64(unix.CLONE_FS) != 0
	fsState := rec.FsState
	if !shareFS {
		fsState = domain.NewFsState(rec.FsState.Cwd())
	}

	regs, err := t.NewRegs()
	if err != nil {
		t.Log.WithError(err).Error("tracer: allocate register view for child")
		t.resume(rec, 0)
		return
	}
	child := tracee.New(childPid, rec.Pid, regs, t.Mem, fsState)
	t.tracees[childPid] = child

	t.resume(rec, 0)

	if pendingWS, ok := t.pending[childPid]; ok {
		delete(t.pending, childPid)
		t.handleStop(child, pendingWS)
		return
	}
	t.resume(child, 0)
}
