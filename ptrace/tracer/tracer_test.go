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

package tracer

import (
	"testing"

	"github.com/nestybox/proot-go/domain"
	"github.com/nestybox/proot-go/ptrace/handlers"
	"github.com/nestybox/proot-go/ptrace/tracee"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// --- minimal fakes, local to this package's tests ---

type fakeRegs struct {
	no   uint64
	args [6]uint64
	ret  int64
}

func (r *fakeRegs) ReadRegs(pid int) error      { return nil }
func (r *fakeRegs) Flush(pid int) error         { return nil }
func (r *fakeRegs) SyscallNo() uint64           { return r.no }
func (r *fakeRegs) SetSyscallNo(n uint64)       { r.no = n }
func (r *fakeRegs) Arg(i int) uint64            { return r.args[i] }
func (r *fakeRegs) SetArg(i int, v uint64)      { r.args[i] = v }
func (r *fakeRegs) Return() int64               { return r.ret }
func (r *fakeRegs) SetReturn(v int64)           { r.ret = v }
func (r *fakeRegs) InstructionPointer() uint64  { return 0 }

type fakeMem struct{}

func (fakeMem) ReadBytes(pid int, addr uintptr, n int) ([]byte, error)  { return make([]byte, n), nil }
func (fakeMem) WriteBytes(pid int, addr uintptr, data []byte) error     { return nil }
func (fakeMem) ReadCString(pid int, addr uintptr, max int) (string, error) {
	return "", nil
}
func (fakeMem) Scratch(pid int, regs domain.RegsView) (uintptr, error) { return 0, nil }
func (fakeMem) ScratchAlloc(pid int, n int) (uintptr, error)           { return 0, nil }
func (fakeMem) ScratchReset(pid int)                                  {}
func (fakeMem) InjectSyscall(pid int, regs domain.RegsView, nr uint64, args [6]uint64) (int64, error) {
	return 0, nil
}

type fakeVFS struct{}

func (fakeVFS) Translate(guestPath, cwd string, policy domain.DerefPolicy) (string, error) {
	return guestPath, nil
}
func (fakeVFS) Reverse(hostPath string) (string, bool) { return hostPath, true }
func (fakeVFS) GuestCwdToHost(guestCwd string) (string, error) {
	return guestCwd, nil
}
func (fakeVFS) Bindings() []domain.Binding { return nil }
func (fakeVFS) ProcSelfOverride(pid uint32, path, guestCwd, lastExecGuest string) (string, bool) {
	return "", false
}
func (fakeVFS) SetLastExec(pid uint32, guestExePath string) {}
func (fakeVFS) LastExec(pid uint32) string                  { return "" }

type emptyTable struct{}

func (emptyTable) Lookup(nr uint64) (domain.SyscallEntry, bool) { return domain.SyscallEntry{}, false }

func newTestTracer() (*Tracer, *tracee.Record, int) {
	const pid = 999999 // never a real pid; resume()'s PtraceSyscall fails with ESRCH, which is swallowed
	d := handlers.New(fakeVFS{}, emptyTable{}, nil, nil)
	tr := &Tracer{
		VFS:        fakeVFS{},
		Table:      emptyTable{},
		Dispatcher: d,
		NewRegs:    func() (domain.RegsView, error) { return &fakeRegs{}, nil },
		Mem:        fakeMem{},
		tracees:    make(map[int]*tracee.Record),
		pending:    make(map[int]unix.WaitStatus),
	}
	tr.Log = d.Log
	rec := tracee.New(pid, 0, &fakeRegs{}, fakeMem{}, domain.NewFsState("/"))
	tr.tracees[pid] = rec
	tr.rootPid = pid
	return tr, rec, pid
}

// --- raw WaitStatus construction matching the kernel's wait(2) encoding ---

func wsExited(code int) unix.WaitStatus      { return unix.WaitStatus(uint32(code) << 8) }
func wsSignaled(sig unix.Signal) unix.WaitStatus { return unix.WaitStatus(uint32(sig)) }
func wsStopped(sig unix.Signal) unix.WaitStatus {
	return unix.WaitStatus(0x7F | (uint32(sig) << 8))
}
func wsStoppedEvent(sig unix.Signal, event int) unix.WaitStatus {
	return unix.WaitStatus(0x7F | (uint32(sig) << 8) | (uint32(event) << 16))
}

func TestHandleStopExited(t *testing.T) {
	tr, _, pid := newTestTracer()
	code, terminal := tr.handleStop(tr.tracees[pid], wsExited(7))
	assert.True(t, terminal)
	assert.Equal(t, 7, code)
	_, stillKnown := tr.tracees[pid]
	assert.False(t, stillKnown)
}

func TestHandleStopSignaled(t *testing.T) {
	tr, _, pid := newTestTracer()
	code, terminal := tr.handleStop(tr.tracees[pid], wsSignaled(unix.SIGSEGV))
	assert.True(t, terminal)
	assert.Equal(t, 128+int(unix.SIGSEGV), code)
}

func TestHandleStopSyscallTrapTogglesEntryExit(t *testing.T) {
	tr, rec, pid := newTestTracer()

	_, terminal := tr.handleStop(rec, wsStopped(syscallTrapSignal))
	require.False(t, terminal)
	assert.Equal(t, tracee.SysEnter, tr.tracees[pid].Status)

	_, terminal = tr.handleStop(rec, wsStopped(syscallTrapSignal))
	require.False(t, terminal)
	assert.Equal(t, tracee.SysExit, tr.tracees[pid].Status)
}

func TestHandleStopSignalDelivery(t *testing.T) {
	tr, rec, _ := newTestTracer()
	_, terminal := tr.handleStop(rec, wsStopped(unix.SIGUSR1))
	require.False(t, terminal)
	// The transient SignalDelivery status must not leak past the call:
	// rec's prior status (AllocatedBeforeFirstStop here) is restored once
	// the signal has been forwarded, while LastStopSignal still records it.
	assert.Equal(t, tracee.AllocatedBeforeFirstStop, rec.Status)
	assert.Equal(t, int(unix.SIGUSR1), rec.LastStopSignal)
}

// TestHandleStopSignalDeliveryPreservesSyscallState verifies that a
// signal delivered between a syscall's entry and exit stops does not
// desync handleSyscallStop's entry/exit classification: after a SysEnter
// stop, a signal-delivery stop, and a syscallTrapSignal stop, the tracee
// must be classified as the matching SysExit -- not treated as a fresh
// SysEnter.
func TestHandleStopSignalDeliveryPreservesSyscallState(t *testing.T) {
	tr, rec, _ := newTestTracer()

	rec.Status = tracee.SysEnter

	_, terminal := tr.handleStop(rec, wsStopped(unix.SIGUSR1))
	require.False(t, terminal)
	assert.Equal(t, int(unix.SIGUSR1), rec.LastStopSignal)
	assert.Equal(t, tracee.SysEnter, rec.Status)

	_, terminal = tr.handleStop(rec, wsStopped(syscallTrapSignal))
	require.False(t, terminal)
	assert.Equal(t, tracee.SysExit, rec.Status)
}

func TestIsCloneEvent(t *testing.T) {
	assert.True(t, isCloneEvent(wsStoppedEvent(unix.SIGTRAP, unix.PTRACE_EVENT_CLONE)))
	assert.True(t, isCloneEvent(wsStoppedEvent(unix.SIGTRAP, unix.PTRACE_EVENT_FORK)))
	assert.True(t, isCloneEvent(wsStoppedEvent(unix.SIGTRAP, unix.PTRACE_EVENT_VFORK)))
	assert.False(t, isCloneEvent(wsStopped(syscallTrapSignal)))
}
