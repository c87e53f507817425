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

// Package handlers implements the per-syscall entry/exit translation
// described in spec.md §4.3: a single data-driven dispatcher keyed off
// domain.SyscallTable, rather than one bespoke handler function per
// syscall -- the "closed set of handler variants dispatched by an
// integer tag" shape spec.md §9 calls for, grounded on how the
// teacher's seccomp/tracer.go dispatches on req.Data.Syscall into a
// handful of processFoo functions sharing the same notification
// plumbing.
package handlers

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/nestybox/proot-go/domain"
	"github.com/nestybox/proot-go/loader"
	"github.com/nestybox/proot-go/process"
	"github.com/nestybox/proot-go/ptrace/syscalls"
	"github.com/nestybox/proot-go/ptrace/tracee"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const pathMax = 4096

// loaderBlobAddr is the fixed virtual address the bootstrap's ABI blob
// is staged at, chosen deep enough in the address space to sit clear
// of a PIE image's typical mmap_min_addr..TASK_SIZE load range. It is
// baked into both this package (which mmaps and writes it into the
// freshly exec'd bootstrap) and the PROOT_LOADER_ABI value the
// bootstrap itself parses, so the two never need to renegotiate it.
const loaderBlobAddr = 0x6f6f6f000000

// Dispatcher translates syscall arguments at the entry and exit stops
// of one syscall, per rec's saved entry-time state.
type Dispatcher struct {
	VFS    domain.VFS
	Table  domain.SyscallTable
	Loader *loader.Loader
	Log    *logrus.Logger
}

func New(vfs domain.VFS, table domain.SyscallTable, ld *loader.Loader, log *logrus.Logger) *Dispatcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Dispatcher{VFS: vfs, Table: table, Loader: ld, Log: log}
}

// HandleEntry runs at a syscall-entry stop, after rec.EnterSyscall has
// snapshotted the original registers. A nil error means the tracee may
// be resumed. A non-nil error means a ptrace/memory operation itself
// failed (an ordinary translation failure is instead turned into a
// denied syscall by deny); the tracer logs it and resumes the tracee.
func (d *Dispatcher) HandleEntry(rec *tracee.Record) error {
	entry, ok := d.Table.Lookup(rec.SavedNo)
	if !ok {
		return nil
	}

	needsScratch := false
	for _, a := range entry.Args {
		if a.Role == domain.ArgPathIn {
			needsScratch = true
			break
		}
	}
	if needsScratch {
		if _, err := rec.Mem.Scratch(rec.Pid, rec.Regs); err != nil {
			return err
		}
	}

	for i, spec := range entry.Args {
		if spec.Role != domain.ArgPathIn {
			continue
		}
		if err := d.translatePathArg(rec, entry, i, spec); err != nil {
			return d.deny(rec, err)
		}
	}

	switch entry.Kind {
	case domain.KindChdir:
		d.prepareChdir(rec)
	case domain.KindMount:
		if !process.HasSysAdmin(uint32(rec.Pid)) {
			return d.deny(rec, &domain.TranslationError{Path: entry.Name, Err: syscall.EPERM})
		}
	case domain.KindExecve:
		if err := d.prepareExecve(rec, entry); err != nil {
			return err
		}
	}

	return rec.Regs.Flush(rec.Pid)
}

// HandleExit runs at the matching syscall-exit stop, before
// rec.ExitSyscall clears the saved-args snapshot.
func (d *Dispatcher) HandleExit(rec *tracee.Record) error {
	if rec.DeniedErrno != 0 {
		rec.Regs.SetReturn(int64(-rec.DeniedErrno))
		rec.DeniedErrno = 0
		return rec.Regs.Flush(rec.Pid)
	}

	entry, ok := d.Table.Lookup(rec.SavedNo)
	if !ok {
		return nil
	}

	var err error
	switch entry.Kind {
	case domain.KindExecve:
		// A successful execve leaves a fresh register file for the new
		// image, so the old arguments are not written back into it.
		d.completeExecve(rec)
		return nil
	case domain.KindChdir:
		d.completeChdir(rec)
	case domain.KindFchdir:
		d.completeFchdir(rec)
	case domain.KindGetcwd:
		err = d.completeGetcwd(rec)
	case domain.KindReadlink:
		err = d.completeReadlink(rec, entry)
	}
	if err != nil {
		return err
	}

	// Put back the argument registers the entry handler may have
	// pointed at scratch, so the tracee sees its own arguments again.
	rec.RestoreSavedArgs()
	return rec.Regs.Flush(rec.Pid)
}

// deny turns a translation failure into a denied syscall: the original
// syscall number is rewritten to an invalid one so the kernel no-ops
// it at entry (returning ENOSYS), and the real errno is stashed for
// HandleExit to substitute in its place. Any other kind of error
// (a ptrace/memory operation itself failing) is returned unchanged.
func (d *Dispatcher) deny(rec *tracee.Record, err error) error {
	var terr *domain.TranslationError
	if !errors.As(err, &terr) {
		return err
	}

	errno, _ := terr.Err.(syscall.Errno)
	rec.DeniedErrno = int(errno)
	rec.RestoreSavedArgs()
	rec.Regs.SetSyscallNo(^uint64(0))
	return rec.Regs.Flush(rec.Pid)
}

// translatePathArg reads, translates and rewrites one ArgPathIn
// argument. A *at() syscall whose dirfd is a real (non-AT_FDCWD) fd and
// whose path is relative is left untouched: that fd already refers to
// a host directory (it was itself returned by a translated open), so
// the kernel resolves the relative path correctly without the tracer's
// help.
//
// "/proc/self/{cwd,root,exe}" (and the equivalent "/proc/<pid>/..."
// spellings) are special-cased ahead of ordinary binding translation,
// per spec.md §4.1: ProcSelfOverride is consulted first, and only
// falls through to VFS.Translate when it doesn't recognize the path.
//
// open-family syscalls carrying O_NOFOLLOW in their flags argument are
// translated with DerefNever even though their table entry declares
// DerefAlways, matching spec.md §4.3's "open without O_NOFOLLOW:
// always [dereference]" -- implying the opposite when the flag is set.
func (d *Dispatcher) translatePathArg(rec *tracee.Record, entry domain.SyscallEntry, idx int, spec domain.ArgSpec) error {
	raw := rec.SavedArgs[idx]
	if raw == 0 {
		return nil
	}

	guestPath, err := rec.Mem.ReadCString(rec.Pid, uintptr(raw), pathMax)
	if err != nil {
		return err
	}

	if dirIdx, ok := nearestDirFD(entry, idx); ok {
		dirfdVal := int64(rec.SavedArgs[dirIdx])
		if dirfdVal != unix.AT_FDCWD && !filepath.IsAbs(guestPath) {
			return nil
		}
	}

	pid := uint32(rec.Pid)
	if host, ok := d.VFS.ProcSelfOverride(pid, guestPath, rec.Cwd(), d.VFS.LastExec(pid)); ok {
		return d.finishPathArg(rec, entry, idx, guestPath, host)
	}

	deref := spec.Deref
	if deref == domain.DerefAlways && hasNoFollowFlag(entry, rec) {
		deref = domain.DerefNever
	}

	host, terr := d.VFS.Translate(guestPath, rec.Cwd(), deref)
	if terr != nil {
		return terr
	}

	return d.finishPathArg(rec, entry, idx, guestPath, host)
}

func (d *Dispatcher) finishPathArg(rec *tracee.Record, entry domain.SyscallEntry, idx int, guestPath, host string) error {
	if entry.Kind == domain.KindExecve && idx == 0 {
		rec.PendingExec = &tracee.PendingExec{GuestPath: guestPath, HostPath: host}
	}
	return d.writeTranslated(rec, idx, host)
}

func nearestDirFD(entry domain.SyscallEntry, idx int) (int, bool) {
	for i := idx - 1; i >= 0; i-- {
		if entry.Args[i].Role == domain.ArgDirFD {
			return i, true
		}
	}
	return -1, false
}

// hasNoFollowFlag reports whether entry carries an ArgFlag argument
// whose saved value has O_NOFOLLOW set. Other syscalls' flag-shaped
// arguments (e.g. access(2)'s amode) never set this bit, so checking
// it unconditionally is safe across every entry that declares an
// ArgFlag role.
func hasNoFollowFlag(entry domain.SyscallEntry, rec *tracee.Record) bool {
	for i, a := range entry.Args {
		if a.Role == domain.ArgFlag {
			return rec.SavedArgs[i]&uint64(unix.O_NOFOLLOW) != 0
		}
	}
	return false
}

func (d *Dispatcher) writeTranslated(rec *tracee.Record, idx int, hostPath string) error {
	b := append([]byte(hostPath), 0)
	addr, err := rec.Mem.ScratchAlloc(rec.Pid, len(b))
	if err != nil {
		return err
	}
	if err := rec.Mem.WriteBytes(rec.Pid, addr, b); err != nil {
		return err
	}
	rec.Regs.SetArg(idx, uint64(addr))
	return nil
}

// prepareChdir computes the canonical guest-side target of an
// in-flight chdir and stashes it; the commit to FsState happens only
// on a successful exit (completeChdir), per spec.md §4.3 step 5.
func (d *Dispatcher) prepareChdir(rec *tracee.Record) {
	guestPath, err := rec.Mem.ReadCString(rec.Pid, uintptr(rec.SavedArgs[0]), pathMax)
	if err != nil {
		return
	}

	target := guestPath
	if !filepath.IsAbs(target) {
		target = filepath.Join(rec.Cwd(), target)
	} else {
		target = filepath.Clean(target)
	}
	rec.PendingChdirGuest = target
}

func (d *Dispatcher) completeChdir(rec *tracee.Record) {
	defer func() { rec.PendingChdirGuest = "" }()
	if rec.Regs.Return() != 0 || rec.PendingChdirGuest == "" {
		return
	}
	rec.FsState.SetCwd(rec.PendingChdirGuest)
}

// completeFchdir discovers fchdir's guest-side target after the fact,
// via the host fd's own /proc/<pid>/fd/<n> symlink -- fchdir carries no
// path argument to translate at entry.
func (d *Dispatcher) completeFchdir(rec *tracee.Record) {
	if rec.Regs.Return() != 0 {
		return
	}
	link, err := os.Readlink(fmt.Sprintf("/proc/%d/fd/%d", rec.Pid, rec.SavedArgs[0]))
	if err != nil {
		return
	}
	if guest, ok := d.VFS.Reverse(link); ok {
		rec.FsState.SetCwd(guest)
	}
}

// completeGetcwd overwrites the kernel's own (host-rooted) answer with
// the tracee's guest-side cwd, per spec.md §4.3's getcwd special case.
func (d *Dispatcher) completeGetcwd(rec *tracee.Record) error {
	if rec.Regs.Return() < 0 {
		return nil
	}

	buf := append([]byte(rec.Cwd()), 0)
	bufSize := rec.SavedArgs[1]
	if uint64(len(buf)) > bufSize {
		rec.Regs.SetReturn(-int64(unix.ERANGE))
		return rec.Regs.Flush(rec.Pid)
	}

	if err := rec.Mem.WriteBytes(rec.Pid, uintptr(rec.SavedArgs[0]), buf); err != nil {
		return err
	}
	rec.Regs.SetReturn(int64(len(buf)))
	return rec.Regs.Flush(rec.Pid)
}

// completeReadlink reverses an absolute host-rooted link target back
// to its guest-side spelling before the tracee ever sees it.
func (d *Dispatcher) completeReadlink(rec *tracee.Record, entry domain.SyscallEntry) error {
	ret := rec.Regs.Return()
	if ret < 0 {
		return nil
	}

	outIdx := -1
	for i, a := range entry.Args {
		if a.Role == domain.ArgPathOut {
			outIdx = i
			break
		}
	}
	if outIdx < 0 {
		return nil
	}

	addr := uintptr(rec.SavedArgs[outIdx])
	n := int(ret)
	data, err := rec.Mem.ReadBytes(rec.Pid, addr, n)
	if err != nil {
		return err
	}

	target := string(data)
	if !filepath.IsAbs(target) {
		return nil
	}
	guest, ok := d.VFS.Reverse(target)
	if !ok {
		return nil
	}
	if len(guest) > n {
		guest = guest[:n] // matches the kernel's own silent truncation
	}

	if err := rec.Mem.WriteBytes(rec.Pid, addr, []byte(guest)); err != nil {
		return err
	}
	rec.Regs.SetReturn(int64(len(guest)))
	return rec.Regs.Flush(rec.Pid)
}

// prepareExecve hands the translated target off to the loader, opens
// the target (and interpreter) images in the tracee's own fd table via
// injected syscalls, substitutes the bootstrap's own host path as the
// execve target, and augments envp with the variables cmd/proot-loader
// reads back out of its own freshly exec'd address space.
func (d *Dispatcher) prepareExecve(rec *tracee.Record, entry domain.SyscallEntry) error {
	if rec.PendingExec == nil || d.Loader == nil {
		return nil
	}

	argv, err := d.readStringVec(rec, rec.SavedArgs[1])
	if err != nil {
		argv = nil
	}
	envp, err := d.readStringVec(rec, rec.SavedArgs[2])
	if err != nil {
		envp = nil
	}

	resolve := loader.ResolveViaVFS(d.VFS, rec.Cwd())

	plan, err := d.Loader.Prepare(rec.PendingExec.GuestPath, rec.PendingExec.HostPath, argv, envp, resolve)
	if err != nil {
		d.Log.WithError(err).WithField("path", rec.PendingExec.HostPath).
			Warn("loader: execve falls through to the already-translated host path")
		rec.PendingExec = nil
		return nil
	}

	targetFd, err := d.injectOpen(rec, plan.TargetHostPath)
	if err != nil {
		d.Log.WithError(err).Warn("loader: opening target image for bootstrap failed")
		rec.PendingExec = nil
		return nil
	}

	interpFd := int64(-1)
	if plan.InterpHostPath != "" {
		interpFd, err = d.injectOpen(rec, plan.InterpHostPath)
		if err != nil {
			d.Log.WithError(err).Warn("loader: opening interpreter image for bootstrap failed")
			rec.PendingExec = nil
			return nil
		}
	}

	extraEnv := []string{
		fmt.Sprintf("PROOT_LOADER_ABI=%x:%x", loaderBlobAddr, len(plan.Blob)),
		fmt.Sprintf("PROOT_LOADER_TARGET_FD=%d", targetFd),
		fmt.Sprintf("PROOT_LOADER_INTERP_FD=%d", interpFd),
	}
	newEnvp := append(append([]string(nil), envp...), extraEnv...)

	envAddr, err := d.writeStringVecToScratch(rec, newEnvp)
	if err != nil {
		return err
	}
	rec.Regs.SetArg(2, envAddr)

	if err := d.writeTranslated(rec, 0, plan.BootstrapHostPath); err != nil {
		return err
	}

	rec.PendingExec.HostPath = plan.BootstrapHostPath
	rec.PendingExec.Blob = plan.Blob
	rec.PendingExec.AwaitingBootstrap = true
	return nil
}

// completeExecve runs once the substituted execve has itself returned
// successfully: the new (bootstrap) image is mapped but has not run a
// single instruction yet, so this is the last moment the tracer can
// stage the ABI blob the bootstrap will read out of its own memory.
func (d *Dispatcher) completeExecve(rec *tracee.Record) {
	pe := rec.PendingExec
	rec.PendingExec = nil
	if pe == nil {
		return
	}

	if err := rec.Regs.ReadRegs(rec.Pid); err != nil {
		d.Log.WithError(err).Warn("loader: read regs after execve")
		return
	}
	if rec.Regs.Return() != 0 {
		return
	}

	// Record the guest path of whatever image actually got exec'd, so a
	// later "/proc/self/exe" from this same pid resolves correctly
	// (ProcSelfOverride reads this back via VFS.LastExec).
	d.VFS.SetLastExec(uint32(rec.Pid), pe.GuestPath)

	if !pe.AwaitingBootstrap {
		return
	}

	length := pageAlign(len(pe.Blob))
	ret, err := rec.Mem.InjectSyscall(rec.Pid, rec.Regs, unix.SYS_MMAP, [6]uint64{
		uint64(loaderBlobAddr),
		uint64(length),
		uint64(unix.PROT_READ | unix.PROT_WRITE),
		uint64(unix.MAP_PRIVATE | unix.MAP_ANONYMOUS | unix.MAP_FIXED),
		^uint64(0),
		0,
	})
	if err != nil || ret < 0 {
		d.Log.WithError(err).Warn("loader: staging ABI blob into bootstrap failed")
		return
	}

	if err := rec.Mem.WriteBytes(rec.Pid, uintptr(loaderBlobAddr), pe.Blob); err != nil {
		d.Log.WithError(err).Warn("loader: writing ABI blob into bootstrap failed")
	}
}

func pageAlign(n int) int {
	const pageSize = 4096
	return (n + pageSize - 1) &^ (pageSize - 1)
}

// injectOpen opens hostPath in the tracee's own fd table via the same
// opportunistic syscall-injection technique ptrace/mem uses for
// scratch allocation, so the resulting fd survives the tracee's own
// upcoming execve (fds are a property of the process, not of any one
// running image). Because this bypasses HandleEntry's ordinary
// translate-then-continue dispatch entirely, the open is never
// re-examined as if it were the tracee's own doing.
func (d *Dispatcher) injectOpen(rec *tracee.Record, hostPath string) (int64, error) {
	b := append([]byte(hostPath), 0)
	addr, err := rec.Mem.ScratchAlloc(rec.Pid, len(b))
	if err != nil {
		return -1, err
	}
	if err := rec.Mem.WriteBytes(rec.Pid, addr, b); err != nil {
		return -1, err
	}

	ret, err := rec.Mem.InjectSyscall(rec.Pid, rec.Regs, syscalls.OpenatNr(), [6]uint64{
		uint64(unix.AT_FDCWD), uint64(addr), uint64(unix.O_RDONLY), 0, 0, 0,
	})
	if err != nil {
		return -1, err
	}
	if ret < 0 {
		return -1, fmt.Errorf("handlers: open %s for loader: errno %d", hostPath, -ret)
	}
	return ret, nil
}

// readStringVec reads a NULL-terminated array of C-string pointers
// (argv/envp shape) out of tracee memory.
func (d *Dispatcher) readStringVec(rec *tracee.Record, addr uint64) ([]string, error) {
	if addr == 0 {
		return nil, nil
	}

	var out []string
	for i := 0; i < 4096; i++ {
		raw, err := rec.Mem.ReadBytes(rec.Pid, uintptr(addr)+uintptr(i*8), 8)
		if err != nil {
			return nil, err
		}
		ptr := binary.LittleEndian.Uint64(raw)
		if ptr == 0 {
			return out, nil
		}
		s, err := rec.Mem.ReadCString(rec.Pid, uintptr(ptr), pathMax)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return nil, fmt.Errorf("handlers: argv/envp vector at %#x has no NULL terminator", addr)
}

// writeStringVecToScratch stages a NULL-terminated array of C strings
// (the shape execve's argv/envp arguments expect) into the tracee's
// scratch arena and returns the address of the pointer array itself.
func (d *Dispatcher) writeStringVecToScratch(rec *tracee.Record, vec []string) (uint64, error) {
	ptrs := make([]uint64, 0, len(vec)+1)
	for _, s := range vec {
		b := append([]byte(s), 0)
		addr, err := rec.Mem.ScratchAlloc(rec.Pid, len(b))
		if err != nil {
			return 0, err
		}
		if err := rec.Mem.WriteBytes(rec.Pid, addr, b); err != nil {
			return 0, err
		}
		ptrs = append(ptrs, uint64(addr))
	}
	ptrs = append(ptrs, 0)

	arrBytes := make([]byte, len(ptrs)*8)
	for i, p := range ptrs {
		binary.LittleEndian.PutUint64(arrBytes[i*8:], p)
	}
	arrAddr, err := rec.Mem.ScratchAlloc(rec.Pid, len(arrBytes))
	if err != nil {
		return 0, err
	}
	if err := rec.Mem.WriteBytes(rec.Pid, arrAddr, arrBytes); err != nil {
		return 0, err
	}
	return uint64(arrAddr), nil
}
