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

package syscalls

import "github.com/nestybox/proot-go/domain"

func build() map[uint64]domain.SyscallEntry {
	es := []domain.SyscallEntry{
		entry("open", nrOpen, domain.KindGeneric, -1,
			pathIn(domain.DerefAlways), flag(), ignored()),

		entry("stat", nrStat, domain.KindGeneric, -1,
			pathIn(domain.DerefAlways), ignored()),

		entry("lstat", nrLstat, domain.KindGeneric, -1,
			pathIn(domain.DerefNever), ignored()),

		entry("fstat", nrFstat, domain.KindGeneric, -1,
			fd(), ignored()),

		entry("access", nrAccess, domain.KindGeneric, -1,
			pathIn(domain.DerefAlways), flag()),

		entry("execve", nrExecve, domain.KindExecve, -1,
			pathIn(domain.DerefAlways), ignored(), ignored()),

		entry("chdir", nrChdir, domain.KindChdir, -1,
			pathIn(domain.DerefAlways)),

		entry("fchdir", nrFchdir, domain.KindFchdir, -1,
			fd()),

		entry("rename", nrRename, domain.KindGeneric, -1,
			pathIn(domain.DerefNever), pathIn(domain.DerefNever)),

		entry("mkdir", nrMkdir, domain.KindGeneric, -1,
			pathIn(domain.DerefNever), ignored()),

		entry("rmdir", nrRmdir, domain.KindGeneric, -1,
			pathIn(domain.DerefNever)),

		entry("link", nrLink, domain.KindGeneric, -1,
			pathIn(domain.DerefAlways), pathIn(domain.DerefNever)),

		entry("unlink", nrUnlink, domain.KindGeneric, -1,
			pathIn(domain.DerefNever)),

		entry("symlink", nrSymlink, domain.KindGeneric, -1,
			ignored(), pathIn(domain.DerefNever)),

		entry("readlink", nrReadlink, domain.KindReadlink, -1,
			pathIn(domain.DerefNever), pathOut(0), ignored()),

		entry("chmod", nrChmod, domain.KindGeneric, -1,
			pathIn(domain.DerefAlways), ignored()),

		entry("chown", nrChown, domain.KindGeneric, -1,
			pathIn(domain.DerefAlways), ignored(), ignored()),

		entry("lchown", nrLchown, domain.KindGeneric, -1,
			pathIn(domain.DerefNever), ignored(), ignored()),

		entry("getcwd", nrGetcwd, domain.KindGetcwd, -1,
			pathOut(0), ignored()),

		entry("clone", nrClone, domain.KindClone, -1),
		entry("fork", nrFork, domain.KindClone, -1),
		entry("vfork", nrVfork, domain.KindClone, -1),

		entry("mount", nrMount, domain.KindMount, -1,
			pathIn(domain.DerefAlways), pathIn(domain.DerefAlways), ignored(), ignored(), ignored()),

		entry("openat", nrOpenat, domain.KindGeneric, 0,
			dirfd(), pathIn(domain.DerefAlways), flag(), ignored()),

		entry("mkdirat", nrMkdirat, domain.KindGeneric, 0,
			dirfd(), pathIn(domain.DerefNever), ignored()),

		entry("fchownat", nrFchownat, domain.KindGeneric, 0,
			dirfd(), pathIn(domain.DerefAlways), ignored(), ignored(), flag()),

		entry("unlinkat", nrUnlinkat, domain.KindGeneric, 0,
			dirfd(), pathIn(domain.DerefNever), flag()),

		entry("renameat", nrRenameat, domain.KindGeneric, 0,
			dirfd(), pathIn(domain.DerefNever), dirfd(), pathIn(domain.DerefNever)),

		entry("renameat2", nrRenameat2, domain.KindGeneric, 0,
			dirfd(), pathIn(domain.DerefNever), dirfd(), pathIn(domain.DerefNever), flag()),

		entry("linkat", nrLinkat, domain.KindGeneric, 0,
			dirfd(), pathIn(domain.DerefAlways), dirfd(), pathIn(domain.DerefNever), flag()),

		entry("symlinkat", nrSymlinkat, domain.KindGeneric, 1,
			ignored(), dirfd(), pathIn(domain.DerefNever)),

		entry("readlinkat", nrReadlinkat, domain.KindReadlink, 0,
			dirfd(), pathIn(domain.DerefNever), pathOut(0), ignored()),

		entry("fchmodat", nrFchmodat, domain.KindGeneric, 0,
			dirfd(), pathIn(domain.DerefAlways), ignored(), flag()),

		entry("faccessat", nrFaccessat, domain.KindGeneric, 0,
			dirfd(), pathIn(domain.DerefAlways), ignored(), flag()),

		entry("execveat", nrExecveat, domain.KindExecve, 0,
			dirfd(), pathIn(domain.DerefAlways), ignored(), ignored(), flag()),
	}

	m := make(map[uint64]domain.SyscallEntry, len(es))
	for _, e := range es {
		m[e.Nr] = e
	}
	return m
}
