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

package syscalls

import "github.com/nestybox/proot-go/domain"

func build() map[uint64]domain.SyscallEntry {
	es := []domain.SyscallEntry{
		entry("getcwd", nrGetcwd, domain.KindGetcwd, -1,
			pathOut(0), ignored()),

		entry("mkdirat", nrMkdirat, domain.KindGeneric, 0,
			dirfd(), pathIn(domain.DerefNever), ignored()),

		entry("unlinkat", nrUnlinkat, domain.KindGeneric, 0,
			dirfd(), pathIn(domain.DerefNever), flag()),

		entry("symlinkat", nrSymlinkat, domain.KindGeneric, 1,
			ignored(), dirfd(), pathIn(domain.DerefNever)),

		entry("linkat", nrLinkat, domain.KindGeneric, 0,
			dirfd(), pathIn(domain.DerefAlways), dirfd(), pathIn(domain.DerefNever), flag()),

		entry("renameat", nrRenameat, domain.KindGeneric, 0,
			dirfd(), pathIn(domain.DerefNever), dirfd(), pathIn(domain.DerefNever)),

		entry("renameat2", nrRenameat2, domain.KindGeneric, 0,
			dirfd(), pathIn(domain.DerefNever), dirfd(), pathIn(domain.DerefNever), flag()),

		entry("mount", nrMount, domain.KindMount, -1,
			pathIn(domain.DerefAlways), pathIn(domain.DerefAlways), ignored(), ignored(), ignored()),

		entry("faccessat", nrFaccessat, domain.KindGeneric, 0,
			dirfd(), pathIn(domain.DerefAlways), ignored(), flag()),

		entry("chdir", nrChdir, domain.KindChdir, -1,
			pathIn(domain.DerefAlways)),

		entry("fchdir", nrFchdir, domain.KindFchdir, -1,
			fd()),

		entry("fchmodat", nrFchmodat, domain.KindGeneric, 0,
			dirfd(), pathIn(domain.DerefAlways), ignored(), flag()),

		entry("fchownat", nrFchownat, domain.KindGeneric, 0,
			dirfd(), pathIn(domain.DerefAlways), ignored(), ignored(), flag()),

		entry("openat", nrOpenat, domain.KindGeneric, 0,
			dirfd(), pathIn(domain.DerefAlways), flag(), ignored()),

		entry("readlinkat", nrReadlinkat, domain.KindReadlink, 0,
			dirfd(), pathIn(domain.DerefNever), pathOut(0), ignored()),

		entry("newfstatat", nrFstatat, domain.KindGeneric, 0,
			dirfd(), pathIn(domain.DerefAlways), ignored(), flag()),

		entry("clone", nrClone, domain.KindClone, -1),

		entry("execve", nrExecve, domain.KindExecve, -1,
			pathIn(domain.DerefAlways), ignored(), ignored()),

		entry("execveat", nrExecveat, domain.KindExecve, 0,
			dirfd(), pathIn(domain.DerefAlways), ignored(), ignored(), flag()),
	}

	m := make(map[uint64]domain.SyscallEntry, len(es))
	for _, e := range es {
		m[e.Nr] = e
	}
	return m
}
