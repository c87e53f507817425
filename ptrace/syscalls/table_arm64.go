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

// aarch64 syscall numbers. Unlike x86_64, the generic/aarch64 ABI never
// had standalone open/stat/access/rename/mkdir/rmdir/link/unlink/
// symlink/readlink/chmod/chown syscalls -- glibc always lowers those to
// the *at() family with AT_FDCWD, so this table only has *at() entries
// plus the handful of non-*at syscalls aarch64 does keep (chdir,
// fchdir, mount, execve, clone, getcwd).
const (
	nrGetcwd     = 17
	nrMkdirat    = 34
	nrUnlinkat   = 35
	nrSymlinkat  = 36
	nrLinkat     = 37
	nrRenameat   = 38
	nrMount      = 40
	nrFaccessat  = 48
	nrChdir      = 49
	nrFchdir     = 50
	nrFchmodat   = 53
	nrFchownat   = 54
	nrOpenat     = 56
	nrReadlinkat = 78
	nrFstatat    = 79
	nrClone      = 220
	nrExecve     = 221
	nrRenameat2  = 276
	nrExecveat   = 281
)
