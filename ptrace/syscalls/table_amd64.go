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

// x86_64 syscall numbers for the subset this tracer understands. Not
// exhaustive -- spec.md §9 deliberately keeps the table a closed,
// data-driven set rather than open-ended polymorphism, so new syscalls
// are added here as rows, never as new handler types.
const (
	nrRead        = 0
	nrOpen        = 2
	nrStat        = 4
	nrFstat       = 5
	nrLstat       = 6
	nrAccess      = 21
	nrExecve      = 59
	nrChdir       = 80
	nrFchdir      = 81
	nrRename      = 82
	nrMkdir       = 83
	nrRmdir       = 84
	nrLink        = 86
	nrUnlink      = 87
	nrSymlink     = 88
	nrReadlink    = 89
	nrChmod       = 90
	nrChown       = 92
	nrLchown      = 94
	nrGetcwd      = 79
	nrClone       = 56
	nrFork        = 57
	nrVfork       = 58
	nrMount       = 165
	nrOpenat      = 257
	nrMkdirat     = 258
	nrFchownat    = 260
	nrUnlinkat    = 263
	nrRenameat    = 264
	nrLinkat      = 265
	nrSymlinkat   = 266
	nrReadlinkat  = 267
	nrFchmodat    = 268
	nrFaccessat   = 269
	nrRenameat2   = 316
	nrExecveat    = 322
)
