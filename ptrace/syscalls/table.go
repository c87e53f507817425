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

// Package syscalls implements domain.SyscallTable: the closed, per-
// architecture mapping from syscall number to translation metadata
// described in spec.md §4.3 and §9 "Polymorphism over syscall shape".
package syscalls

import (
	"github.com/nestybox/proot-go/domain"
)

type table struct {
	entries map[uint64]domain.SyscallEntry
}

// New builds the syscall table for the architecture this binary was
// compiled for (see build()).
func New() domain.SyscallTable {
	return &table{entries: build()}
}

func (t *table) Lookup(nr uint64) (domain.SyscallEntry, bool) {
	e, ok := t.entries[nr]
	return e, ok
}

func entry(name string, nr uint64, kind domain.SyscallKind, atIdx int, args ...domain.ArgSpec) domain.SyscallEntry {
	e := domain.SyscallEntry{Name: name, Nr: nr, Kind: kind, AtFDArgIndex: atIdx}
	for i := 0; i < len(args) && i < len(e.Args); i++ {
		e.Args[i] = args[i]
	}
	return e
}

func pathIn(policy domain.DerefPolicy) domain.ArgSpec {
	return domain.ArgSpec{Role: domain.ArgPathIn, Deref: policy}
}

func pathOut(maxLen int) domain.ArgSpec {
	return domain.ArgSpec{Role: domain.ArgPathOut, MaxLen: maxLen}
}

func dirfd() domain.ArgSpec { return domain.ArgSpec{Role: domain.ArgDirFD} }
func flag() domain.ArgSpec  { return domain.ArgSpec{Role: domain.ArgFlag} }
func fd() domain.ArgSpec    { return domain.ArgSpec{Role: domain.ArgFD} }
func ignored() domain.ArgSpec {
	return domain.ArgSpec{Role: domain.ArgIgnored}
}

const pathMax = 4096

// OpenatNr exposes the architecture's openat syscall number for
// handlers that need to inject an open of their own (loader target-fd
// acquisition), independent of the translation table's Name/Kind
// lookup machinery.
func OpenatNr() uint64 { return nrOpenat }
