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

package domain

import "sync"

// FsState holds the guest-visible filesystem state of a tracee: its
// current working directory. Per §3 of the spec, a clone(2) carrying the
// shared-fs flag (CLONE_FS) causes two tracees to reference the *same*
// FsState; chdir(2)/fchdir(2) from either sibling is then observed by
// both. FsState is only ever mutated from the tracer's single-threaded
// event loop, and no other goroutine reads it, so the mutex here is only
// a correctness belt — it is not protecting against concurrent tracee
// execution (tracees are stopped at the ptrace boundary whenever
// fs_state is touched).
type FsState struct {
	mu  sync.Mutex
	cwd string
}

// NewFsState creates an owned (unshared) fs-state rooted at cwd.
func NewFsState(cwd string) *FsState {
	return &FsState{cwd: cwd}
}

func (s *FsState) Cwd() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cwd
}

func (s *FsState) SetCwd(cwd string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cwd = cwd
}
