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

// Package process checks a tracee's Linux capabilities, used to gate
// syscalls spec.md §4.3 calls out for privilege-sensitive handling
// (mount(2) requires CAP_SYS_ADMIN in the tracee's own user namespace
// before the tracer honors it).
//
// Grounded on the teacher's process.(*process).initCapability /
// isCapabilitySet (process/process.go in the original), which wrapped
// github.com/nestybox/sysbox-libs/capability -- an internal Nestybox
// fork of the same API shape (NewPid2/Load/Get/CapType/EFFECTIVE).
// That fork isn't fetchable outside Nestybox's module proxy, so this
// uses the upstream github.com/syndtr/gocapability/capability package
// the fork itself tracks.
package process

import (
	"github.com/syndtr/gocapability/capability"
)

// HasSysAdmin reports whether pid currently holds CAP_SYS_ADMIN in its
// effective set.
func HasSysAdmin(pid uint32) bool {
	return hasCapability(pid, capability.CAP_SYS_ADMIN)
}

// HasSysChroot reports whether pid currently holds CAP_SYS_CHROOT in
// its effective set. The tracer does not call it: it never chroots.
func HasSysChroot(pid uint32) bool {
	return hasCapability(pid, capability.CAP_SYS_CHROOT)
}

func hasCapability(pid uint32, what capability.Cap) bool {
	caps, err := capability.NewPid2(int(pid))
	if err != nil {
		return false
	}
	if err := caps.Load(); err != nil {
		return false
	}
	return caps.Get(capability.EFFECTIVE, what)
}
