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

// Package regsview abstracts reading and writing a tracee's register
// file behind domain.RegsView, with one implementation per supported
// architecture (see regsview_amd64.go, regsview_arm64.go). This mirrors
// the teacher's pattern of small per-concern files behind a narrow
// interface (domain/handler.go's HandlerIface), generalized here from
// "per emulated fs node" to "per CPU architecture".
package regsview

// New returns a RegsView for the architecture this binary was built for.
// proot-go does not emulate foreign architectures (spec.md §1
// non-goals): the tracer only ever attaches to tracees running the
// host's native ISA, so the concrete implementation is chosen at
// compile time -- see regsview_amd64.go and regsview_arm64.go, each
// guarded by a matching //go:build constraint and each defining this
// same New() symbol.
