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

// FsPolicy is the immutable configuration resolved once at startup: guest
// root, binding list, default cwd and the initial argv/envp handed to the
// root tracee. See spec.md §3 "FsPolicy" and §6 "External interfaces".
type FsPolicy struct {
	RootfsHost string
	Bindings   []Binding
	InitialCwd string
	Argv       []string
	Envp       []string
}
