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

package main

// jumpToEntry sets the stack pointer to sp and transfers control to
// entry, never returning. Implemented in jump_amd64.s / jump_arm64.s --
// only one of which is ever compiled into a given binary per GOARCH.
func jumpToEntry(sp, entry uintptr)
