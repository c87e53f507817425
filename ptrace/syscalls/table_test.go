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

package syscalls

import (
	"testing"

	"github.com/nestybox/proot-go/domain"
	"github.com/stretchr/testify/assert"
)

func TestExecveIsClassifiedAsExecve(t *testing.T) {
	tbl := New()
	e, ok := tbl.Lookup(nrExecve)
	assert.True(t, ok)
	assert.Equal(t, domain.KindExecve, e.Kind)
	assert.Equal(t, "execve", e.Name)
}

func TestMountTranslatesBothPaths(t *testing.T) {
	tbl := New()
	e, ok := tbl.Lookup(nrMount)
	assert.True(t, ok)
	assert.Equal(t, domain.ArgPathIn, e.Args[0].Role)
	assert.Equal(t, domain.ArgPathIn, e.Args[1].Role)
}

func TestUnknownSyscallNotFound(t *testing.T) {
	tbl := New()
	_, ok := tbl.Lookup(999999)
	assert.False(t, ok)
}
