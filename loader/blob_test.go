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

package loader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestABIMarshalUnmarshalRoundTrip(t *testing.T) {
	abi := &ABI{
		Entry: 0x401020,
		Segments: []Segment{
			{Offset: 0, Vaddr: 0x400000, Filesz: 0x1000, Memsz: 0x1000, Flags: 5},
		},
		Interp: &ABI{
			Entry: 0x7f0000000000,
			Segments: []Segment{
				{Offset: 0, Vaddr: 0, Filesz: 0x2000, Memsz: 0x2000, Flags: 5},
			},
		},
		Argv:      []string{"/bin/true", "-x"},
		Envp:      []string{"PATH=/usr/bin", "HOME=/root"},
		AuxPhdr:   0x400040,
		AuxPhent:  56,
		AuxPhnum:  3,
		AuxEntry:  0x401020,
		AuxExecfn: "/bin/true",
	}
	copy(abi.AuxRandom[:], "0123456789abcdef")

	blob, err := abi.Marshal()
	require.NoError(t, err)
	require.NotEmpty(t, blob)

	got, err := UnmarshalABI(blob)
	require.NoError(t, err)

	assert.Equal(t, abi.Entry, got.Entry)
	assert.Equal(t, abi.Segments, got.Segments)
	require.NotNil(t, got.Interp)
	assert.Equal(t, abi.Interp.Entry, got.Interp.Entry)
	assert.Equal(t, abi.Interp.Segments, got.Interp.Segments)
	assert.Equal(t, abi.Argv, got.Argv)
	assert.Equal(t, abi.Envp, got.Envp)
	assert.Equal(t, abi.AuxPhdr, got.AuxPhdr)
	assert.Equal(t, abi.AuxPhent, got.AuxPhent)
	assert.Equal(t, abi.AuxPhnum, got.AuxPhnum)
	assert.Equal(t, abi.AuxEntry, got.AuxEntry)
	assert.Equal(t, abi.AuxExecfn, got.AuxExecfn)
	assert.Equal(t, abi.AuxRandom, got.AuxRandom)
}

func TestABIMarshalUnmarshalStaticNoInterp(t *testing.T) {
	abi := &ABI{
		Entry:    0x401000,
		Segments: []Segment{{Offset: 0, Vaddr: 0x400000, Filesz: 0x1000, Memsz: 0x1000, Flags: 5}},
		Argv:     []string{"/bin/true"},
	}

	blob, err := abi.Marshal()
	require.NoError(t, err)

	got, err := UnmarshalABI(blob)
	require.NoError(t, err)
	assert.Nil(t, got.Interp)
	assert.Equal(t, abi.Entry, got.Entry)
}

func TestUnmarshalABIRejectsGarbage(t *testing.T) {
	_, err := UnmarshalABI([]byte("not a gob stream"))
	assert.Error(t, err)
}
