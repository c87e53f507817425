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
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	elfClass64  = 2
	elfData2LSB = 1
	etExec      = 2
	etDyn       = 3
	emX8664     = 62
	ptLoad      = 1
	ptInterp    = 3
	ptPhdr      = 6
)

// buildMinimalELF hand-assembles a minimal ELF64 image: one PT_LOAD
// segment covering the whole file, a PT_PHDR entry, and (if interp is
// non-empty) a PT_INTERP segment naming it. Good enough to exercise
// ParseImage without a real linker -- debug/elf only parses, it has no
// writer to round-trip through.
func buildMinimalELF(t *testing.T, etype uint16, interp string) []byte {
	t.Helper()

	const ehsize = 64
	const phentsize = 56

	nphdrs := 2
	if interp != "" {
		nphdrs = 3
	}

	phoff := uint64(ehsize)
	dataOff := phoff + uint64(nphdrs*phentsize)

	interpBytes := append([]byte(interp), 0)
	dataLen := uint64(len(interpBytes))
	totalLen := dataOff + dataLen

	buf := make([]byte, totalLen)

	buf[0], buf[1], buf[2], buf[3] = 0x7f, 'E', 'L', 'F'
	buf[4] = elfClass64
	buf[5] = elfData2LSB
	buf[6] = 1 // EI_VERSION

	binary.LittleEndian.PutUint16(buf[16:], etype)
	binary.LittleEndian.PutUint16(buf[18:], emX8664)
	binary.LittleEndian.PutUint32(buf[20:], 1) // e_version
	binary.LittleEndian.PutUint64(buf[24:], 0x401000)
	binary.LittleEndian.PutUint64(buf[32:], phoff)
	binary.LittleEndian.PutUint64(buf[40:], 0) // e_shoff
	binary.LittleEndian.PutUint16(buf[52:], ehsize)
	binary.LittleEndian.PutUint16(buf[54:], phentsize)
	binary.LittleEndian.PutUint16(buf[56:], uint16(nphdrs))

	writePhdr := func(i int, ptype uint32, offset, vaddr, filesz, memsz uint64, flags uint32) {
		p := buf[phoff+uint64(i*phentsize):]
		binary.LittleEndian.PutUint32(p[0:], ptype)
		binary.LittleEndian.PutUint32(p[4:], flags)
		binary.LittleEndian.PutUint64(p[8:], offset)
		binary.LittleEndian.PutUint64(p[16:], vaddr)
		binary.LittleEndian.PutUint64(p[24:], vaddr)
		binary.LittleEndian.PutUint64(p[32:], filesz)
		binary.LittleEndian.PutUint64(p[40:], memsz)
		binary.LittleEndian.PutUint64(p[48:], 0x1000)
	}

	writePhdr(0, ptLoad, 0, 0x400000, totalLen, totalLen, 5 /* PF_R|PF_X */)
	writePhdr(1, ptPhdr, phoff, 0x400000+phoff, uint64(nphdrs*phentsize), uint64(nphdrs*phentsize), 4)

	if interp != "" {
		copy(buf[dataOff:], interpBytes)
		writePhdr(2, ptInterp, dataOff, 0x400000+dataOff, dataLen, dataLen, 4)
	}

	return buf
}

func writeTempELF(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "image")
	require.NoError(t, os.WriteFile(path, data, 0755))
	return path
}

func TestParseImageStaticExecutable(t *testing.T) {
	path := writeTempELF(t, buildMinimalELF(t, etExec, ""))

	img, err := ParseImage(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x401000), img.Entry)
	assert.Equal(t, "", img.Interp)
	assert.False(t, img.IsPIE)
	require.Len(t, img.Segments, 1)
	assert.Equal(t, uint32(5), img.Segments[0].Flags)
}

func TestParseImageDynamicExecutableHasInterp(t *testing.T) {
	path := writeTempELF(t, buildMinimalELF(t, etDyn, "/lib64/ld-linux-x86-64.so.2"))

	img, err := ParseImage(path)
	require.NoError(t, err)
	assert.True(t, img.IsPIE)
	assert.Equal(t, "/lib64/ld-linux-x86-64.so.2", img.Interp)
	assert.NotZero(t, img.PhdrVaddr)
	assert.Equal(t, 56, img.Phentsize)
}

func TestParseImageMissingFile(t *testing.T) {
	_, err := ParseImage(filepath.Join(t.TempDir(), "does-not-exist"))
	assert.Error(t, err)
}
