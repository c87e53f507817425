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
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseShebangBasic(t *testing.T) {
	interp, arg, ok := ParseShebang([]byte("#!/bin/sh\nrest of file ignored"))
	assert.True(t, ok)
	assert.Equal(t, "/bin/sh", interp)
	assert.Equal(t, "", arg)
}

func TestParseShebangWithArg(t *testing.T) {
	interp, arg, ok := ParseShebang([]byte("#!/usr/bin/env  python3\n"))
	assert.True(t, ok)
	assert.Equal(t, "/usr/bin/env", interp)
	assert.Equal(t, "python3", arg)
}

func TestParseShebangMultipleArgs(t *testing.T) {
	interp, arg, ok := ParseShebang([]byte("#!/bin/sh -e -x\n"))
	assert.True(t, ok)
	assert.Equal(t, "/bin/sh", interp)
	assert.Equal(t, "-e -x", arg)
}

func TestParseShebangNotAShebang(t *testing.T) {
	_, _, ok := ParseShebang([]byte{0x7f, 'E', 'L', 'F'})
	assert.False(t, ok)
}

func TestParseShebangTooShort(t *testing.T) {
	_, _, ok := ParseShebang([]byte("#"))
	assert.False(t, ok)
}

func TestParseShebangEmptyInterpreterLine(t *testing.T) {
	_, _, ok := ParseShebang([]byte("#!\n"))
	assert.False(t, ok)
}

func TestParseShebangEmbeddedNUL(t *testing.T) {
	header := []byte("#!/bin/sh\x00/bin/evil\n")
	_, _, ok := ParseShebang(header)
	assert.False(t, ok, "embedded NUL before the newline must reject the line")
}

func TestParseShebangNoNewlineWithinBudget(t *testing.T) {
	// A header that never newlines within binprmBufSize bytes is not a
	// valid shebang line, matching binfmt_script's BINPRM_BUF_SIZE cap.
	long := append([]byte("#!"), bytes.Repeat([]byte("a"), binprmBufSize)...)
	_, _, ok := ParseShebang(long)
	assert.False(t, ok)
}

func TestParseShebangTruncatesToBudget(t *testing.T) {
	// A newline past binprmBufSize is never seen: only the first
	// binprmBufSize bytes of the header are considered.
	interp := bytes.Repeat([]byte("a"), binprmBufSize)
	header := append([]byte("#!"), interp...)
	header = append(header, '\n')
	_, _, ok := ParseShebang(header)
	assert.False(t, ok)
}

func TestParseShebangNewlineWithinBudget(t *testing.T) {
	header := []byte("#!/bin/sh\n" + string(bytes.Repeat([]byte("x"), 200)))
	interp, _, ok := ParseShebang(header)
	assert.True(t, ok)
	assert.Equal(t, "/bin/sh", interp)
}
