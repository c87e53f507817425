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
	"strings"
)

// binprmBufSize mirrors the kernel's BINPRM_BUF_SIZE (linux/binfmts.h):
// binfmt_script only ever looks at the first 128 bytes of a script's
// header when hunting for its "#!" line.
const binprmBufSize = 128

// ParseShebang recognizes a "#!interpreter [arg]" first line, per
// spec.md §4.4's single level of script-interpreter indirection. ok is
// false for any ordinary ELF header (or anything else not starting
// with "#!"), for a header truncated to binprmBufSize without a
// newline, and for a header containing an embedded NUL before the
// first newline -- binfmt_script treats both as a malformed interpreter
// line, not a literal path component.
func ParseShebang(header []byte) (interp string, arg string, ok bool) {
	if len(header) < 2 || header[0] != '#' || header[1] != '!' {
		return "", "", false
	}

	if len(header) > binprmBufSize {
		header = header[:binprmBufSize]
	}

	line := header[2:]
	nl := bytes.IndexByte(line, '\n')
	if nl >= 0 {
		line = line[:nl]
	} else if len(header) >= binprmBufSize {
		// No newline within the kernel's interpreter-line budget: the
		// line is too long to be a valid shebang.
		return "", "", false
	}

	if bytes.IndexByte(line, 0) >= 0 {
		return "", "", false
	}

	fields := strings.Fields(string(line))
	if len(fields) == 0 {
		return "", "", false
	}

	interp = fields[0]
	if len(fields) > 1 {
		arg = strings.Join(fields[1:], " ")
	}
	return interp, arg, true
}
