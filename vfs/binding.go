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

package vfs

import (
	"path/filepath"
	"strings"

	"github.com/nestybox/proot-go/domain"

	iradix "github.com/hashicorp/go-immutable-radix"
)

// bindingTable indexes a binding list twice -- once by guest path, once
// by host path -- in an immutable radix tree, so that longest-prefix
// lookups (the core operation of §4.1's "binding lookup" algorithm) run
// in O(len(path)) rather than O(len(bindings)). This mirrors the way the
// teacher indexes its procfs/sysfs node table (domain/handler.go's
// HandlerDB, also an iradix.Tree) for path-prefix dispatch.
type bindingTable struct {
	byGuest *iradix.Tree
	byHost  *iradix.Tree
	order   []domain.Binding
}

// radixKey turns a clean absolute path into a byte key such that
// component boundaries are preserved (so "/foo" is never treated as a
// prefix of "/foobar") by always storing paths with a trailing "/" and
// keying lookups the same way.
func radixKey(p string) []byte {
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return []byte(p)
}

func newBindingTable(bindings []domain.Binding) *bindingTable {
	byGuest := iradix.New()
	byHost := iradix.New()

	for _, b := range bindings {
		byGuest, _, _ = byGuest.Insert(radixKey(b.GuestPath), b)

		// On an exact host_path collision, go-immutable-radix's Insert
		// simply replaces the stored value -- it has no notion of our
		// tie-break rule. Keep whichever binding has the longer
		// guest_path; on an equal-length tie, keep the one already
		// present (first inserted wins).
		key := radixKey(b.HostPath)
		if existing, ok := byHost.Get(key); ok {
			if ex := existing.(domain.Binding); len(ex.GuestPath) >= len(b.GuestPath) {
				continue
			}
		}
		byHost, _, _ = byHost.Insert(key, b)
	}

	return &bindingTable{
		byGuest: byGuest,
		byHost:  byHost,
		order:   append([]domain.Binding(nil), bindings...),
	}
}

// longestPrefix walks the radix tree's root-to-leaf prefixes of key and
// returns the binding with the longest matching prefix, path-wise. The
// go-immutable-radix package only exposes exact-match and
// prefix-iteration primitives, not "longest prefix of this key that is a
// key in the tree", so we walk key's own path components from the
// longest down, which is at most len(components) lookups -- cheap for
// filesystem paths.
func longestPrefix(t *iradix.Tree, path string) (domain.Binding, bool) {
	comps := splitClean(path)

	for i := len(comps); i >= 0; i-- {
		candidate := "/" + strings.Join(comps[:i], "/")
		if v, ok := t.Get(radixKey(candidate)); ok {
			return v.(domain.Binding), true
		}
	}

	return domain.Binding{}, false
}

func splitClean(path string) []string {
	clean := filepath.Clean(path)
	if clean == "/" || clean == "." {
		return nil
	}
	clean = strings.TrimPrefix(clean, "/")
	return strings.Split(clean, "/")
}

// guestToHost performs the binding substitution: longest guest_path
// prefix wins among bindings whose guest_path is a path-wise prefix of
// guestAbs.
func (bt *bindingTable) guestToHost(guestAbs string) (string, bool) {
	b, ok := longestPrefix(bt.byGuest, guestAbs)
	if !ok {
		return "", false
	}

	rel := strings.TrimPrefix(guestAbs, b.GuestPath)
	return filepath.Join(b.HostPath, rel), true
}

// hostToGuest is the reverse direction: longest host_path prefix wins;
// ties -- multiple bindings that produce the exact same host_path -- are
// broken by the longest guest_path, then by insertion order. Since
// go-immutable-radix's Insert just overwrites on an exact key match,
// newBindingTable resolves this tie-break itself at construction time
// rather than relying on insertion order here.
func (bt *bindingTable) hostToGuest(hostAbs string) (string, bool) {
	b, ok := longestPrefix(bt.byHost, hostAbs)
	if !ok {
		return "", false
	}

	rel := strings.TrimPrefix(hostAbs, b.HostPath)
	return filepath.Join(b.GuestPath, rel), true
}
