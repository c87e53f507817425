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
	"encoding/gob"
	"fmt"
)

// ABI is the complete description the bootstrap (cmd/proot-loader)
// needs to map a target image and jump to its entry point without ever
// running the target's own dynamic linker against host-rooted paths.
// It is never read back by the tracer once written, and never crosses
// a process boundary other than tracer -> freshly-exec'd bootstrap, so
// this is an internal wire format rather than a public one; gob is
// used for it because no serialization library in the retrieval pack
// is meant for an ad hoc tracer-private struct like this one (the
// pack's protobuf usage belongs to a gRPC service definition this
// project has no equivalent of, and regenerating .pb.go without
// running protoc isn't possible here), so the standard library is the
// pragmatic choice for this one internal boundary.
type ABI struct {
	Entry    uint64
	Segments []Segment

	// Interp describes the dynamic linker's own image, non-nil only
	// when the target is dynamically linked (PT_INTERP present).
	Interp *ABI

	Argv []string
	Envp []string

	AuxPhdr   uint64
	AuxPhent  uint64
	AuxPhnum  uint64
	AuxEntry  uint64
	AuxExecfn string
	AuxRandom [16]byte
}

func (a *ABI) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(a); err != nil {
		return nil, fmt.Errorf("loader: encode ABI blob: %w", err)
	}
	return buf.Bytes(), nil
}

func UnmarshalABI(data []byte) (*ABI, error) {
	var a ABI
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&a); err != nil {
		return nil, fmt.Errorf("loader: decode ABI blob: %w", err)
	}
	return &a, nil
}
