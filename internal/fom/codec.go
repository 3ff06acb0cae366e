package fom

import (
	"encoding/json"

	"github.com/openrti-go/rticore/internal/rtierrors"
)

// EncodeModules serializes modules into the opaque per-module byte
// bundles carried by InsertModules and the join/create requests. The FDD
// XML form is out of scope (spec.md §1); the wire moves already-parsed
// modules in their JSON encoding.
func EncodeModules(modules []Module) ([][]byte, error) {
	out := make([][]byte, 0, len(modules))
	for _, m := range modules {
		buf, err := json.Marshal(m)
		if err != nil {
			return nil, rtierrors.New(rtierrors.CodeRTIInternalError, "encode module %q: %v", m.Name, err)
		}
		out = append(out, buf)
	}
	return out, nil
}

// DecodeModules parses the wire form produced by EncodeModules. A
// malformed bundle is a peer protocol violation, fatal to the connect
// that sent it (spec.md §7).
func DecodeModules(bufs [][]byte) ([]Module, error) {
	out := make([]Module, 0, len(bufs))
	for _, buf := range bufs {
		var m Module
		if err := json.Unmarshal(buf, &m); err != nil {
			return nil, rtierrors.New(rtierrors.CodeMessageCouldNotDecode, "module bundle: %v", err)
		}
		out = append(out, m)
	}
	return out, nil
}
