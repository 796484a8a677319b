package reactive

import (
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// collectionHandle is satisfied by every *Collection[K, V] regardless of its
// type parameters, letting Map's variadic args reference sibling collections
// by identity rather than by value.
type collectionHandle interface {
	Name() string
}

// fingerprintArgs produces a short, deterministic, order-sensitive digest of
// a Map call's extra arguments: collection-handle args contribute their
// name, everything else contributes its canonical JSON encoding. Two calls
// with equal (source, mapper name, args) therefore always derive the same
// collection name (spec §4.4 point 1).
func fingerprintArgs(args []any) string {
	if len(args) == 0 {
		return "noargs"
	}
	parts := make([]string, 0, len(args))
	for _, a := range args {
		if ch, ok := a.(collectionHandle); ok {
			parts = append(parts, "collection:"+ch.Name())
			continue
		}
		b, err := json.Marshal(a)
		if err != nil {
			parts = append(parts, fmt.Sprintf("unencodable:%T", a))
			continue
		}
		parts = append(parts, string(b))
	}
	// Argument order is part of the mapper's call contract, so this is
	// deliberately NOT sorted — only stabilized against map-valued args
	// that json.Marshal already renders with sorted keys.
	joined := ""
	for i, p := range parts {
		if i > 0 {
			joined += "\x1f"
		}
		joined += p
	}
	sum := blake2b.Sum256([]byte(joined))
	return fmt.Sprintf("%x", sum[:8])
}
