package resource

import (
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Fingerprint returns the canonical stable hash of a resource's validated
// params, used as the second half of the instance-dedup key (spec §4.6):
// "hash of the parameter map with keys sorted lexically and values encoded
// canonically". Params.String() already carries the canonical encoding.
func Fingerprint(p Params) string {
	sum := blake2b.Sum256([]byte(p.String()))
	return fmt.Sprintf("%x", sum)
}
