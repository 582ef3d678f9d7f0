package analysis

import (
	"crypto/md5"
	"encoding/hex"
)

// ContentHash returns the lowercase hex MD5 digest of the UTF-8 bytes of
// text. The digest keys the analysis cache, so it must be stable across
// processes: 128 bits, 32 hex characters.
func ContentHash(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}
