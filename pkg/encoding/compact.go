// Package encoding provides the compact textual encodings used inside wire
// tokens.
package encoding

import (
	"github.com/eknkc/basex"
)

// compactAlphabet is the Base62 alphabet used for compact identifier
// encoding. It deliberately contains no colon, so encoded identifiers can be
// embedded directly into the watcher's colon-delimited tokens.
const compactAlphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// compact is the compact identifier encoder. It is safe for concurrent use.
var compact *basex.Encoding

func init() {
	// Initialize the encoder. The alphabet is a compile-time constant, so
	// failure here is a programming error.
	if encoding, err := basex.NewEncoding(compactAlphabet); err != nil {
		panic("unable to initialize compact identifier encoder")
	} else {
		compact = encoding
	}
}

// CompactID encodes a binary identifier (such as a watcher daemon's
// incarnation id) into its compact token form. Tokens are opaque to clients
// and compared only for equality, so no decoding direction is provided.
func CompactID(value []byte) string {
	return compact.Encode(value)
}
