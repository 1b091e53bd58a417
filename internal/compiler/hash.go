package compiler

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// cacheKey fingerprints everything that determines the compiler's
// output: the compiler's identity, the full argument list in order,
// and the preprocessed source text. Each field is length-framed before
// hashing so adjacent fields can never be confused for one another.
//
// Environment variables are deliberately not part of the key; see
// DESIGN.md.
func cacheKey(info Info, args []string, preprocessed []byte) string {
	h := sha256.New()

	write := func(b []byte) {
		var n [8]byte
		binary.LittleEndian.PutUint64(n[:], uint64(len(b)))
		h.Write(n[:])
		h.Write(b)
	}

	write([]byte(info.Kind))
	write([]byte(info.Path))

	for _, arg := range args {
		write([]byte(arg))
	}

	write(preprocessed)

	return hex.EncodeToString(h.Sum(nil))
}
