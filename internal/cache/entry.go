package cache

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"
)

// Entry is a cached compilation result: the object file bytes plus the
// console output the compiler produced when it was built. Only
// successful compilations are ever stored, so ExitCode is retained for
// faithful replay but is always zero in practice.
type Entry struct {
	// Object holds the compiled object file bytes
	Object []byte

	// Stdout is the compiler's captured standard output
	Stdout []byte

	// Stderr is the compiler's captured standard error
	Stderr []byte

	// ExitCode is the exit status of the originating compile
	ExitCode int
}

// encode serializes the entry for storage.
func (e *Entry) encode() ([]byte, error) {
	var buf bytes.Buffer

	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return nil, fmt.Errorf("failed to encode cache entry: %w", err)
	}

	return buf.Bytes(), nil
}

// decodeEntry deserializes an entry previously written by encode.
func decodeEntry(r io.Reader) (*Entry, error) {
	var entry Entry

	if err := gob.NewDecoder(r).Decode(&entry); err != nil {
		return nil, fmt.Errorf("failed to decode cache entry: %w", err)
	}

	return &entry, nil
}
