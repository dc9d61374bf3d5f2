package feddfg

import (
	"crypto/hkdf"
	"crypto/sha256"

	"github.com/google/uuid"
)

// NewSessionID generates a new session ID bound to the two participants.
// The session ID domain-separates all hash-to-curve operations of a run, so
// blinded pair encodings from different runs never collide.
func NewSessionID(keyholder, contributor string) []byte {
	sidprime := uuid.New().String()

	info := "feddfg" + "|" + keyholder + "|" + contributor

	sid, err := hkdf.Key(sha256.New, []byte(sidprime), nil, info, sha256.New().Size())
	if err != nil {
		panic(err)
	}

	return sid
}
