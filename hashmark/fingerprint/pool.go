package fingerprint

import (
	"crypto/sha256"
	"hash"
	"sync"
)

var hashers = sync.Pool{
	New: func() interface{} {
		return sha256.New()
	},
}

func getHasher() hash.Hash {
	return hashers.Get().(hash.Hash)
}

func putHasher(h hash.Hash) {
	h.Reset()
	hashers.Put(h)
}
