package fingerprint

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const emptyDigest = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

func TestSumEmpty(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(emptyDigest, Sum(nil).Hex())
	assert.Equal(emptyDigest, Sum([]byte{}).Hex())

	d, n, err := SumReader(bytes.NewReader(nil))
	assert.NoError(err)
	assert.Equal(int64(0), n)
	assert.Equal(emptyDigest, d.Hex())
}

func TestSumMatchesSHA256(t *testing.T) {
	assert := assert.New(t)
	// echo -n "abc" | sha256sum
	assert.Equal("ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", Sum([]byte("abc")).Hex())

	payload := bytes.Repeat([]byte("hashmark"), 100000)
	want := sha256.Sum256(payload)
	assert.Equal(hex.EncodeToString(want[:]), Sum(payload).Hex())

	d, n, err := SumReader(bytes.NewReader(payload))
	assert.NoError(err)
	assert.Equal(int64(len(payload)), n)
	assert.Equal(Digest(want), d)
}

func TestSumDeterministic(t *testing.T) {
	payload := []byte("the same bytes every time")
	first := Sum(payload)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Sum(payload))
	}
}

func TestSumSingleBitFlip(t *testing.T) {
	payload := bytes.Repeat([]byte{0x5a}, 257)
	base := Sum(payload)
	seen := map[Digest]bool{base: true}
	for i := 0; i < len(payload)*8; i += 7 {
		flipped := append([]byte(nil), payload...)
		flipped[i/8] ^= 1 << uint(i%8)
		d := Sum(flipped)
		assert.NotEqual(t, base, d, "bit %d", i)
		assert.False(t, seen[d], "bit %d collided", i)
		seen[d] = true
	}
}

func TestSumConcurrentUse(t *testing.T) {
	payload := []byte("pooled hashers must not share state")
	want := Sum(payload)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				assert.Equal(t, want, Sum(payload))
			}
		}()
	}
	wg.Wait()
}

func TestFileBytesAreNeverTrimmed(t *testing.T) {
	assert := assert.New(t)
	padded := []byte("  video bytes \n")
	d, _, err := SumReader(bytes.NewReader(padded))
	assert.NoError(err)
	assert.Equal(Sum(padded), d)
	assert.NotEqual(Sum([]byte("video bytes")), d)
}

func TestSumRaw(t *testing.T) {
	assert := assert.New(t)

	d, err := SumRaw("  QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG \t\n")
	assert.NoError(err)
	assert.Equal(Sum([]byte("QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG")), d)

	for _, blank := range []string{"", " ", "\t\n  \r"} {
		_, err := SumRaw(blank)
		assert.True(errors.Is(err, ErrBlankInput), "%q", blank)
	}
}

func TestParseDigest(t *testing.T) {
	assert := assert.New(t)

	d, err := ParseDigest("  " + strings.ToUpper(emptyDigest) + "\n")
	assert.NoError(err)
	assert.Equal(emptyDigest, d.Hex())

	for _, bad := range []string{"", "abc", emptyDigest[:63], emptyDigest + "0", "0x" + emptyDigest[2:], strings.Repeat("zz", 32)} {
		_, err := ParseDigest(bad)
		assert.True(errors.Is(err, ErrInvalidDigest), "%q", bad)
	}
}

func TestDigestText(t *testing.T) {
	d := Sum([]byte("text"))
	text, err := d.MarshalText()
	require.NoError(t, err)

	var back Digest
	require.NoError(t, back.UnmarshalText(text))
	assert.Equal(t, d, back)
	assert.True(t, Digest{}.IsZero())
	assert.False(t, d.IsZero())
}
