package jsonutil

import (
	"encoding/json"
	"io"

	"github.com/hashmark-protocol/hashmark/hashmark/util/asserts"
)

func MustEncode(obj interface{}) []byte {
	bs, err := json.Marshal(obj)
	asserts.NoErr(err)
	return bs
}

func MustEncodePretty(obj interface{}) []byte {
	bs, err := json.MarshalIndent(obj, "", "    ")
	asserts.NoErr(err)
	return bs
}

func MustDecode(b []byte, obj interface{}) {
	asserts.NoErr(json.Unmarshal(b, obj))
}

// DecodeStrict decodes a single JSON value from r and rejects unknown fields.
func DecodeStrict(r io.Reader, obj interface{}) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	return dec.Decode(obj)
}
