// Package json isolates the concrete JSON codec used for gateway and REST
// payloads behind a handful of package-level functions, the same
// indirection the teacher used to keep its wire types decoupled from
// encoding/json specifically. The concrete codec is json-iterator/go,
// configured to match encoding/json's semantics so struct tags behave the
// same way callers expect.
package json

import jsoniter "github.com/json-iterator/go"

// RawMessage defers decoding the same way json.RawMessage does.
type RawMessage = jsoniter.RawMessage

var api = jsoniter.ConfigCompatibleWithStandardLibrary

// Marshal encodes v using the library's configured codec.
func Marshal(v interface{}) ([]byte, error) {
	return api.Marshal(v)
}

// Unmarshal decodes data into v using the library's configured codec.
func Unmarshal(data []byte, v interface{}) error {
	return api.Unmarshal(data, v)
}

// Valid reports whether data is syntactically valid JSON.
func Valid(data []byte) bool {
	return api.Valid(data)
}
