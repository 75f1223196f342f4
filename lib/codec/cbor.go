// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// encMode encodes with Core Deterministic Encoding (RFC 8949 §4.2):
// sorted map keys, smallest integer encoding, no indefinite-length
// items. Frame payloads for equal messages are byte-identical, which
// keeps size checks against the frame budget stable.
var encMode cbor.EncMode

// decMode accepts standard CBOR and ignores unknown fields so that a
// newer peer can add optional fields without breaking an older one.
// Payload sizes are already bounded by the frame budget; the nesting
// and element limits below only reject pathological payloads.
var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Messages never use non-string map keys. Any-typed targets
		// decode into map[string]any instead of the CBOR default
		// map[interface{}]interface{}.
		DefaultMapType:   reflect.TypeOf(map[string]any(nil)),
		MaxNestedLevels:  16,
		MaxArrayElements: 4096,
		MaxMapPairs:      4096,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes one CBOR data item from data into v. Trailing
// bytes after the item are an error: a frame payload holds exactly one
// message.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Wellformed reports whether data is exactly one well-formed CBOR item.
func Wellformed(data []byte) error {
	return decMode.Wellformed(data)
}

// Diagnose returns the CBOR diagnostic notation (RFC 8949 §8) for
// data. Used to log payloads that fail to decode into the expected
// message type.
func Diagnose(data []byte) (string, error) {
	return cbor.Diagnose(data)
}
