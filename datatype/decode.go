package datatype

import "github.com/fxamacker/cbor/v2"

// cborDecode is a thin wrapper so built-in type Decode methods don't each
// import fxamacker/cbor directly.
func cborDecode(b []byte, out any) error {
	return cbor.Unmarshal(b, out)
}
