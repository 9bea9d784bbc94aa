package fsstore

import "github.com/GoCodeAlone/pipeforge/canon"

func canonMarshal(v any) ([]byte, error) { return canon.Encode(v) }

func canonUnmarshal(b []byte, out any) error { return canon.Decode(b, out) }
