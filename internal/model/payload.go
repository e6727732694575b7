package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// DecodeJSON dekóduje JSON s čísly jako json.Number. Čísla v payloadu tak
// projdou uložením i výpisem beze změny (celá čísla nad 2^53 se nezaokrouhlí).
func DecodeJSON(r io.Reader, dst any) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("neočekávaná data za JSON hodnotou")
	}
	return nil
}

// UnmarshalJSON je DecodeJSON nad bajty.
func UnmarshalJSON(b []byte, dst any) error {
	return DecodeJSON(bytes.NewReader(b), dst)
}

// DecodePayload načte uložený payload. Prázdný vstup je prázdný objekt.
func DecodePayload(b []byte) (map[string]any, error) {
	out := map[string]any{}
	if len(bytes.TrimSpace(b)) == 0 {
		return out, nil
	}
	if err := UnmarshalJSON(b, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}
