package delta

import json "github.com/goccy/go-json"

// Range is a cursor selection in the sender's local document coordinates.
// Index is the anchor offset and Index+Length the head offset; a collapsed
// cursor has Length zero. Offsets are never validated against the actual
// document length server-side.
type Range struct {
	Index  int `json:"index" cbor:"index"`
	Length int `json:"length" cbor:"length"`
}

func (r Range) MarshalBinary() ([]byte, error) {
	return json.Marshal(r)
}

func (r *Range) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, r)
}
