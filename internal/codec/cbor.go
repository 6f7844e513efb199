package codec

import (
	"io"

	"github.com/fxamacker/cbor/v2"
)

// CBOR is the default wire codec. Frames are CBOR-encoded so that delta
// payloads can be carried as raw byte strings without the relay ever
// decoding them.
type CBOR struct{}

var _ Marshaler = CBOR{}
var _ Unmarshaler = CBOR{}

func (CBOR) Marshal(v any) ([]byte, error) {
	return cbor.Marshal(v)
}

func (CBOR) NewEncoder(w io.Writer) Encoder {
	return cbor.NewEncoder(w)
}

func (CBOR) Unmarshal(data []byte, dst any) error {
	return cbor.Unmarshal(data, dst)
}

func (CBOR) NewDecoder(r io.Reader) Decoder {
	return cbor.NewDecoder(r)
}
