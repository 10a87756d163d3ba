package codec

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	// core deterministic encoding keeps identical results byte-identical on disk
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{MaxArrayElements: 1 << 27}.DecMode()
	if err != nil {
		panic(err)
	}
}

// MarshalResult encodes v with CBOR core deterministic encoding. NaN and
// infinities survive the round trip.
func MarshalResult(v any) ([]byte, error) {
	b, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return b, nil
}

// UnmarshalResult decodes CBOR produced by MarshalResult into v.
func UnmarshalResult(data []byte, v any) error {
	if err := decMode.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal result: %w", err)
	}
	return nil
}
