package serializer

import (
	"github.com/fxamacker/cbor/v2"
)

// encMode produces deterministic output so equal records encode to equal bytes
var encMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

var decMode = func() cbor.DecMode {
	dm, err := cbor.DecOptions{
		MaxArrayElements: 1 << 20,
		MaxMapPairs:      1 << 20,
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}()

// NewCBORSerializer creates a new serializer using CBOR (RFC 8949), a binary
// and self-describing encoding
func NewCBORSerializer() IBridgeSerializer {
	return &cborSerializerImpl{}
}

// cborSerializerImpl implements the IBridgeSerializer interface using cbor encoding
type cborSerializerImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IBridgeSerializer)
// --------------------------------------------------------------------------

func (c cborSerializerImpl) Serialize(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

func (c cborSerializerImpl) Deserialize(b []byte, v any) error {
	return decMode.Unmarshal(b, v)
}

func (c cborSerializerImpl) Name() string {
	return "cbor"
}
