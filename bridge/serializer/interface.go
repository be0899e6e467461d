package serializer

import (
	"fmt"
	"strings"
)

// IBridgeSerializer encodes the records carried in bridge frame payloads
// (common.Options, []common.Route, common.Request, common.Response)
type IBridgeSerializer interface {
	// Serialize encodes v into a byte array
	Serialize(v any) ([]byte, error)
	// Deserialize decodes b into v, which must be a pointer
	Deserialize(b []byte, v any) error
	// Name returns the name used on the command line (e.g. "cbor")
	Name() string
}

// Names lists the available serializers, the first one is the default
var Names = []string{"cbor", "json", "gob"}

// ByName returns the serializer registered under name
func ByName(name string) (IBridgeSerializer, error) {
	switch strings.ToLower(name) {
	case "cbor", "":
		return NewCBORSerializer(), nil
	case "json":
		return NewJSONSerializer(), nil
	case "gob":
		return NewGOBSerializer(), nil
	default:
		return nil, fmt.Errorf("unknown serializer %q, must be one of %s", name, strings.Join(Names, ", "))
	}
}
