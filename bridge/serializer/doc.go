// Package serializer encodes the records carried by bridge frames. Both ends of
// a bridge must use the same serializer.
//
// Key Components:
//
//   - IBridgeSerializer: interface every implementation satisfies
//
//   - cborSerializerImpl: CBOR encoding with deterministic options and integer
//     map keys (see the cbor struct tags in bridge/common). Binary and
//     self-describing, this is the default.
//
//   - jsonSerializerImpl: JSON encoding, useful for debugging the wire with
//     standard tools
//
//   - gobSerializerImpl: Go's gob encoding. Only usable when both ends are Go
//     processes.
//
// Thread Safety:
//
//	All serializer implementations are stateless and safe for concurrent use
//	across multiple goroutines without additional synchronization.
//
// Usage:
//
//	s, err := serializer.ByName("cbor")
//	data, err := s.Serialize(&request)
//	var decoded common.Request
//	err = s.Deserialize(data, &decoded)
package serializer
