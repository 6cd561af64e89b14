package protocol

import "encoding/base64"

// BinarySchema encodes a binary schema (e.g. a protobuf FileDescriptorSet)
// for the advertise "schema" field: standard base64 alphabet, no padding.
func BinarySchema(schema []byte) string {
	return base64.RawStdEncoding.EncodeToString(schema)
}
