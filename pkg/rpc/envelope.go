// Package rpc implements the node transport: an HTTPS server
// (one per node daemon) dispatching PUT /<procedure> requests, and a
// process-wide client that fans a call out to a set of nodes in
// parallel. Wire format: every request body is an Envelope whose base64
// data holds the JSON array of arguments, zlib-compressed when the array
// is 512 bytes or more; response body is `[successBool, payloadOrMessage]`.
//
// Built over net/http + crypto/tls rather than grpc-go, since this
// transport's wire contract (JSON array body, procedure-name routing,
// per-node fan-out results) has no gRPC-service-method shape to inherit.
package rpc

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
)

// compressThreshold is the body size, in bytes, at or above which
// Client.Call compresses the envelope.
const compressThreshold = 512

// Encoding names an Envelope's payload encoding.
type Encoding string

const (
	EncodingNone       Encoding = "none"
	EncodingZlibBase64 Encoding = "zlib+base64"
)

// Envelope wraps a JSON payload so it can travel compressed without the
// receiver needing out-of-band knowledge of whether compression was
// used.
type Envelope struct {
	Encoding Encoding `json:"encoding"`
	Data     string   `json:"data"`
}

// encodeEnvelope builds an Envelope for body, compressing it when body
// is at least compressThreshold bytes.
func encodeEnvelope(body []byte) (Envelope, error) {
	if len(body) < compressThreshold {
		return Envelope{Encoding: EncodingNone, Data: base64.StdEncoding.EncodeToString(body)}, nil
	}

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(body); err != nil {
		return Envelope{}, fmt.Errorf("envelope compress: %w", err)
	}
	if err := zw.Close(); err != nil {
		return Envelope{}, fmt.Errorf("envelope compress: %w", err)
	}
	return Envelope{Encoding: EncodingZlibBase64, Data: base64.StdEncoding.EncodeToString(buf.Bytes())}, nil
}

// decodeEnvelope recovers the original body from an Envelope, rejecting
// any encoding it does not recognize.
func decodeEnvelope(env Envelope) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		return nil, fmt.Errorf("envelope decode: bad base64: %w", err)
	}

	switch env.Encoding {
	case EncodingNone:
		return raw, nil
	case EncodingZlibBase64:
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("envelope decode: zlib: %w", err)
		}
		defer zr.Close()
		out, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("envelope decode: zlib read: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("envelope decode: unknown encoding %q", env.Encoding)
	}
}

// marshalArgs JSON-encodes a procedure's argument list.
func marshalArgs(args []interface{}) ([]byte, error) {
	body, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshal rpc args: %w", err)
	}
	return body, nil
}
