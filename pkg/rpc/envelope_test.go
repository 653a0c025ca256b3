package rpc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeEnvelopeSmallBodyUncompressed(t *testing.T) {
	body := []byte(`["small"]`)
	env, err := encodeEnvelope(body)
	require.NoError(t, err)
	assert.Equal(t, EncodingNone, env.Encoding)

	back, err := decodeEnvelope(env)
	require.NoError(t, err)
	assert.Equal(t, body, back)
}

func TestEncodeEnvelopeLargeBodyCompressed(t *testing.T) {
	body := []byte(`["` + strings.Repeat("x", 1024) + `"]`)
	env, err := encodeEnvelope(body)
	require.NoError(t, err)
	assert.Equal(t, EncodingZlibBase64, env.Encoding)

	back, err := decodeEnvelope(env)
	require.NoError(t, err)
	assert.Equal(t, body, back)
}

func TestDecodeEnvelopeRejectsUnknownEncoding(t *testing.T) {
	env := Envelope{Encoding: "rot13", Data: "AAAA"}
	_, err := decodeEnvelope(env)
	assert.Error(t, err)
}

func TestDecodeEnvelopeRejectsBadBase64(t *testing.T) {
	env := Envelope{Encoding: EncodingNone, Data: "not-base64!!"}
	_, err := decodeEnvelope(env)
	assert.Error(t, err)
}

func TestMarshalArgsProducesJSONArray(t *testing.T) {
	body, err := marshalArgs([]interface{}{"a", 1, map[string]string{"k": "v"}})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(body), "["))
}
