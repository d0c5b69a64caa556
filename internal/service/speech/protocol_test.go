package speech

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeFullClientRequest(t *testing.T) {
	msg := CreateFullClientRequest([]byte(`{"a":1}`), GzipCompression)

	decoded, err := DecodeMessage(EncodeMessage(msg))
	require.NoError(t, err)

	assert.Equal(t, FullClientRequest, decoded.Header.MessageType)
	assert.Equal(t, JSONSerialization, decoded.Header.SerializationMethod)
	assert.Equal(t, GzipCompression, decoded.Header.CompressionMethod)
	assert.Equal(t, []byte(`{"a":1}`), decoded.Payload)
	assert.False(t, decoded.IsLastPacket())
}

func TestAudioOnlyRequestSequenceFlags(t *testing.T) {
	mid := CreateAudioOnlyRequest([]byte{1, 2}, 2, false, NoCompression)
	assert.Equal(t, PositiveSequenceNumber, mid.Header.MessageFlags)

	last := CreateAudioOnlyRequest([]byte{3}, 5, true, NoCompression)
	assert.Equal(t, NegativeSequenceNumber, last.Header.MessageFlags)

	decoded, err := DecodeMessage(EncodeMessage(last))
	require.NoError(t, err)
	assert.Equal(t, int32(-5), decoded.Sequence)
	assert.True(t, decoded.IsLastPacket())

	unsequenced := CreateAudioOnlyRequest(nil, 0, true, NoCompression)
	assert.Equal(t, LastPacketNoSequence, unsequenced.Header.MessageFlags)
}

func TestEventFramesCarrySessionAndConnectIDs(t *testing.T) {
	finished := &Message{
		Header:    NewHeader(FullServerResponse, WithEvent, JSONSerialization, NoCompression),
		EventType: EventTypeSessionFinished,
		SessionID: "session-1",
		Payload:   []byte("{}"),
	}
	decoded, err := DecodeMessage(EncodeMessage(finished))
	require.NoError(t, err)
	assert.Equal(t, EventTypeSessionFinished, decoded.EventType)
	assert.Equal(t, "session-1", decoded.SessionID)
	assert.Empty(t, decoded.ConnectID)

	started := &Message{
		Header:    NewHeader(FullServerResponse, WithEvent, JSONSerialization, NoCompression),
		EventType: EventTypeConnectionStarted,
		ConnectID: "conn-9",
	}
	decoded, err = DecodeMessage(EncodeMessage(started))
	require.NoError(t, err)
	assert.Equal(t, "conn-9", decoded.ConnectID)
	assert.Empty(t, decoded.SessionID)
	assert.Empty(t, decoded.Payload)
}

func TestErrorFrameCarriesCode(t *testing.T) {
	frame := &Message{
		Header:    NewHeader(ErrorMessage, NoSequenceNumber, JSONSerialization, NoCompression),
		ErrorCode: 45000001,
		Payload:   []byte("bad request"),
	}

	decoded, err := DecodeMessage(EncodeMessage(frame))
	require.NoError(t, err)
	assert.Equal(t, uint32(45000001), decoded.ErrorCode)
	assert.Equal(t, "bad request", string(decoded.Payload))
}

func TestDecodeRejectsBadFrames(t *testing.T) {
	_, err := DecodeMessage([]byte{0x11})
	assert.Error(t, err)

	_, err = DecodeMessage([]byte{0x21, 0x10, 0x10, 0x00, 0, 0, 0, 0})
	assert.ErrorContains(t, err, "protocol version")

	truncated := EncodeMessage(CreateFullClientRequest([]byte("payload"), NoCompression))
	_, err = DecodeMessage(truncated[:len(truncated)-2])
	assert.ErrorContains(t, err, "truncated")
}

func TestCompressionRoundTrip(t *testing.T) {
	data := []byte("the twin speaks the twin speaks the twin speaks")

	compressed, err := CompressPayload(data, GzipCompression)
	require.NoError(t, err)
	assert.NotEqual(t, data, compressed)

	restored, err := DecompressPayload(compressed, GzipCompression)
	require.NoError(t, err)
	assert.Equal(t, data, restored)

	empty, err := DecompressPayload(nil, GzipCompression)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = CompressPayload(data, CompressionMethod(7))
	assert.Error(t, err)
}
