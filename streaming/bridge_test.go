package streaming

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"command-center-vms-cctv/be/encode"
)

func TestEncodeDecodePacketRoundTrip(t *testing.T) {
	pkt := encode.Packet{
		CameraID:   "cam-1",
		FrameIndex: 42,
		Data:       []byte{0xDE, 0xAD, 0xBE, 0xEF},
		Keyframe:   true,
		Timestamp:  time.Unix(1700000000, 123456000),
	}

	wire := encodePacket(pkt)
	got, err := decodePacket("cam-1", wire)
	require.NoError(t, err)

	assert.Equal(t, pkt.CameraID, got.CameraID)
	assert.Equal(t, pkt.FrameIndex, got.FrameIndex)
	assert.Equal(t, pkt.Data, got.Data)
	assert.True(t, got.Keyframe)
	assert.True(t, pkt.Timestamp.Equal(got.Timestamp))
}

func TestEncodeDecodePacketNonKeyframe(t *testing.T) {
	pkt := encode.Packet{FrameIndex: 7, Data: []byte("payload"), Keyframe: false, Timestamp: time.Unix(1, 0)}
	got, err := decodePacket("cam-2", encodePacket(pkt))
	require.NoError(t, err)
	assert.False(t, got.Keyframe)
	assert.Equal(t, "cam-2", got.CameraID)
}

func TestDecodePacketRejectsShortFrame(t *testing.T) {
	_, err := decodePacket("cam-1", []byte{1, 2, 3})
	assert.Error(t, err)
}

func TestDecodePacketEmptyPayload(t *testing.T) {
	pkt := encode.Packet{FrameIndex: 1, Timestamp: time.Unix(0, 0)}
	got, err := decodePacket("cam-1", encodePacket(pkt))
	require.NoError(t, err)
	assert.Empty(t, got.Data)
}

func TestSubjectNamingIsPerCameraAndDistinct(t *testing.T) {
	assert.Equal(t, "vms.packets.cam-1", packetSubject("cam-1"))
	assert.Equal(t, "vms.keyframe.cam-1", keyframeSubject("cam-1"))
	assert.NotEqual(t, packetSubject("cam-1"), keyframeSubject("cam-1"))
	assert.NotEqual(t, packetSubject("cam-1"), packetSubject("cam-2"))
}
