package encode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsKeyframeTrue(t *testing.T) {
	payload := []byte{0x10, 0x00, 0x00} // low bit 0 => key frame
	assert.True(t, IsKeyframe(payload))
}

func TestIsKeyframeFalse(t *testing.T) {
	payload := []byte{0x11, 0x00, 0x00} // low bit 1 => inter frame
	assert.False(t, IsKeyframe(payload))
}

func TestIsKeyframeEmptyPayload(t *testing.T) {
	assert.False(t, IsKeyframe(nil))
}
