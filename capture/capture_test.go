package capture

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"command-center-vms-cctv/be/model"
)

func TestClassifyOpenErrorRTSP(t *testing.T) {
	cam := model.Camera{Source: model.SourceRTSP}
	err := classifyOpenError(cam, errors.New("boom"))

	var ce *Error
	assert.ErrorAs(t, err, &ce)
	assert.Equal(t, "ConnectError", ce.Kind)
}

func TestClassifyOpenErrorFile(t *testing.T) {
	cam := model.Camera{Source: model.SourceFile}
	err := classifyOpenError(cam, errors.New("boom"))

	var ce *Error
	assert.ErrorAs(t, err, &ce)
	assert.Equal(t, "DecodeError", ce.Kind)
}

func TestClassifyOpenErrorAuth(t *testing.T) {
	cam := model.Camera{Source: model.SourceRTSP}
	err := classifyOpenError(cam, errors.New("rtsp://cam: 401 Unauthorized"))

	var ce *Error
	assert.ErrorAs(t, err, &ce)
	assert.Equal(t, "AuthError", ce.Kind)
}

func TestClassifyOpenErrorAuthCaseInsensitive(t *testing.T) {
	cam := model.Camera{Source: model.SourceRTSP}
	err := classifyOpenError(cam, errors.New("server returned UNAUTHORIZED"))

	var ce *Error
	assert.ErrorAs(t, err, &ce)
	assert.Equal(t, "AuthError", ce.Kind)
}

func TestClassifyOpenErrorUnsupportedCodec(t *testing.T) {
	cam := model.Camera{Source: model.SourceRTSP}
	err := classifyOpenError(cam, errors.New("decoder not found for codec h265"))

	var ce *Error
	assert.ErrorAs(t, err, &ce)
	assert.Equal(t, "UnsupportedCodec", ce.Kind)
}

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("root cause")
	err := &Error{Kind: "StreamLost", Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "StreamLost")
}
