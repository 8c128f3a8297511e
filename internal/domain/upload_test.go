package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadError_String(t *testing.T) {
	assert.Equal(t, "ok", UploadOK.String())
	assert.Equal(t, "no_file", UploadNoFile.String())
	assert.Equal(t, "size_exceeded", UploadSizeExceeded.String())
	assert.Equal(t, "other", UploadOther.String())
	assert.Equal(t, "other", UploadError(42).String())
}

func TestUploadDescriptor_JSON(t *testing.T) {
	d := UploadDescriptor{OriginalName: "a.mp4", TempPath: "/tmp/x", Size: 7, Error: UploadSizeExceeded}

	data, err := json.Marshal(d)
	require.NoError(t, err)

	assert.JSONEq(t, `{"original_name":"a.mp4","temp_path":"/tmp/x","size":7,"error":"size_exceeded"}`, string(data))
}

func TestConversionRequest_WithDefaults(t *testing.T) {
	tests := []struct {
		name    string
		req     ConversionRequest
		format  string
		bitrate string
		want    ConversionRequest
	}{
		{"empty takes configured", ConversionRequest{}, "ogg", "128k", ConversionRequest{Format: "ogg", Bitrate: "128k"}},
		{"empty takes package defaults", ConversionRequest{}, "", "", ConversionRequest{Format: DefaultFormat, Bitrate: DefaultBitrate}},
		{"explicit kept", ConversionRequest{Format: "wav", Bitrate: "320k"}, "ogg", "128k", ConversionRequest{Format: "wav", Bitrate: "320k"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.req.WithDefaults(tt.format, tt.bitrate))
		})
	}
}
