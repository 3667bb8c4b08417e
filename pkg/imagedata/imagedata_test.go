package imagedata

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, img image.Image) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestDecodeValidImage(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 4, 3))
	src.Set(1, 1, color.NRGBA{R: 10, G: 20, B: 30, A: 255})

	img, err := NewDecoder(0).Decode(encodePNG(t, src))
	require.NoError(t, err)
	assert.Equal(t, 4, img.Bounds().Dx())
	assert.Equal(t, 3, img.Bounds().Dy())
}

func TestDecodeFailures(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		target  error
	}{
		{name: "empty", payload: "   ", target: ErrEmpty},
		{name: "invalid base64", payload: "not-valid-base64!"},
		{name: "not an image", payload: base64.StdEncoding.EncodeToString([]byte("hello world"))},
		{name: "truncated png", payload: base64.StdEncoding.EncodeToString([]byte("\x89PNG\r\n\x1a\n"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := NewDecoder(0).Decode(tt.payload)
			assert.Nil(t, img)
			require.Error(t, err)
			assert.NotEmpty(t, err.Error())
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			}
		})
	}
}

func TestDecodeRejectsOversizedImage(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 20, 20))

	_, err := NewDecoder(100).Decode(encodePNG(t, src))
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestToRGBDropsAlphaKeepsColour(t *testing.T) {
	src := image.NewNRGBA(image.Rect(5, 5, 7, 6))
	src.SetNRGBA(5, 5, color.NRGBA{R: 200, G: 0, B: 0, A: 0})
	src.SetNRGBA(6, 5, color.NRGBA{R: 0, G: 100, B: 50, A: 128})

	out := ToRGB(src)

	assert.Equal(t, image.Rect(0, 0, 2, 1), out.Bounds())
	assert.True(t, out.Opaque())
	assert.Equal(t, color.NRGBA{R: 200, G: 0, B: 0, A: 255}, out.NRGBAAt(0, 0))
	assert.Equal(t, color.NRGBA{R: 0, G: 100, B: 50, A: 255}, out.NRGBAAt(1, 0))
}

func TestToRGBConvertsGray(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 1, 1))
	src.SetGray(0, 0, color.Gray{Y: 77})

	out := ToRGB(src)

	assert.Equal(t, color.NRGBA{R: 77, G: 77, B: 77, A: 255}, out.NRGBAAt(0, 0))
}

func TestEncodeJPEG(t *testing.T) {
	src := ToRGB(image.NewGray(image.Rect(0, 0, 8, 8)))

	raw, err := EncodeJPEG(src, 90)
	require.NoError(t, err)

	decoded, err := jpeg.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, 8, decoded.Bounds().Dx())
}
