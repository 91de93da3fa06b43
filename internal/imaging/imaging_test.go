package imaging

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDecodeRejectsNonImageBytes(t *testing.T) {
	_, _, err := Decode([]byte("definitely not an image"))
	assert.ErrorIs(t, err, ErrUndecodable)

	_, _, err = Decode(nil)
	assert.ErrorIs(t, err, ErrUndecodable)
}

func TestDecodeJPEG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 4)), nil))

	img, format, err := Decode(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 8, img.Bounds().Dx())
}

func TestDownscaleBoundsLongerSide(t *testing.T) {
	tests := []struct {
		name  string
		w, h  int
		wantW int
		wantH int
	}{
		{name: "landscape", w: 1440, h: 1000, wantW: 720, wantH: 500},
		{name: "portrait", w: 1000, h: 2000, wantW: 360, wantH: 720},
		{name: "truncates", w: 1000, h: 999, wantW: 720, wantH: 719},
		{name: "within bounds", w: 720, h: 400, wantW: 720, wantH: 400},
		{name: "small", w: 10, h: 20, wantW: 10, wantH: 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := image.NewRGBA(image.Rect(0, 0, tt.w, tt.h))
			out := Downscale(src, MaxDimension)
			assert.Equal(t, tt.wantW, out.Bounds().Dx())
			assert.Equal(t, tt.wantH, out.Bounds().Dy())
		})
	}
}

func TestToFramePacksRGB(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.NRGBA{R: 1, G: 2, B: 3, A: 255})
	img.Set(1, 0, color.NRGBA{R: 4, G: 5, B: 6, A: 255})

	frame := ToFrame(img)
	assert.Equal(t, 2, frame.Width)
	assert.Equal(t, 1, frame.Height)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, frame.RGB)
}

func TestPrepareDownscalesLargeUploads(t *testing.T) {
	frame, err := Prepare(encodePNG(t, 1600, 800))
	require.NoError(t, err)
	assert.Equal(t, 720, frame.Width)
	assert.Equal(t, 360, frame.Height)
	assert.Len(t, frame.RGB, 720*360*3)
	assert.Equal(t, []byte{200, 100, 50}, frame.RGB[:3])
}

// withOrientation splices an EXIF APP1 segment carrying the given
// orientation tag directly after the JPEG SOI marker.
func withOrientation(t *testing.T, jpg []byte, orientation uint16) []byte {
	t.Helper()
	require.True(t, len(jpg) > 2 && jpg[0] == 0xFF && jpg[1] == 0xD8)

	var exif bytes.Buffer
	exif.WriteString("Exif\x00\x00")
	exif.Write([]byte{'M', 'M', 0x00, 0x2A, 0x00, 0x00, 0x00, 0x08})
	binary.Write(&exif, binary.BigEndian, uint16(1))      // entries
	binary.Write(&exif, binary.BigEndian, uint16(0x0112)) // orientation
	binary.Write(&exif, binary.BigEndian, uint16(3))      // SHORT
	binary.Write(&exif, binary.BigEndian, uint32(1))
	binary.Write(&exif, binary.BigEndian, orientation)
	binary.Write(&exif, binary.BigEndian, uint16(0))
	binary.Write(&exif, binary.BigEndian, uint32(0)) // next IFD

	var out bytes.Buffer
	out.Write(jpg[:2])
	out.Write([]byte{0xFF, 0xE1})
	binary.Write(&out, binary.BigEndian, uint16(exif.Len()+2))
	out.Write(exif.Bytes())
	out.Write(jpg[2:])
	return out.Bytes()
}

func TestPrepareAppliesEXIFOrientation(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 40, 20)), nil))

	tests := []struct {
		name         string
		orientation  uint16
		wantW, wantH int
	}{
		{name: "upright", orientation: 1, wantW: 40, wantH: 20},
		{name: "rotated 90 clockwise", orientation: 6, wantW: 20, wantH: 40},
		{name: "rotated 90 counter-clockwise", orientation: 8, wantW: 20, wantH: 40},
		{name: "upside down", orientation: 3, wantW: 40, wantH: 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := Prepare(withOrientation(t, buf.Bytes(), tt.orientation))
			require.NoError(t, err)
			assert.Equal(t, tt.wantW, frame.Width)
			assert.Equal(t, tt.wantH, frame.Height)
			assert.Len(t, frame.RGB, tt.wantW*tt.wantH*3)
		})
	}
}

func TestToFrameKeepsColourUnderTransparentPixels(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.SetNRGBA(0, 0, color.NRGBA{R: 10, G: 20, B: 30, A: 0})
	img.SetNRGBA(1, 0, color.NRGBA{R: 200, G: 100, B: 50, A: 128})

	assert.Equal(t, []byte{10, 20, 30, 200, 100, 50}, ToFrame(img).RGB)
}

func TestPrepareKeepsColourUnderTransparentPixels(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 90, G: 60, B: 30, A: 0})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	frame, err := Prepare(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, []byte{90, 60, 30}, frame.RGB[:3])
}

func TestOpaqueKeepsTransparentPaletteColours(t *testing.T) {
	img := image.NewPaletted(image.Rect(0, 0, 2, 1), color.Palette{
		color.NRGBA{R: 12, G: 34, B: 56, A: 0},
		color.NRGBA{R: 250, G: 0, B: 0, A: 255},
	})
	img.SetColorIndex(1, 0, 1)

	assert.Equal(t, []byte{12, 34, 56, 250, 0, 0}, ToFrame(img).RGB)
}

func TestOpaqueHandlesOffsetBounds(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	img.SetNRGBA(2, 1, color.NRGBA{R: 7, G: 8, B: 9, A: 0})
	sub := img.SubImage(image.Rect(1, 1, 3, 2))

	out := Opaque(sub)
	assert.Equal(t, image.Rect(0, 0, 2, 1), out.Bounds())
	assert.Equal(t, color.NRGBA{R: 7, G: 8, B: 9, A: 255}, out.NRGBAAt(1, 0))
}

func TestWithinPixelBudget(t *testing.T) {
	assert.True(t, withinPixelBudget(1920, 1080))
	assert.True(t, withinPixelBudget(MaxPixels, 1))
	assert.False(t, withinPixelBudget(MaxPixels+1, 1))
	assert.False(t, withinPixelBudget(0, 10))
	assert.False(t, withinPixelBudget(10, -1))
	// The product wraps to a small value; the check must not multiply.
	assert.False(t, withinPixelBudget(math.MaxInt, 2))
	assert.False(t, withinPixelBudget(math.MaxInt/2+1, 4))
}

// pngHeader returns a PNG signature and IHDR chunk declaring w x h, with no
// pixel data behind it.
func pngHeader(w, h uint32) []byte {
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], w)
	binary.BigEndian.PutUint32(ihdr[4:8], h)
	ihdr[8] = 8 // bit depth
	ihdr[9] = 2 // truecolour

	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	chunk := append([]byte("IHDR"), ihdr...)
	buf.Write(chunk)
	binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func TestDecodeRejectsOversizedDeclaredDimensions(t *testing.T) {
	_, _, err := Decode(pngHeader(1<<16, 1<<16))
	require.ErrorIs(t, err, ErrUndecodable)
	assert.Contains(t, err.Error(), "unsupported dimensions")
}
