// Package imaging turns uploaded bytes into frames the pose detector accepts.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/example/saddle-fit/internal/pose"
)

// MaxDimension caps the longer side of frames sent to the detector.
const MaxDimension = 720

// MaxPixels bounds the decoded area so a tiny compressed upload cannot
// expand into an enormous raster.
const MaxPixels = 64 << 20

// ErrUndecodable is returned for payloads no registered decoder accepts.
var ErrUndecodable = errors.New("image could not be decoded")

// Decode parses an encoded raster image and reports its format name.
// JPEG EXIF orientation is applied, so the result is upright.
func Decode(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty payload", ErrUndecodable)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	if !withinPixelBudget(cfg.Width, cfg.Height) {
		return nil, "", fmt.Errorf("%w: unsupported dimensions %dx%d", ErrUndecodable, cfg.Width, cfg.Height)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	return img, format, nil
}

// withinPixelBudget reports whether a w x h raster fits MaxPixels without
// multiplying the sides.
func withinPixelBudget(w, h int) bool {
	return w > 0 && h > 0 && w <= MaxPixels/h
}

// Downscale shrinks img uniformly so its longer side equals maxDim.
// Images already within bounds are returned untouched.
func Downscale(img image.Image, maxDim int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	longest := max(w, h)
	if maxDim <= 0 || longest <= maxDim {
		return img
	}

	factor := float64(maxDim) / float64(longest)
	nw := max(int(float64(w)*factor), 1)
	nh := max(int(float64(h)*factor), 1)

	dst := image.NewNRGBA(image.Rect(0, 0, nw, nh))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// Opaque copies img into an NRGBA raster with alpha forced to 255.
// Colour values under transparent pixels are kept when the source stores
// them unpremultiplied.
func Opaque(img image.Image) *image.NRGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewNRGBA(image.Rect(0, 0, w, h))

	switch src := img.(type) {
	case *image.NRGBA:
		for y := 0; y < h; y++ {
			copy(out.Pix[y*out.Stride:y*out.Stride+w*4], src.Pix[src.PixOffset(b.Min.X, b.Min.Y+y):])
		}
	case *image.Paletted:
		// PNG palettes with tRNS entries hold unpremultiplied colours.
		palette := make([]color.NRGBA, len(src.Palette))
		for i, c := range src.Palette {
			if nc, ok := c.(color.NRGBA); ok {
				palette[i] = nc
			} else {
				palette[i] = color.NRGBAModel.Convert(c).(color.NRGBA)
			}
		}
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				idx := int(src.ColorIndexAt(b.Min.X+x, b.Min.Y+y))
				if idx < len(palette) {
					out.SetNRGBA(x, y, palette[idx])
				}
			}
		}
	default:
		draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	}

	for i := 3; i < len(out.Pix); i += 4 {
		out.Pix[i] = 0xff
	}
	return out
}

// ToFrame packs img as RGB24, dropping alpha.
func ToFrame(img image.Image) *pose.Frame {
	nrgba, ok := img.(*image.NRGBA)
	if !ok || nrgba.Rect.Min != (image.Point{}) {
		nrgba = Opaque(img)
	}
	w, h := nrgba.Rect.Dx(), nrgba.Rect.Dy()

	out := make([]byte, 0, w*h*3)
	for y := 0; y < h; y++ {
		row := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+w*4]
		for x := 0; x < len(row); x += 4 {
			out = append(out, row[x], row[x+1], row[x+2])
		}
	}
	return &pose.Frame{Width: w, Height: h, RGB: out}
}

// Prepare runs the full decode, flatten, bound and pack pipeline for one upload.
func Prepare(data []byte) (*pose.Frame, error) {
	img, _, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return ToFrame(Downscale(Opaque(img), MaxDimension)), nil
}
