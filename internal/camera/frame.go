package camera

import (
	"fmt"
	"image"
	"image/color"
)

// Frame is a packed 8-bit RGB buffer. Row y starts at Pix[y*Stride].
type Frame struct {
	Pix    []byte
	Width  int
	Height int
	Stride int
}

// NewFrame allocates a zeroed frame of the given size.
func NewFrame(res Resolution) *Frame {
	return &Frame{
		Pix:    make([]byte, res.Width*res.Height*3),
		Width:  res.Width,
		Height: res.Height,
		Stride: res.Width * 3,
	}
}

// FrameFromBytes wraps a raw RGB24 buffer laid out at raw geometry. Trailing
// bytes beyond the geometry are ignored.
func FrameFromBytes(buf []byte, raw Resolution) (*Frame, error) {
	if !raw.Valid() {
		return nil, ErrInvalidResolution
	}
	need := raw.Width * raw.Height * 3
	if len(buf) < need {
		return nil, fmt.Errorf("%w: got %d bytes, want %d for %s", ErrShortFrame, len(buf), need, raw)
	}
	return &Frame{Pix: buf[:need], Width: raw.Width, Height: raw.Height, Stride: raw.Width * 3}, nil
}

// FrameFromImage converts any image into a packed RGB frame.
func FrameFromImage(img image.Image) *Frame {
	b := img.Bounds()
	f := NewFrame(Resolution{Width: b.Dx(), Height: b.Dy()})
	for y := 0; y < f.Height; y++ {
		row := f.Pix[y*f.Stride:]
		for x := 0; x < f.Width; x++ {
			c := color.RGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.RGBA)
			row[x*3] = c.R
			row[x*3+1] = c.G
			row[x*3+2] = c.B
		}
	}
	return f
}

// Resolution returns the frame geometry.
func (f *Frame) Resolution() Resolution {
	return Resolution{Width: f.Width, Height: f.Height}
}

// MeanLuminance is the arithmetic mean of every channel sample, on the
// 0-255 scale. All backends are classified against this one measure.
func (f *Frame) MeanLuminance() float64 {
	if f.Width == 0 || f.Height == 0 {
		return 0
	}
	var sum uint64
	rowLen := f.Width * 3
	for y := 0; y < f.Height; y++ {
		for _, v := range f.Pix[y*f.Stride : y*f.Stride+rowLen] {
			sum += uint64(v)
		}
	}
	return float64(sum) / float64(rowLen*f.Height)
}

// Crop returns the region [0,res.Width)x[0,res.Height) anchored at the
// origin. Dimensions larger than the frame are clamped.
func (f *Frame) Crop(res Resolution) *Frame {
	w, h := min(res.Width, f.Width), min(res.Height, f.Height)
	return &Frame{Pix: f.Pix, Width: w, Height: h, Stride: f.Stride}
}

// RGBA decodes the frame into an image.RGBA.
func (f *Frame) RGBA() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		src := f.Pix[y*f.Stride:]
		dst := img.Pix[y*img.Stride:]
		for x := 0; x < f.Width; x++ {
			dst[x*4] = src[x*3]
			dst[x*4+1] = src[x*3+1]
			dst[x*4+2] = src[x*3+2]
			dst[x*4+3] = 0xff
		}
	}
	return img
}
