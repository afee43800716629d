package sensor

import (
	"fmt"
	"image"
	"image/color"
)

// PixelFormat describes the pixel layout of a Bitmap.
type PixelFormat int

const (
	PixelFormatUnknown PixelFormat = iota
	// PixelFormatGray8 is one byte per pixel (visible-light cameras).
	PixelFormatGray8
	// PixelFormatGray16 is two little-endian bytes per pixel (depth and
	// reflectivity).
	PixelFormatGray16
	// PixelFormatBGRA8 is four bytes per pixel (photo/video camera).
	PixelFormatBGRA8
)

// BytesPerPixel returns the pixel size of f, or 0 if f is unknown.
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case PixelFormatGray8:
		return 1
	case PixelFormatGray16:
		return 2
	case PixelFormatBGRA8:
		return 4
	}
	return 0
}

func (f PixelFormat) String() string {
	switch f {
	case PixelFormatGray8:
		return "Gray8"
	case PixelFormatGray16:
		return "Gray16"
	case PixelFormatBGRA8:
		return "Bgra8"
	}
	return "Unknown"
}

// Bitmap is a decoded image buffer. Pix holds Height rows of Stride bytes.
// A Bitmap reachable from a SensorFrame is never modified.
type Bitmap struct {
	Format PixelFormat
	Width  int
	Height int
	Stride int
	Pix    []byte
}

// NewBitmap allocates a zeroed, tightly packed bitmap.
func NewBitmap(format PixelFormat, width, height int) *Bitmap {
	stride := width * format.BytesPerPixel()
	return &Bitmap{
		Format: format,
		Width:  width,
		Height: height,
		Stride: stride,
		Pix:    make([]byte, stride*height),
	}
}

// Validate checks that Pix is large enough for the declared geometry.
func (b *Bitmap) Validate() error {
	bpp := b.Format.BytesPerPixel()
	if bpp == 0 {
		return fmt.Errorf("unknown pixel format %d", b.Format)
	}
	if b.Width <= 0 || b.Height <= 0 {
		return fmt.Errorf("invalid bitmap size %dx%d", b.Width, b.Height)
	}
	if b.Stride < b.Width*bpp {
		return fmt.Errorf("stride %d too small for width %d (%s)", b.Stride, b.Width, b.Format)
	}
	if need := b.Stride*(b.Height-1) + b.Width*bpp; len(b.Pix) < need {
		return fmt.Errorf("pixel buffer has %d bytes, need %d", len(b.Pix), need)
	}
	return nil
}

// Copy returns a deep copy of b that shares no memory with it.
func (b *Bitmap) Copy() *Bitmap {
	if b == nil {
		return nil
	}
	c := *b
	c.Pix = make([]byte, len(b.Pix))
	copy(c.Pix, b.Pix)
	return &c
}

// Packed returns the pixel rows with any stride padding removed, Height
// rows of Width*BytesPerPixel bytes. It returns Pix itself when b is
// already tightly packed, so callers must not modify the result.
func (b *Bitmap) Packed() []byte {
	row := b.Width * b.Format.BytesPerPixel()
	if b.Stride == row {
		return b.Pix[:row*b.Height]
	}
	out := make([]byte, 0, row*b.Height)
	for y := 0; y < b.Height; y++ {
		out = append(out, b.Pix[y*b.Stride:y*b.Stride+row]...)
	}
	return out
}

// Image returns an image.Image backed by a copy of the pixels, suitable for
// encoders.
func (b *Bitmap) Image() (image.Image, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	rect := image.Rect(0, 0, b.Width, b.Height)

	switch b.Format {
	case PixelFormatGray8:
		img := image.NewGray(rect)
		for y := 0; y < b.Height; y++ {
			copy(img.Pix[y*img.Stride:], b.Pix[y*b.Stride:y*b.Stride+b.Width])
		}
		return img, nil

	case PixelFormatGray16:
		img := image.NewGray16(rect)
		for y := 0; y < b.Height; y++ {
			row := b.Pix[y*b.Stride:]
			for x := 0; x < b.Width; x++ {
				v := uint16(row[2*x]) | uint16(row[2*x+1])<<8
				img.SetGray16(x, y, color.Gray16{Y: v})
			}
		}
		return img, nil

	case PixelFormatBGRA8:
		img := image.NewRGBA(rect)
		for y := 0; y < b.Height; y++ {
			row := b.Pix[y*b.Stride:]
			for x := 0; x < b.Width; x++ {
				i := 4 * x
				img.SetRGBA(x, y, color.RGBA{R: row[i+2], G: row[i+1], B: row[i], A: row[i+3]})
			}
		}
		return img, nil
	}

	return nil, fmt.Errorf("unsupported pixel format %s", b.Format)
}
