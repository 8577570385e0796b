package screenshot

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/png"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}

// StaticImage serves a fixed image as if it were the screen. Regions are
// cropped out of it; the result keeps the region's size with a zero origin.
type StaticImage struct {
	img *image.RGBA
}

// NewStaticImage wraps img as a Grabber.
func NewStaticImage(img image.Image) *StaticImage {
	return &StaticImage{img: toRGBA(img)}
}

// DecodePNG validates the PNG signature and decodes data into a StaticImage.
func DecodePNG(data []byte) (*StaticImage, error) {
	if len(data) < len(pngMagic) || !bytes.Equal(data[:len(pngMagic)], pngMagic) {
		return nil, fmt.Errorf("input is not a valid PNG file (invalid magic number)")
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode PNG: %w", err)
	}
	return NewStaticImage(img), nil
}

// Grab implements Grabber.
func (s *StaticImage) Grab(region *Region) (*image.RGBA, error) {
	if region == nil {
		out := image.NewRGBA(image.Rect(0, 0, s.img.Bounds().Dx(), s.img.Bounds().Dy()))
		draw.Draw(out, out.Bounds(), s.img, s.img.Bounds().Min, draw.Src)
		return out, nil
	}
	if region.Width <= 0 || region.Height <= 0 {
		return nil, fmt.Errorf("invalid region dimensions: width=%d, height=%d", region.Width, region.Height)
	}
	src := region.Rect().Add(s.img.Bounds().Min)
	if !src.In(s.img.Bounds()) {
		return nil, fmt.Errorf("region %v outside image bounds %v", region.Rect(), s.img.Bounds())
	}
	out := image.NewRGBA(image.Rect(0, 0, region.Width, region.Height))
	draw.Draw(out, out.Bounds(), s.img, src.Min, draw.Src)
	return out, nil
}

// Size returns the image dimensions.
func (s *StaticImage) Size() (int, int) {
	b := s.img.Bounds()
	return b.Dx(), b.Dy()
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}
