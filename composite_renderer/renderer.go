package composite_renderer

import (
	"bytes"
	"errors"
	"image"
	"image/draw"
	"image/png"
)

type rendererImpl struct{}

type Config struct{}

func New(cfg Config) (Renderer, error) {
	return &rendererImpl{}, nil
}

// TileImages composites one to four same-sized images into a grid. A single
// image passes through untouched; two images sit side by side; three or four
// fill a 2x2 grid.
func (r *rendererImpl) TileImages(imageBufs []*bytes.Buffer) (*bytes.Buffer, error) {
	if len(imageBufs) == 0 || len(imageBufs) > 4 {
		return nil, errors.New("invalid number of images")
	}

	if len(imageBufs) == 1 {
		return imageBufs[0], nil
	}

	images := make([]image.Image, len(imageBufs))

	for i, buf := range imageBufs {
		img, _, err := image.Decode(buf)
		if err != nil {
			return nil, err
		}

		images[i] = img
	}

	firstBounds := images[0].Bounds()

	for _, img := range images {
		if img.Bounds() != firstBounds {
			return nil, errors.New("images are not the same size")
		}
	}

	cols := 2
	rows := (len(images) + 1) / 2

	retImage := image.NewRGBA(image.Rect(0, 0, firstBounds.Max.X*cols, firstBounds.Max.Y*rows))

	for i, img := range images {
		offset := image.Pt((i%cols)*firstBounds.Max.X, (i/cols)*firstBounds.Max.Y)
		draw.Draw(retImage, img.Bounds().Add(offset), img, image.Point{}, draw.Over)
	}

	imageBuf := new(bytes.Buffer)

	err := png.Encode(imageBuf, retImage)
	if err != nil {
		return nil, err
	}

	return imageBuf, nil
}
