package data

import (
	"math/rand"

	"nasfit/internal/model"
)

// Augmentor applies the standard small-image training transforms: reflection
// is not used; images are zero-padded and randomly cropped, horizontally
// flipped with probability one half, and optionally occluded with a square
// cutout patch.
type Augmentor struct {
	Pad          int
	Cutout       bool
	CutoutLength int
}

// Apply transforms one example in place. img is the channels-first pixel
// slice of a single image matching shape.
func (a Augmentor) Apply(img []float32, shape model.Shape, rng *rand.Rand) {
	if a.Pad > 0 {
		a.randomCrop(img, shape, rng)
	}
	if rng.Intn(2) == 1 {
		flipHorizontal(img, shape)
	}
	if a.Cutout && a.CutoutLength > 0 {
		a.cutout(img, shape, rng)
	}
}

func (a Augmentor) randomCrop(img []float32, shape model.Shape, rng *rand.Rand) {
	h, w := shape.Height, shape.Width
	ph, pw := h+2*a.Pad, w+2*a.Pad
	oy := rng.Intn(ph - h + 1)
	ox := rng.Intn(pw - w + 1)

	padded := make([]float32, ph*pw)
	for c := 0; c < shape.Channels; c++ {
		plane := img[c*h*w : (c+1)*h*w]
		for i := range padded {
			padded[i] = 0
		}
		for y := 0; y < h; y++ {
			copy(padded[(y+a.Pad)*pw+a.Pad:(y+a.Pad)*pw+a.Pad+w], plane[y*w:(y+1)*w])
		}
		for y := 0; y < h; y++ {
			copy(plane[y*w:(y+1)*w], padded[(y+oy)*pw+ox:(y+oy)*pw+ox+w])
		}
	}
}

func flipHorizontal(img []float32, shape model.Shape) {
	h, w := shape.Height, shape.Width
	for c := 0; c < shape.Channels; c++ {
		plane := img[c*h*w : (c+1)*h*w]
		for y := 0; y < h; y++ {
			row := plane[y*w : (y+1)*w]
			for x := 0; x < w/2; x++ {
				row[x], row[w-1-x] = row[w-1-x], row[x]
			}
		}
	}
}

func (a Augmentor) cutout(img []float32, shape model.Shape, rng *rand.Rand) {
	h, w := shape.Height, shape.Width
	cy := rng.Intn(h)
	cx := rng.Intn(w)
	half := a.CutoutLength / 2

	y0, y1 := clamp(cy-half, h), clamp(cy+half, h)
	x0, x1 := clamp(cx-half, w), clamp(cx+half, w)
	for c := 0; c < shape.Channels; c++ {
		plane := img[c*h*w : (c+1)*h*w]
		for y := y0; y < y1; y++ {
			for x := x0; x < x1; x++ {
				plane[y*w+x] = 0
			}
		}
	}
}

func clamp(v, max int) int {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}
