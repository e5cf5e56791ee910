package loaders

import (
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

type TextureParams struct {
	FlipY bool
	// MaxSize scales the image down so neither side exceeds it. 0 keeps the original size.
	MaxSize int
}

// TextureLoader decodes an image file into *image.RGBA.
type TextureLoader struct{}

func (tl *TextureLoader) Load(path string, params interface{}) (*Resource, error) {
	var p TextureParams
	if tp, ok := params.(*TextureParams); ok && tp != nil {
		p = *tp
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "texture loader %s", path)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding %s", path)
	}
	rgba := ToRGBA(img, p)
	return &Resource{
		Name:     filepath.Base(path),
		FullPath: path,
		Type:     ResourceTypeImage,
		DataSize: uint64(len(rgba.Pix)),
		Data:     rgba,
	}, nil
}

func (tl *TextureLoader) Unload(*Resource) error {
	return nil
}

// ToRGBA converts img to tightly packed RGBA with its origin at (0, 0).
func ToRGBA(img image.Image, p TextureParams) *image.RGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if p.MaxSize > 0 && (w > p.MaxSize || h > p.MaxSize) {
		if w >= h {
			w, h = p.MaxSize, max(1, h*p.MaxSize/w)
		} else {
			w, h = max(1, w*p.MaxSize/h), p.MaxSize
		}
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if w == b.Dx() && h == b.Dy() {
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	}
	if p.FlipY {
		flipVertical(dst)
	}
	return dst
}

func flipVertical(img *image.RGBA) {
	h := img.Bounds().Dy()
	row := make([]byte, img.Stride)
	for y := 0; y < h/2; y++ {
		top := img.Pix[y*img.Stride : (y+1)*img.Stride]
		bottom := img.Pix[(h-1-y)*img.Stride : (h-y)*img.Stride]
		copy(row, top)
		copy(top, bottom)
		copy(bottom, row)
	}
}
