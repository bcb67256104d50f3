package stag

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "github.com/gen2brain/heic"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/anthonynsimon/bild/imgio"
	"github.com/anthonynsimon/bild/transform"
	"github.com/barasher/go-exiftool"
	"k8s.io/klog/v2"
)

// ErrDecode is returned when an asset cannot be turned into pixels.
var ErrDecode = errors.New("decode failed")

// Decoder turns an asset into an image.
type Decoder interface {
	Decode(path string) (image.Image, error)
}

// DecoderFunc adapts a function to a Decoder.
type DecoderFunc func(path string) (image.Image, error)

// Decode calls f(path).
func (f DecoderFunc) Decode(path string) (image.Image, error) {
	return f(path)
}

// RasterDecoder decodes formats understood by the standard image package.
type RasterDecoder struct{}

// Decode opens path with bild's imgio.
func (RasterDecoder) Decode(path string) (image.Image, error) {
	img, err := imgio.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, path, err)
	}
	return img, nil
}

// previewFields are exiftool tags carrying an embedded JPEG, largest first.
var previewFields = []string{"JpgFromRaw", "PreviewImage", "OtherImage", "ThumbnailImage"}

// RawDecoder extracts the embedded preview from camera raw files using exiftool.
type RawDecoder struct {
	et *exiftool.Exiftool
}

// NewRawDecoder starts a long-lived exiftool process.
func NewRawDecoder() (*RawDecoder, error) {
	et, err := exiftool.NewExiftool(exiftool.ExtractAllBinaryMetadata())
	if err != nil {
		return nil, fmt.Errorf("exiftool: %w", err)
	}
	return &RawDecoder{et: et}, nil
}

// Close stops the exiftool process.
func (r *RawDecoder) Close() error {
	return r.et.Close()
}

// Decode returns the largest embedded preview image found in path.
func (r *RawDecoder) Decode(path string) (image.Image, error) {
	fis := r.et.ExtractMetadata(path)
	if len(fis) == 0 {
		return nil, fmt.Errorf("%w: %s: no metadata", ErrDecode, path)
	}
	fi := fis[0]
	if fi.Err != nil {
		return nil, fmt.Errorf("%w: extract fail for %q: %v", ErrDecode, path, fi.Err)
	}

	for _, f := range previewFields {
		s, err := fi.GetString(f)
		if err != nil {
			klog.V(2).Infof("%s: no %s: %v", path, f, err)
			continue
		}

		img, err := decodeBinaryField(s)
		if err != nil {
			klog.V(1).Infof("%s: unable to decode %s: %v", path, f, err)
			continue
		}

		klog.V(1).Infof("%s: using %s (%v)", path, f, img.Bounds())
		return img, nil
	}

	return nil, fmt.Errorf("%w: %s: no embedded preview", ErrDecode, path)
}

// decodeBinaryField decodes exiftool's "base64:..." representation of binary data.
func decodeBinaryField(s string) (image.Image, error) {
	payload, ok := strings.CutPrefix(s, "base64:")
	if !ok {
		return nil, errors.New("not a binary field")
	}

	bs, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("base64: %w", err)
	}

	img, _, err := image.Decode(bytes.NewReader(bs))
	if err != nil {
		return nil, fmt.Errorf("image: %w", err)
	}
	return img, nil
}

// fit scales i so that its longest edge is at most size pixels.
func fit(i image.Image, size int) image.Image {
	x := i.Bounds().Dx()
	y := i.Bounds().Dy()
	if size <= 0 || x == 0 || y == 0 || (x <= size && y <= size) {
		return i
	}

	if x >= y {
		x, y = size, y*size/x
	} else {
		x, y = x*size/y, size
	}

	return transform.Resize(i, max(x, 1), max(y, 1), transform.Lanczos)
}
