// Package stag tags photos with labels from an image classifier and records them in XMP sidecars.
package stag

import (
	"path/filepath"
	"strings"

	"github.com/tstromberg/stag/pkg/xmp"
)

// Kind classifies a file found during a walk.
type Kind int

const (
	// Raw is anything not otherwise known; it may be a camera raw file.
	Raw Kind = iota
	// Raster is a format a generic image loader understands.
	Raster
	// Sidecar is an XMP sidecar.
	Sidecar
)

func (k Kind) String() string {
	return [...]string{"raw", "raster", "sidecar"}[k]
}

var rasterExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".tif":  true,
	".tiff": true,
	".png":  true,
	".heic": true,
	".heif": true,
	".gif":  true,
	".bmp":  true,
	".webp": true,
}

// previewFallback lists raster formats that also carry an embedded preview exiftool can extract.
var previewFallback = map[string]bool{
	".heic": true,
	".heif": true,
}

// Asset is a photo found on disk.
type Asset struct {
	Path string
	Ext  string
	Kind Kind
}

// NewAsset classifies path by its extension.
func NewAsset(path string) Asset {
	ext := strings.ToLower(filepath.Ext(path))
	a := Asset{Path: path, Ext: ext, Kind: Raw}
	switch {
	case ext == xmp.Ext:
		a.Kind = Sidecar
	case rasterExts[ext]:
		a.Kind = Raster
	}
	return a
}
