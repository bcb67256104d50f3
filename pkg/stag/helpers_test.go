package stag

import (
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

const taggedXMP = `<x:xmpmeta xmlns:x="adobe:ns:meta/">
 <rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#">
  <rdf:Description rdf:about="" xmlns:dc="http://purl.org/dc/elements/1.1/">
   <dc:subject>
    <rdf:Bag>
     <rdf:li>ST</rdf:li>
     <rdf:li>cat</rdf:li>
    </rdf:Bag>
   </dc:subject>
  </rdf:Description>
 </rdf:RDF>
</x:xmpmeta>
`

const untaggedXMP = `<x:xmpmeta xmlns:x="adobe:ns:meta/">
 <rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#">
  <rdf:Description rdf:about=""
    xmlns:exif="http://ns.adobe.com/exif/1.0/"
    xmlns:dc="http://purl.org/dc/elements/1.1/"
    exif:DateTimeOriginal="2020-01-02T03:04:05">
   <dc:subject>
    <rdf:Seq>
     <rdf:li>holiday</rdf:li>
    </rdf:Seq>
   </dc:subject>
  </rdf:Description>
 </rdf:RDF>
</x:xmpmeta>
`

const brokenXMP = `<x:xmpmeta><rdf:RDF><rdf:Description> << </rdf:RDF>`

func writeFile(t *testing.T, path string, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func writeJPEG(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if err := jpeg.Encode(f, testImage(32, 24), nil); err != nil {
		t.Fatal(err)
	}
}

func testImage(x, y int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, x, y))
	for i := 0; i < x; i++ {
		for j := 0; j < y; j++ {
			img.Set(i, j, color.RGBA{R: uint8(i * 8), G: uint8(j * 8), B: 128, A: 255})
		}
	}
	return img
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	bs, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(bs)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// fakeTagger returns the same output for every image and counts calls.
type fakeTagger struct {
	mu    sync.Mutex
	out   string
	err   error
	calls int
}

func (f *fakeTagger) Classify(_ context.Context, _ image.Image) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.out, f.err
}

func (f *fakeTagger) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// stubDecoder returns a small image for every path, recording the paths it saw.
type stubDecoder struct {
	mu    sync.Mutex
	paths []string
}

func (s *stubDecoder) Decode(path string) (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paths = append(s.paths, path)
	return testImage(8, 8), nil
}

func testConfig(root string) *Config {
	c := DefaultConfig()
	c.Root = root
	return c
}

func testPipeline(root string, out string) (*Pipeline, *fakeTagger) {
	ft := &fakeTagger{out: out}
	p := NewPipeline(testConfig(root), ft, &stubDecoder{})
	return p, ft
}
