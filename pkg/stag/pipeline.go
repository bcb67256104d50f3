package stag

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/otiai10/copy"
	"k8s.io/klog/v2"

	"github.com/tstromberg/stag/pkg/xmp"
)

// Status is the result of processing a single asset.
type Status int

const (
	// Skipped means nothing was written: the asset was already tagged, is a sidecar, or got no labels.
	Skipped Status = iota
	// Tagged means labels were merged into at least one sidecar.
	Tagged
	// Failed means the asset could not be decoded or none of its sidecars could be written.
	Failed
)

func (s Status) String() string {
	return [...]string{"skipped", "tagged", "failed"}[s]
}

// Outcome describes what happened to one asset.
type Outcome struct {
	Path   string
	Status Status
	Reason string

	Labels []string
	// Sidecars lists the sidecars written, or that would have been written when simulating.
	Sidecars  []string
	Simulated bool
}

// Pipeline tags one asset at a time.
type Pipeline struct {
	Config *Config
	Tagger Tagger

	Raster Decoder
	Raw    Decoder

	// Cache is optional.
	Cache LabelCache
}

// NewPipeline returns a pipeline decoding rasters with bild and raw files with raw.
func NewPipeline(c *Config, t Tagger, raw Decoder) *Pipeline {
	return &Pipeline{
		Config: c,
		Tagger: t,
		Raster: RasterDecoder{},
		Raw:    raw,
	}
}

// Process tags the asset at path, merging labels into all of its sidecars.
func (p *Pipeline) Process(ctx context.Context, path string) Outcome {
	c := p.Config
	a := NewAsset(path)
	o := Outcome{Path: path}

	if a.Kind == Sidecar {
		o.Reason = "sidecar"
		return o
	}

	sidecars := xmp.Existing(path)
	if !ShouldTag(sidecars, c.Prefix, c.Force) {
		klog.Infof("File %s already tagged.", filepath.Base(path))
		o.Reason = "already tagged"
		return o
	}

	labels, err := p.labels(ctx, a)
	if err != nil {
		klog.Errorf("could not read %s: %v", path, err)
		return failed(o, err)
	}
	klog.Infof("Tags found for %s: %v", path, labels)

	if len(labels) == 0 {
		o.Reason = "no labels"
		return o
	}
	o.Labels = labels

	docs := []*xmp.Document{}
	for _, s := range sidecars {
		d, err := xmp.Open(s)
		if err != nil {
			klog.Errorf("not updating sidecars for %s: %v", path, err)
			return failed(o, err)
		}
		docs = append(docs, d)
	}

	if len(docs) == 0 {
		if c.Simulate {
			klog.Infof("skipping XMP file creation for %s, not writing tags", path)
		} else {
			d, err := xmp.Create(path, c.PreferExactNaming)
			if err != nil {
				return failed(o, err)
			}
			klog.Infof("creating xmp sidecar file at %s", d.Path())
			docs = append(docs, d)
		}
	}

	for _, d := range docs {
		for _, l := range labels {
			d.AddHierarchicalSubject(c.Prefix + xmp.Separator + l)
		}
		if c.StripDateTimeOriginal {
			d.StripDateTimeOriginal()
		}
	}

	if c.Simulate {
		for _, d := range docs {
			klog.Infof("simulate: would write %d keywords to %s", len(d.Subjects()), d.Path())
			o.Sidecars = append(o.Sidecars, d.Path())
		}
		o.Status = Tagged
		o.Simulated = true
		return o
	}

	var errs []string
	for _, d := range docs {
		if err := p.save(d); err != nil {
			klog.Errorf("unable to save %s: %v", d.Path(), err)
			errs = append(errs, err.Error())
			continue
		}
		o.Sidecars = append(o.Sidecars, d.Path())
	}

	o.Reason = strings.Join(errs, "; ")
	if len(o.Sidecars) == 0 {
		o.Status = Failed
		return o
	}
	o.Status = Tagged
	return o
}

func failed(o Outcome, err error) Outcome {
	o.Status = Failed
	o.Reason = err.Error()
	return o
}

// labels returns cached labels for a, or decodes and classifies it.
// Classification failures are logged and yield no labels.
func (p *Pipeline) labels(ctx context.Context, a Asset) ([]string, error) {
	if p.Cache != nil {
		ls, ok, err := p.Cache.Get(ctx, a.Path)
		if err != nil {
			klog.Warningf("label cache: %v", err)
		}
		if ok {
			klog.V(1).Infof("using cached labels for %s", a.Path)
			return ls, nil
		}
	}

	dec := p.Raster
	if a.Kind == Raw {
		dec = p.Raw
	}
	if dec == nil {
		return nil, fmt.Errorf("%w: no decoder for %q files", ErrDecode, a.Ext)
	}

	img, err := dec.Decode(a.Path)
	if err != nil && a.Kind == Raster && previewFallback[a.Ext] && p.Raw != nil {
		klog.V(1).Infof("%s: %v, trying the embedded preview", a.Path, err)
		img, err = p.Raw.Decode(a.Path)
	}
	if err != nil {
		if !errors.Is(err, ErrDecode) {
			err = fmt.Errorf("%w: %v", ErrDecode, err)
		}
		return nil, err
	}

	klog.Infof("Looking at %s:", a.Path)
	raw, err := p.Tagger.Classify(ctx, img)
	if err != nil {
		klog.Errorf("Tagging failed for %s: %v", a.Path, err)
		return nil, nil
	}

	ls := ParseLabels(raw)
	if p.Cache != nil && len(ls) > 0 {
		if err := p.Cache.Put(ctx, a.Path, ls); err != nil {
			klog.Warningf("label cache: %v", err)
		}
	}
	return ls, nil
}

// save writes d, first backing up the existing file when a backup directory is configured.
func (p *Pipeline) save(d *xmp.Document) error {
	if _, err := os.Stat(d.Path()); err == nil && p.Config.BackupDir != "" {
		if err := p.backup(d.Path()); err != nil {
			return fmt.Errorf("%w: backup: %v", xmp.ErrWrite, err)
		}
	}
	return d.Save()
}

// backup copies path into the backup directory, mirroring its location below the root.
func (p *Pipeline) backup(path string) error {
	rel, err := filepath.Rel(p.Config.Root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = filepath.Base(path)
	}

	dst := filepath.Join(p.Config.BackupDir, rel)
	klog.V(1).Infof("backing up %s to %s", path, dst)
	return copy.Copy(path, dst)
}
