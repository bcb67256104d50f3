package stag

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/gofrs/flock"
)

// recordingDecoder returns a decoder appending each path to paths before calling hook.
func recordingDecoder(paths *[]string, hook func(path string)) Decoder {
	return DecoderFunc(func(path string) (image.Image, error) {
		*paths = append(*paths, path)
		if hook != nil {
			hook(path)
		}
		return testImage(4, 4), nil
	})
}

func TestWalkOrderAndSkips(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{
		"b.jpg",
		"a.jpg",
		"sub/c.cr2",
		"sub/.hidden.jpg",
		".trash/d.jpg",
		"notes.xmp",
	} {
		writeFile(t, filepath.Join(root, name), "x")
	}

	var decoded []string
	dec := recordingDecoder(&decoded, nil)
	p := &Pipeline{Config: testConfig(root), Tagger: &fakeTagger{out: "cat"}, Raster: dec, Raw: dec}

	s, err := Walk(context.Background(), p)
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}

	want := []string{
		filepath.Join(root, "a.jpg"),
		filepath.Join(root, "b.jpg"),
		filepath.Join(root, "sub", "c.cr2"),
	}
	if !slices.Equal(decoded, want) {
		t.Errorf("decoded %v, want %v", decoded, want)
	}

	if s.Count(Tagged) != 3 {
		t.Errorf("tagged = %d, want 3\n%s", s.Count(Tagged), s)
	}
	// notes.xmp is visited and skipped, along with the sidecars the run itself created
	if s.Count(Skipped) < 1 || s.Count(Failed) != 0 {
		t.Errorf("summary:\n%s", s)
	}

	for _, name := range []string{"a.xmp", "b.xmp", "sub/c.xmp"} {
		if !exists(filepath.Join(root, name)) {
			t.Errorf("%s was not created", name)
		}
	}
	if exists(filepath.Join(root, ".trash", "d.xmp")) {
		t.Errorf("hidden directory was walked")
	}
}

func TestWalkIsIdempotent(t *testing.T) {
	root := t.TempDir()
	writeJPEG(t, filepath.Join(root, "a.jpg"))
	writeJPEG(t, filepath.Join(root, "b.jpg"))

	p, ft := testPipeline(root, "cat|dog")
	p.Raster = RasterDecoder{}

	if _, err := Walk(context.Background(), p); err != nil {
		t.Fatalf("first Walk: %v", err)
	}
	first := readFile(t, filepath.Join(root, "a.xmp"))

	s, err := Walk(context.Background(), p)
	if err != nil {
		t.Fatalf("second Walk: %v", err)
	}
	if ft.Calls() != 2 {
		t.Errorf("tagger calls = %d, want 2", ft.Calls())
	}
	if s.Count(Tagged) != 0 {
		t.Errorf("second walk tagged %d files", s.Count(Tagged))
	}
	if got := readFile(t, filepath.Join(root, "a.xmp")); got != first {
		t.Errorf("sidecar changed on second walk")
	}
}

func TestWalkCancel(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"1.jpg", "2.jpg", "3.jpg", "4.jpg"} {
		writeFile(t, filepath.Join(root, name), "x")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var decoded []string
	dec := recordingDecoder(&decoded, func(path string) {
		if filepath.Base(path) == "2.jpg" {
			cancel()
		}
	})
	p := &Pipeline{Config: testConfig(root), Tagger: &fakeTagger{out: "cat"}, Raster: dec}

	s, err := Walk(ctx, p)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Walk error = %v, want context.Canceled", err)
	}

	for _, name := range []string{"1.xmp", "2.xmp"} {
		if !exists(filepath.Join(root, name)) {
			t.Errorf("%s missing: entries before cancellation must complete", name)
		}
	}
	for _, name := range []string{"3.xmp", "4.xmp"} {
		if exists(filepath.Join(root, name)) {
			t.Errorf("%s written after cancellation", name)
		}
	}
	if len(decoded) != 2 {
		t.Errorf("decoded %v after cancellation", decoded)
	}
	if s.Count(Tagged) != 2 {
		t.Errorf("tagged = %d, want 2", s.Count(Tagged))
	}
}

func TestWalkCancelledBeforeStart(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.jpg"), "x")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p, ft := testPipeline(root, "cat")
	s, err := Walk(ctx, p)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Walk error = %v, want context.Canceled", err)
	}
	if len(s.Outcomes) != 0 || ft.Calls() != 0 {
		t.Errorf("processed %d files after cancellation", len(s.Outcomes))
	}
}

func TestWalkLocked(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.jpg"), "x")

	fl := flock.New(filepath.Join(root, lockName))
	ok, err := fl.TryLock()
	if err != nil || !ok {
		t.Fatalf("TryLock = %v, %v", ok, err)
	}
	defer fl.Unlock()

	p, _ := testPipeline(root, "cat")
	if _, err := Walk(context.Background(), p); !errors.Is(err, ErrLocked) {
		t.Errorf("Walk error = %v, want ErrLocked", err)
	}

	// simulating never writes, so it does not need the lock
	p.Config.Simulate = true
	if _, err := Walk(context.Background(), p); err != nil {
		t.Errorf("simulated Walk error = %v", err)
	}
}

func TestWalkSimulateWritesNothing(t *testing.T) {
	root := t.TempDir()
	writeJPEG(t, filepath.Join(root, "a.jpg"))
	writeFile(t, filepath.Join(root, "b.jpg.xmp"), untaggedXMP)
	writeJPEG(t, filepath.Join(root, "b.jpg"))

	p, _ := testPipeline(root, "cat")
	p.Config.Simulate = true

	s, err := Walk(context.Background(), p)
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if s.Count(Tagged) != 2 {
		t.Errorf("tagged = %d, want 2\n%s", s.Count(Tagged), s)
	}
	for _, o := range s.Outcomes {
		if o.Status == Tagged && !slices.Equal(o.Labels, []string{"cat"}) {
			t.Errorf("%s labels = %v", o.Path, o.Labels)
		}
	}
	if exists(filepath.Join(root, "a.xmp")) || exists(filepath.Join(root, lockName)) {
		t.Errorf("simulate wrote to the root")
	}
	if readFile(t, filepath.Join(root, "b.jpg.xmp")) != untaggedXMP {
		t.Errorf("simulate modified an existing sidecar")
	}
}

func TestWalkSkipsBackupDir(t *testing.T) {
	root := t.TempDir()
	writeJPEG(t, filepath.Join(root, "a.jpg"))
	writeFile(t, filepath.Join(root, "a.xmp"), untaggedXMP)

	p, ft := testPipeline(root, "cat")
	p.Config.BackupDir = filepath.Join(root, "backup")

	if _, err := Walk(context.Background(), p); err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if !exists(filepath.Join(root, "backup", "a.xmp")) {
		t.Errorf("no backup written")
	}

	writeJPEG(t, filepath.Join(root, "backup", "stray.jpg"))
	p.Config.Force = true
	if _, err := Walk(context.Background(), p); err != nil {
		t.Fatalf("forced Walk: %v", err)
	}
	if ft.Calls() != 2 {
		t.Errorf("tagger calls = %d, want 2 (backup dir must not be walked)", ft.Calls())
	}
}

func TestWalkRemovesLockFile(t *testing.T) {
	root := t.TempDir()
	writeJPEG(t, filepath.Join(root, "a.jpg"))

	p, _ := testPipeline(root, "cat")
	if _, err := Walk(context.Background(), p); err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if exists(filepath.Join(root, lockName)) {
		t.Errorf("%s left behind after the walk", lockName)
	}

	// the lock can be taken again by the next run
	p.Config.Force = true
	if _, err := Walk(context.Background(), p); err != nil {
		t.Errorf("second Walk: %v", err)
	}
}

func TestWalkReadOnlyRoot(t *testing.T) {
	root := t.TempDir()
	writeJPEG(t, filepath.Join(root, "sub", "a.jpg"))
	if err := os.Chmod(root, 0o555); err != nil {
		t.Fatal(err)
	}
	defer os.Chmod(root, 0o755)

	p, _ := testPipeline(root, "cat")
	s, err := Walk(context.Background(), p)
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if s.Count(Tagged) != 1 || !exists(filepath.Join(root, "sub", "a.xmp")) {
		t.Errorf("writable subdirectory of a read-only root was not tagged:\n%s", s)
	}
}
