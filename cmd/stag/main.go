// stag tags photos using an image classifier, recording the labels in XMP sidecars.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/tstromberg/stag/pkg/stag"
)

var (
	configPath  string
	prefix      string
	force       bool
	simulate    bool
	preferExact bool
	stripDTO    bool
	backupDir   string
	cachePath   string
	model       string
	imageSize   int
	watch       bool
)

func main() {
	klog.InitFlags(nil)

	cmd := &cobra.Command{
		Use:          "stag [flags] DIR",
		Short:        "Tag photos with labels from Gemini, writing them to XMP sidecars",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE:         run,
	}

	f := cmd.Flags()
	f.StringVar(&configPath, "config", "", "TOML config file")
	f.StringVar(&prefix, "prefix", stag.DefaultPrefix, "prefix for keywords, also used to detect tagged files")
	f.BoolVar(&force, "force", false, "tag files even if they already carry the prefix")
	f.BoolVar(&simulate, "simulate", false, "show what would be tagged without writing anything")
	f.BoolVar(&simulate, "test", false, "alias for --simulate")
	f.BoolVar(&preferExact, "prefer-exact-filenames", false, "name new sidecars <file>.<ext>.xmp")
	f.BoolVar(&stripDTO, "strip-date-time-original", false, "remove exif:DateTimeOriginal from sidecars")
	f.StringVar(&backupDir, "backup-dir", "", "copy sidecars here before modifying them")
	f.StringVar(&cachePath, "cache", "", "SQLite file caching labels between runs")
	f.StringVar(&model, "model", stag.DefaultModel, "Gemini model name")
	f.IntVar(&imageSize, "image-size", stag.DefaultImageSize, "longest edge of the image sent to the model")
	f.BoolVar(&watch, "watch", false, "keep running, tagging new photos as they appear")
	f.AddGoFlagSet(flag.CommandLine)

	if err := cmd.Execute(); err != nil {
		klog.Exitf("stag: %v", err)
	}
}

// config layers flags the user set over the config file and defaults.
func config(cmd *cobra.Command, root string) (*stag.Config, error) {
	c := stag.DefaultConfig()
	if configPath != "" {
		var err error
		if c, err = stag.LoadConfig(configPath); err != nil {
			return nil, err
		}
	}
	c.Root = root

	f := cmd.Flags()
	if f.Changed("prefix") {
		c.Prefix = prefix
	}
	if f.Changed("force") {
		c.Force = force
	}
	if f.Changed("simulate") || f.Changed("test") {
		c.Simulate = simulate
	}
	if f.Changed("prefer-exact-filenames") {
		c.PreferExactNaming = preferExact
	}
	if f.Changed("strip-date-time-original") {
		c.StripDateTimeOriginal = stripDTO
	}
	if f.Changed("backup-dir") {
		c.BackupDir = backupDir
	}
	if f.Changed("cache") {
		c.CachePath = cachePath
	}
	if f.Changed("model") {
		c.Model = model
	}
	if f.Changed("image-size") {
		c.ImageSize = imageSize
	}
	if f.Changed("watch") {
		c.Watch = watch
	}
	return c, c.Validate()
}

func run(cmd *cobra.Command, args []string) error {
	c, err := config(cmd, args[0])
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	key := os.Getenv("GOOGLE_AI_API_KEY")
	if key == "" {
		return errors.New("GOOGLE_AI_API_KEY must be set")
	}
	t, err := stag.NewGeminiTagger(ctx, key, c.Model, c.ImageSize)
	if err != nil {
		return err
	}

	var raw stag.Decoder
	rd, err := stag.NewRawDecoder()
	if err != nil {
		klog.Warningf("raw files will not be decoded: %v", err)
	} else {
		raw = rd
		defer func() {
			if err := rd.Close(); err != nil {
				klog.Errorf("failed to close exiftool: %v", err)
			}
		}()
	}

	p := stag.NewPipeline(c, t, raw)
	if c.CachePath != "" {
		lc, err := stag.OpenCache(c.CachePath, uuid.NewString())
		if err != nil {
			return err
		}
		defer lc.Close()
		p.Cache = lc
	}

	if c.Simulate {
		klog.Infof("Simulating: no sidecars will be written.")
	}

	s, err := stag.Walk(ctx, p)
	if s != nil {
		s.Render(os.Stdout)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("walk %s: %w", c.Root, err)
	}

	if c.Watch {
		if err := stag.Watch(ctx, p); err != nil {
			return fmt.Errorf("watch %s: %w", c.Root, err)
		}
	}

	fmt.Println("The mighty STAG has done its work. Have a nice day.")
	return nil
}
