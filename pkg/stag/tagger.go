package stag

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/anthonynsimon/bild/imgio"
	"google.golang.org/genai"
	"k8s.io/klog/v2"

	"github.com/tstromberg/stag/pkg/xmp"
)

// ErrClassify is returned when the tagger fails to produce labels.
var ErrClassify = errors.New("classify failed")

// Tagger suggests labels for an image. Labels are returned as a single "|" separated string.
type Tagger interface {
	Classify(ctx context.Context, img image.Image) (string, error)
}

// TaggerFunc adapts a function to a Tagger.
type TaggerFunc func(ctx context.Context, img image.Image) (string, error)

// Classify calls f(ctx, img).
func (f TaggerFunc) Classify(ctx context.Context, img image.Image) (string, error) {
	return f(ctx, img)
}

// ParseLabels splits raw tagger output on "|", trimming whitespace and dropping empty labels.
func ParseLabels(raw string) []string {
	labels := []string{}
	for _, l := range strings.Split(raw, xmp.Separator) {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		labels = append(labels, l)
	}
	return labels
}

var prompt = "List between 5 and 20 tags describing this photo, separated by | and nothing else. " +
	"Tags should be lowercase English nouns or short noun phrases that a photographer would want to " +
	"organize their library with: subjects, animals, objects, scenery, activities, weather, time of day. " +
	"Use singular words, for example rock instead of rocks. Do not number the tags or add any commentary."

// GeminiTagger asks a Gemini model for labels.
type GeminiTagger struct {
	client *genai.Client
	model  string
	size   int
}

// NewGeminiTagger returns a tagger using the given API key and model. Images are downscaled to size pixels.
func NewGeminiTagger(ctx context.Context, apiKey string, model string, size int) (*GeminiTagger, error) {
	if apiKey == "" {
		return nil, errors.New("no API key provided")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("genai client: %w", err)
	}

	return &GeminiTagger{client: client, model: model, size: size}, nil
}

// Classify sends a downscaled JPEG of img to the model.
func (g *GeminiTagger) Classify(ctx context.Context, img image.Image) (string, error) {
	small := fit(img, g.size)

	var buf bytes.Buffer
	if err := imgio.JPEGEncoder(85)(&buf, small); err != nil {
		return "", fmt.Errorf("%w: encode: %v", ErrClassify, err)
	}
	klog.V(1).Infof("sending %d byte %v image to %s", buf.Len(), small.Bounds().Size(), g.model)

	parts := []*genai.Part{
		genai.NewPartFromBytes(buf.Bytes(), "image/jpeg"),
		genai.NewPartFromText(prompt),
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrClassify, err)
	}

	return resp.Text(), nil
}
