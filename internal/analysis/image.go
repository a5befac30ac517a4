package analysis

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

// ImageWeight is the share of the image score vector that reaches the final tally
const ImageWeight = 0.4

const (
	imageLabelsInspected  = 10
	imageLabelsReported   = 3
	imageClassificationsK = 5
	imageMinConfidence    = 0.01
)

// Classifier failures the image adapter explains to the user
var (
	ErrClassifierNotConfigured = errors.New("image classifier not configured")
	ErrModelLoading            = errors.New("image model is loading")
	ErrClassifierUnauthorized  = errors.New("image classifier rejected credentials")
	ErrEmptyClassification     = errors.New("image classifier returned no predictions")
)

// ImageClassifier labels raw image bytes, ranked by descending confidence
type ImageClassifier interface {
	Classify(ctx context.Context, image []byte) ([]Classification, error)
}

// ImageLoader resolves an upload reference to image bytes
type ImageLoader interface {
	Load(ctx context.Context, ref string) ([]byte, error)
}

// ImageFragment is the unweighted image contribution plus the top classifications
type ImageFragment struct {
	Fragment
	Classifications []Classification
}

type labelGroup struct {
	words  []string
	apply  func(v *ScoreVector, confidence float64)
	reason func(label string) string
}

func weighted(confidence float64, multiplier int) int {
	return int(math.Round(confidence * float64(multiplier)))
}

var labelGroups = []labelGroup{
	{
		words:  []string{"broken", "damaged", "crack", "burnt", "shattered", "rusted", "corroded", "destroyed", "smashed", "torn"},
		apply:  func(v *ScoreVector, c float64) { v.Add(Recycle, weighted(c, 12)) },
		reason: func(label string) string { return fmt.Sprintf("Damage detected (%s). ", label) },
	},
	{
		words: []string{"old", "worn", "used", "scratched", "dirty", "stained", "faded"},
		apply: func(v *ScoreVector, c float64) {
			v.Add(Repair, weighted(c, 7))
			v.Add(Reuse, weighted(c, 5))
		},
		reason: func(label string) string { return fmt.Sprintf("Shows wear (%s). ", label) },
	},
	{
		words:  []string{"new", "clean", "pristine", "fresh", "unused", "mint"},
		apply:  func(v *ScoreVector, c float64) { v.Add(Retain, weighted(c, 10)) },
		reason: func(label string) string { return fmt.Sprintf("Good condition (%s). ", label) },
	},
	{
		words: []string{"appliance", "device", "machine", "electronic", "toaster", "blender", "microwave", "oven", "mixer", "fryer", "cooker", "processor", "kettle"},
		apply: func(v *ScoreVector, _ float64) {
			v.Add(Reuse, 3)
			v.Add(Repair, 2)
		},
	},
	{
		words:  []string{"cable", "wire", "cord", "plug", "socket"},
		apply:  func(v *ScoreVector, _ float64) { v.Add(Repair, 5) },
		reason: func(string) string { return "Cable/wire visible. " },
	},
}

func (g labelGroup) match(label string) bool {
	for _, w := range g.words {
		if strings.Contains(label, w) {
			return true
		}
	}
	return false
}

// InterpretClassifications converts ranked labels into a score vector.
// Only the top labels are inspected; when they yield no points at all a
// neutral appliance vector is used instead.
func InterpretClassifications(predictions []Classification) ImageFragment {
	ranked := make([]Classification, len(predictions))
	copy(ranked, predictions)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Confidence > ranked[j].Confidence })
	if len(ranked) > imageLabelsInspected {
		ranked = ranked[:imageLabelsInspected]
	}

	out := ImageFragment{Fragment: Fragment{Source: "image"}}
	var reasoning strings.Builder
	for _, p := range ranked {
		if p.Confidence > imageMinConfidence {
			out.Classifications = append(out.Classifications, p)
		}
		label := strings.ToLower(p.Label)
		for _, g := range labelGroups {
			if !g.match(label) {
				continue
			}
			g.apply(&out.Scores, p.Confidence)
			if g.reason != nil {
				reasoning.WriteString(g.reason(p.Label))
			}
		}
	}

	if out.Scores.IsZero() {
		out.Scores = ScoreVector{Reuse: 5, Repair: 3}
		reasoning.Reset()
		reasoning.WriteString("Standard appliance condition. ")
	}

	if n := min(len(out.Classifications), imageLabelsReported); n > 0 {
		labels := make([]string, n)
		for i := range labels {
			labels[i] = out.Classifications[i].Label
		}
		fmt.Fprintf(&reasoning, "Detected: %s.", strings.Join(labels, ", "))
	}
	out.Reasoning = reasoning.String()

	if len(out.Classifications) > imageClassificationsK {
		out.Classifications = out.Classifications[:imageClassificationsK]
	}
	return out
}

// ImageAdapter turns an uploaded product photo into an image fragment.
// The returned fragment is always usable: loader and classifier errors become a
// zero vector with an explanation, and the error is returned only for logging.
type ImageAdapter struct {
	classifier ImageClassifier
	loader     ImageLoader
}

func NewImageAdapter(classifier ImageClassifier, loader ImageLoader) *ImageAdapter {
	return &ImageAdapter{classifier: classifier, loader: loader}
}

// Analyze loads and classifies the image at ref
func (ia *ImageAdapter) Analyze(ctx context.Context, ref string) (ImageFragment, error) {
	if ia == nil || ia.classifier == nil {
		return unavailable(ErrClassifierNotConfigured), ErrClassifierNotConfigured
	}
	if c, ok := ia.classifier.(interface{ Configured() bool }); ok && !c.Configured() {
		return unavailable(ErrClassifierNotConfigured), ErrClassifierNotConfigured
	}
	if ia.loader == nil {
		err := fmt.Errorf("no image loader for %q", ref)
		return unavailable(err), err
	}

	data, err := ia.loader.Load(ctx, ref)
	if err != nil {
		err = fmt.Errorf("load image: %w", err)
		return unavailable(err), err
	}

	predictions, err := ia.classifier.Classify(ctx, data)
	if err == nil && len(predictions) == 0 {
		err = ErrEmptyClassification
	}
	if err != nil {
		return unavailable(err), err
	}
	return InterpretClassifications(predictions), nil
}

// unavailable maps a failure to the zero fragment and its user-facing explanation
func unavailable(err error) ImageFragment {
	frag := ImageFragment{Fragment: Fragment{Source: "image"}}
	switch {
	case errors.Is(err, ErrClassifierNotConfigured):
		frag.Reasoning = "Image analysis unavailable - API key not configured"
	case errors.Is(err, ErrModelLoading):
		frag.Reasoning = "Model loading - please try again in 30 seconds"
	case errors.Is(err, ErrClassifierUnauthorized):
		frag.Reasoning = "Invalid API key"
	case errors.Is(err, ErrEmptyClassification):
		frag.Reasoning = "No predictions from AI"
	default:
		frag.Reasoning = "Image analysis unavailable"
	}
	return frag
}
