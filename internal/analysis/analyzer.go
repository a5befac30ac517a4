package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Recorder receives per-run measurements. monitoring.Metrics satisfies it.
type Recorder interface {
	RecordAnalysis(recommendation string, confidence float64, duration time.Duration)
	RecordImageAnalysis(err error)
}

// gatedAnalyzer only runs when one of its labels carries a value
type gatedAnalyzer struct {
	labels []string
	run    func(Submission) Fragment
}

var gatedAnalyzers = []gatedAnalyzer{
	{labels: LabelsAge, run: AnalyzeAge},
	{labels: LabelsCondition, run: AnalyzeCondition},
	{labels: LabelsOutdated, run: AnalyzeOutdated},
	{labels: LabelsWarranty, run: AnalyzeWarranty},
}

// Analyzer orchestrates the full analysis pipeline. It holds no per-run state
// and is safe for concurrent use.
type Analyzer struct {
	text     *TextAnalyzer
	image    *ImageAdapter
	logger   *slog.Logger
	recorder Recorder
}

// Option configures an Analyzer
type Option func(*analyzerConfig)

type analyzerConfig struct {
	lexicon    *KeywordLexicon
	strict     bool
	classifier ImageClassifier
	loader     ImageLoader
	logger     *slog.Logger
	recorder   Recorder
}

// WithLexicon replaces the built-in keyword lexicon
func WithLexicon(l *KeywordLexicon) Option {
	return func(c *analyzerConfig) { c.lexicon = l }
}

// WithStrictMatching makes keyword matching respect word boundaries
func WithStrictMatching(strict bool) Option {
	return func(c *analyzerConfig) { c.strict = strict }
}

// WithImageClassifier enables photo analysis through classifier, reading uploads with loader
func WithImageClassifier(classifier ImageClassifier, loader ImageLoader) Option {
	return func(c *analyzerConfig) {
		c.classifier = classifier
		c.loader = loader
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *analyzerConfig) { c.logger = l }
}

func WithRecorder(r Recorder) Option {
	return func(c *analyzerConfig) { c.recorder = r }
}

// NewAnalyzer creates a new analyzer with all components
func NewAnalyzer(opts ...Option) *Analyzer {
	cfg := analyzerConfig{lexicon: DefaultLexicon()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	return &Analyzer{
		text:     NewTextAnalyzer(cfg.lexicon, cfg.strict),
		image:    NewImageAdapter(cfg.classifier, cfg.loader),
		logger:   cfg.logger.With("component", "analysis"),
		recorder: cfg.recorder,
	}
}

// Analyze runs every analyzer over the submission and resolves the verdict.
// Analyzer failures degrade to zero scores; the only error is a context that
// is already done before the run starts.
func (a *Analyzer) Analyze(ctx context.Context, s Submission) (AnalysisResult, error) {
	if err := ctx.Err(); err != nil {
		return AnalysisResult{}, fmt.Errorf("analysis not started: %w", err)
	}
	start := time.Now()

	fragments := []Fragment{
		a.text.Analyze(s),
		AnalyzeAppearance(s),
		AnalyzeFunctionality(s),
		AnalyzeRepairability(s),
	}
	for _, g := range gatedAnalyzers {
		if s.Has(g.labels...) {
			fragments = append(fragments, g.run(s))
		}
	}
	fragments = append(fragments, AnalyzeMedia(s))

	var classifications []Classification
	if ref := s.Field(LabelsImage...); ref != "" {
		img, err := a.image.Analyze(ctx, ref)
		if err != nil {
			a.logger.Warn("Image analysis degraded", "ref", ref, "error", err)
		}
		if a.recorder != nil {
			a.recorder.RecordImageAnalysis(err)
		}
		weighted := img.Fragment
		weighted.Scores = img.Scores.Scale(ImageWeight)
		if weighted.Reasoning != "" {
			weighted.Reasoning = "Visual: " + weighted.Reasoning
		}
		fragments = append(fragments, weighted)
		classifications = img.Classifications
	}

	vectors := make([]ScoreVector, len(fragments))
	var critical, reasons []string
	for i, f := range fragments {
		vectors[i] = f.Scores
		if f.CriticalFactor != "" {
			critical = append(critical, f.CriticalFactor)
		}
		if f.Reasoning != "" {
			reasons = append(reasons, f.Reasoning)
		}
		a.logger.Debug("Analyzer step", "source", f.Source, "scores", f.Scores.String(), "critical", f.CriticalFactor)
	}

	scores := Aggregate(vectors...)
	decision := Resolve(scores)
	confidence := EstimateConfidence(scores, decision)

	result := AnalysisResult{
		Recommendation:  decision.Recommendation,
		Confidence:      confidence,
		Reasoning:       strings.TrimSpace(joinSentences(strings.Join(critical, " "), strings.Join(reasons, " "))),
		Analysis:        Summary(scores, decision),
		Scores:          scores,
		Decision:        decision,
		Classifications: classifications,
		Fragments:       fragments,
	}

	duration := time.Since(start)
	if a.recorder != nil {
		a.recorder.RecordAnalysis(string(result.Recommendation), result.Confidence, duration)
	}
	a.logger.Debug("Analysis completed",
		"recommendation", result.Recommendation,
		"confidence", result.Confidence,
		"margin", decision.Margin,
		"duration_ms", duration.Milliseconds(),
	)
	return result, nil
}

// Summary formats the score breakdown line stored alongside every verdict
func Summary(scores ScoreVector, d Decision) string {
	return fmt.Sprintf("Score breakdown - %s. Decision margin: %d points.", scores.String(), d.Margin)
}

// StrictMatching reports whether the analyzer uses word-boundary keyword matching
func (a *Analyzer) StrictMatching() bool {
	return a.text.Strict()
}

// Lexicon returns the keyword lexicon in use
func (a *Analyzer) Lexicon() *KeywordLexicon {
	return a.text.lexicon
}
