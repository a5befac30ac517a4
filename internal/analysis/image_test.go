package analysis

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClassifier struct {
	predictions []Classification
	err         error
	configured  *bool
	calls       int
}

func (s *stubClassifier) Classify(_ context.Context, image []byte) ([]Classification, error) {
	s.calls++
	return s.predictions, s.err
}

type configurableClassifier struct {
	stubClassifier
}

func (c *configurableClassifier) Configured() bool {
	return c.configured != nil && *c.configured
}

type stubLoader struct {
	data []byte
	err  error
}

func (s stubLoader) Load(_ context.Context, ref string) ([]byte, error) {
	return s.data, s.err
}

func TestInterpretClassifications(t *testing.T) {
	tests := []struct {
		name            string
		predictions     []Classification
		scores          ScoreVector
		reasoning       string
		classifications int
	}{
		{
			name:            "appliance and damage",
			predictions:     []Classification{{Label: "toaster", Confidence: 0.85}, {Label: "crack", Confidence: 0.1}},
			scores:          ScoreVector{Recycle: 1, Repair: 2, Reuse: 3},
			reasoning:       "Damage detected (crack). Detected: toaster, crack.",
			classifications: 2,
		},
		{
			name:            "wear rounds half away from zero",
			predictions:     []Classification{{Label: "Used Car", Confidence: 0.5}},
			scores:          ScoreVector{Repair: 4, Reuse: 3},
			reasoning:       "Shows wear (Used Car). Detected: Used Car.",
			classifications: 1,
		},
		{
			name:            "cable and good condition",
			predictions:     []Classification{{Label: "power cord", Confidence: 0.6}, {Label: "brand new", Confidence: 0.3}},
			scores:          ScoreVector{Repair: 5, Retain: 3},
			reasoning:       "Cable/wire visible. Good condition (brand new). Detected: power cord, brand new.",
			classifications: 2,
		},
		{
			name:            "unrelated labels use the fallback",
			predictions:     []Classification{{Label: "banana", Confidence: 0.9}, {Label: "orange", Confidence: 0.05}},
			scores:          ScoreVector{Repair: 3, Reuse: 5},
			reasoning:       "Standard appliance condition. Detected: banana, orange.",
			classifications: 2,
		},
		{
			name:            "matches worth zero points use the fallback",
			predictions:     []Classification{{Label: "torn", Confidence: 0.03}},
			scores:          ScoreVector{Repair: 3, Reuse: 5},
			reasoning:       "Standard appliance condition. Detected: torn.",
			classifications: 1,
		},
		{
			name:            "low confidence damage is replaced by the fallback",
			predictions:     []Classification{{Label: "broken glass", Confidence: 0.03}},
			scores:          ScoreVector{Repair: 3, Reuse: 5},
			reasoning:       "Standard appliance condition. Detected: broken glass.",
			classifications: 1,
		},
		{
			name:            "negligible confidences are not reported",
			predictions:     []Classification{{Label: "banana", Confidence: 0.005}},
			scores:          ScoreVector{Repair: 3, Reuse: 5},
			reasoning:       "Standard appliance condition. ",
			classifications: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frag := InterpretClassifications(tt.predictions)
			assert.Equal(t, tt.scores, frag.Scores)
			assert.Equal(t, tt.reasoning, frag.Reasoning)
			assert.Len(t, frag.Classifications, tt.classifications)
		})
	}
}

func TestInterpretClassifications_TopLabelsOnly(t *testing.T) {
	var predictions []Classification
	for i := 0; i < 10; i++ {
		predictions = append(predictions, Classification{Label: fmt.Sprintf("label-%d", i), Confidence: 0.5 - float64(i)*0.01})
	}
	// Eleventh-ranked label is never inspected.
	predictions = append(predictions, Classification{Label: "cable", Confidence: 0.3})

	frag := InterpretClassifications(predictions)

	assert.Equal(t, ScoreVector{Repair: 3, Reuse: 5}, frag.Scores)
	require.Len(t, frag.Classifications, 5)
	assert.Equal(t, "label-0", frag.Classifications[0].Label)
	assert.Equal(t, "Standard appliance condition. Detected: label-0, label-1, label-2.", frag.Reasoning)
}

func TestImageAdapter_Analyze(t *testing.T) {
	configured := true
	notConfigured := false

	tests := []struct {
		name       string
		classifier ImageClassifier
		loader     ImageLoader
		wantErr    error
		reasoning  string
		scores     ScoreVector
	}{
		{
			name:      "no classifier",
			loader:    stubLoader{data: []byte("img")},
			wantErr:   ErrClassifierNotConfigured,
			reasoning: "Image analysis unavailable - API key not configured",
		},
		{
			name:       "classifier without credentials",
			classifier: &configurableClassifier{stubClassifier{configured: &notConfigured}},
			loader:     stubLoader{data: []byte("img")},
			wantErr:    ErrClassifierNotConfigured,
			reasoning:  "Image analysis unavailable - API key not configured",
		},
		{
			name:       "model warming up",
			classifier: &stubClassifier{err: fmt.Errorf("status 503: %w", ErrModelLoading)},
			loader:     stubLoader{data: []byte("img")},
			wantErr:    ErrModelLoading,
			reasoning:  "Model loading - please try again in 30 seconds",
		},
		{
			name:       "bad credentials",
			classifier: &stubClassifier{err: ErrClassifierUnauthorized},
			loader:     stubLoader{data: []byte("img")},
			wantErr:    ErrClassifierUnauthorized,
			reasoning:  "Invalid API key",
		},
		{
			name:       "empty prediction list",
			classifier: &stubClassifier{},
			loader:     stubLoader{data: []byte("img")},
			wantErr:    ErrEmptyClassification,
			reasoning:  "No predictions from AI",
		},
		{
			name:       "unexpected failure",
			classifier: &stubClassifier{err: errors.New("status 500")},
			loader:     stubLoader{data: []byte("img")},
			reasoning:  "Image analysis unavailable",
		},
		{
			name:       "unreadable upload",
			classifier: &configurableClassifier{stubClassifier{configured: &configured}},
			loader:     stubLoader{err: errors.New("no such file")},
			reasoning:  "Image analysis unavailable",
		},
		{
			name:       "successful classification",
			classifier: &configurableClassifier{stubClassifier{configured: &configured, predictions: []Classification{{Label: "microwave oven", Confidence: 0.7}}}},
			loader:     stubLoader{data: []byte("img")},
			reasoning:  "Detected: microwave oven.",
			scores:     ScoreVector{Repair: 2, Reuse: 3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frag, err := NewImageAdapter(tt.classifier, tt.loader).Analyze(context.Background(), "/uploads/x.png")

			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case !tt.scores.IsZero():
				assert.NoError(t, err)
			default:
				assert.Error(t, err)
			}
			assert.Equal(t, tt.reasoning, frag.Reasoning)
			assert.Equal(t, tt.scores, frag.Scores)
		})
	}
}

func TestImageAdapter_NotConfiguredSkipsLoading(t *testing.T) {
	notConfigured := false
	classifier := &configurableClassifier{stubClassifier{configured: &notConfigured}}

	frag, err := NewImageAdapter(classifier, stubLoader{err: errors.New("must not be called")}).
		Analyze(context.Background(), "/uploads/x.png")

	assert.ErrorIs(t, err, ErrClassifierNotConfigured)
	assert.True(t, frag.Scores.IsZero())
	assert.Equal(t, 0, classifier.calls)
}
