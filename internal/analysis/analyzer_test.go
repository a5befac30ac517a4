package analysis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRun struct {
	recommendation string
	confidence     float64
}

type stubRecorder struct {
	mu     sync.Mutex
	runs   []recordedRun
	images []error
}

func (r *stubRecorder) RecordAnalysis(recommendation string, confidence float64, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, recordedRun{recommendation: recommendation, confidence: confidence})
}

func (r *stubRecorder) RecordImageAnalysis(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.images = append(r.images, err)
}

func fragmentBySource(t *testing.T, result AnalysisResult, source string) Fragment {
	t.Helper()
	for _, f := range result.Fragments {
		if f.Source == source {
			return f
		}
	}
	require.Failf(t, "fragment not found", "source %q", source)
	return Fragment{}
}

func TestAnalyzer_Analyze(t *testing.T) {
	tests := []struct {
		name           string
		input          Submission
		recommendation Category
		confidence     float64
		scores         ScoreVector
		reasoning      string
	}{
		{
			name:           "excellent and recent product is retained",
			input:          Submission{"Condition": "Excellent", "Product Age": "0.5 year"},
			recommendation: Retain,
			confidence:     1.0,
			scores:         ScoreVector{Retain: 19},
			reasoning: `Keywords detected: "excellent" indicate retain. ` +
				"Product age (0.5 years) indicates recent purchase, high retention value. " +
				"Excellent condition warrants retention.",
		},
		{
			name: "repairable cable leads with the critical factor",
			input: Submission{
				"Electrical issue": "Yes, wire exposed but is repairable",
				"Mechanical issue": "None",
			},
			recommendation: Repair,
			confidence:     1.0,
			scores:         ScoreVector{Repair: 30, Reuse: 3, Retain: 5},
			reasoning: "Electrical issue is confirmed repairable (cable replacement). " +
				`Keywords detected: "repairable, wire exposed, wire" indicate repair. ` +
				"No mechanical issues, core functionality intact.",
		},
		{
			name:           "empty submission",
			input:          Submission{},
			recommendation: Recycle,
			confidence:     0.5,
			scores:         ScoreVector{},
			reasoning:      "",
		},
		{
			name:           "shattered glass",
			input:          Submission{"Description": "shattered and leaking"},
			recommendation: Recycle,
			confidence:     1.0,
			scores:         ScoreVector{Recycle: 10},
			reasoning:      `Critical damage detected: "shattered". Keywords detected: "shattered" indicate recycle.`,
		},
	}

	analyzer := NewAnalyzer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := analyzer.Analyze(context.Background(), tt.input)
			require.NoError(t, err)

			assert.Equal(t, tt.recommendation, result.Recommendation)
			assert.InDelta(t, tt.confidence, result.Confidence, 1e-9)
			assert.Equal(t, tt.scores, result.Scores)
			assert.Equal(t, tt.reasoning, result.Reasoning)
			assert.Equal(t, Summary(result.Scores, result.Decision), result.Analysis)
		})
	}
}

func TestAnalyzer_FragmentContributions(t *testing.T) {
	result, err := NewAnalyzer().Analyze(context.Background(), Submission{
		"Condition":   "Excellent",
		"Product Age": "0.5 year",
	})
	require.NoError(t, err)

	assert.Equal(t, ScoreVector{Retain: 8}, fragmentBySource(t, result, "condition").Scores)
	assert.Equal(t, ScoreVector{Retain: 5}, fragmentBySource(t, result, "age").Scores)
	assert.Equal(t, "Score breakdown - Recycle: 0, Repair: 0, Reuse: 0, Retain: 19. Decision margin: 19 points.", result.Analysis)

	for _, f := range result.Fragments {
		assert.NotEqual(t, "warranty", f.Source, "warranty analyzer runs only when its field is present")
	}
}

func TestAnalyzer_ImageIsWeighted(t *testing.T) {
	recorder := &stubRecorder{}
	classifier := &stubClassifier{predictions: []Classification{{Label: "toaster", Confidence: 0.9}}}
	analyzer := NewAnalyzer(
		WithImageClassifier(classifier, stubLoader{data: []byte("img")}),
		WithRecorder(recorder),
	)

	result, err := analyzer.Analyze(context.Background(), Submission{"Product Image": "/uploads/toaster.jpg"})
	require.NoError(t, err)

	assert.Equal(t, ScoreVector{Repair: 1, Reuse: 1}, result.Scores)
	assert.Equal(t, Repair, result.Recommendation, "repair outranks reuse on a tie")
	assert.Equal(t, 0.5, result.Confidence)
	assert.Equal(t, "Visual documentation provided (1 file) for condition assessment. Visual: Detected: toaster.", result.Reasoning)
	require.Len(t, result.Classifications, 1)
	assert.Equal(t, 1, classifier.calls)

	require.Len(t, recorder.runs, 1)
	assert.Equal(t, "repair", recorder.runs[0].recommendation)
	require.Len(t, recorder.images, 1)
	assert.NoError(t, recorder.images[0])
}

func TestAnalyzer_ImageWithoutClassifier(t *testing.T) {
	result, err := NewAnalyzer().Analyze(context.Background(), Submission{"Product Image (Optional)": "/uploads/a.png"})
	require.NoError(t, err)

	assert.True(t, result.Scores.IsZero())
	assert.Equal(t,
		"Visual documentation provided (1 file) for condition assessment. Visual: Image analysis unavailable - API key not configured",
		result.Reasoning,
	)
}

func TestAnalyzer_StrictMatching(t *testing.T) {
	input := Submission{"Description": "cracked screen"}

	loose, err := NewAnalyzer().Analyze(context.Background(), input)
	require.NoError(t, err)
	strict, err := NewAnalyzer(WithStrictMatching(true)).Analyze(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, 3, loose.Scores.Repair)
	assert.Equal(t, 0, strict.Scores.Repair)
	assert.True(t, NewAnalyzer(WithStrictMatching(true)).StrictMatching())
}

func TestAnalyzer_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewAnalyzer().Analyze(ctx, Submission{"Condition": "Good"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAnalyzer_ConcurrentUse(t *testing.T) {
	analyzer := NewAnalyzer()
	input := Submission{
		"Condition":           "Fair",
		"Wear and tear":       "Minor",
		"Ease of disassembly": "Easy",
		"Description":         "small crack on the lid, still functional",
	}
	expected, err := analyzer.Analyze(context.Background(), input)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]AnalysisResult, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = analyzer.Analyze(context.Background(), input)
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, expected.Scores, r.Scores)
		assert.Equal(t, expected.Reasoning, r.Reasoning)
	}
}
