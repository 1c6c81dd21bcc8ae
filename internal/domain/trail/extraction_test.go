package trail

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractCognitiveTraceCategories(t *testing.T) {
	output := "I chose the streaming parser because the payloads exceed memory. " +
		"Assuming the feed stays ordered, backfill is unnecessary. " +
		"Alternatively, we could batch overnight. " +
		"The exact failure mode is unclear and might need a repro."

	trace := ExtractCognitiveTrace(output, 0.7)

	require.Len(t, trace.ReasoningSteps, 1)
	assert.Contains(t, trace.ReasoningSteps[0], "because")

	require.Len(t, trace.DecisionPoints, 1)
	assert.Contains(t, trace.DecisionPoints[0], "I chose")

	require.Len(t, trace.Assumptions, 1)
	assert.Contains(t, trace.Assumptions[0], "Assuming")

	require.Len(t, trace.Alternatives, 1)
	assert.Contains(t, trace.Alternatives[0], "Alternatively")

	assert.Contains(t, trace.UncertaintyMarkers, "unclear")
	assert.Contains(t, trace.UncertaintyMarkers, "might")

	assert.InDelta(t, 0.7, trace.ConfidenceLevel, 1e-9)
}

func TestExtractCognitiveTraceEmptyOutput(t *testing.T) {
	trace := ExtractCognitiveTrace("", 0.5)

	assert.Empty(t, trace.ReasoningSteps)
	assert.Empty(t, trace.DecisionPoints)
	assert.Empty(t, trace.UncertaintyMarkers)
	assert.Empty(t, trace.Assumptions)
	assert.Empty(t, trace.Alternatives)
	assert.Zero(t, trace.CognitiveLoad)

	// Slices stay allocated so the hashed JSON form is stable
	assert.NotNil(t, trace.ReasoningSteps)
	assert.NotNil(t, trace.UncertaintyMarkers)
}

func TestExtractCognitiveTraceSentenceCap(t *testing.T) {
	sentence := "This happened because of the retry loop. "
	output := strings.Repeat(sentence, 9)

	trace := ExtractCognitiveTrace(output, 0.7)

	assert.Len(t, trace.ReasoningSteps, maxCapturedSentences)
}

func TestExtractCognitiveTraceTruncatesLongSentences(t *testing.T) {
	output := "The rollout failed because " + strings.Repeat("x", 600)

	trace := ExtractCognitiveTrace(output, 0.7)

	require.Len(t, trace.ReasoningSteps, 1)
	assert.LessOrEqual(t, len(trace.ReasoningSteps[0]), maxSentenceLength)
}

func TestExtractCognitiveTraceWordBoundaries(t *testing.T) {
	// "mayor" must not trip the "may" marker, "maybe" must not either
	trace := ExtractCognitiveTrace("The mayor approved the maybe-final budget.", 0.7)
	assert.NotContains(t, trace.UncertaintyMarkers, "may")

	trace = ExtractCognitiveTrace("Rates may change next quarter.", 0.7)
	assert.Contains(t, trace.UncertaintyMarkers, "may")
}

func TestExtractCognitiveTracePhraseMarkers(t *testing.T) {
	trace := ExtractCognitiveTrace("It is hard to say whether the cache helped.", 0.7)

	assert.Contains(t, trace.UncertaintyMarkers, "hard to say")
}

func TestCognitiveLoadBounds(t *testing.T) {
	tests := []struct {
		name   string
		output string
		check  func(t *testing.T, load float64)
	}{
		{
			name:   "empty output carries no load",
			output: "",
			check: func(t *testing.T, load float64) {
				assert.Zero(t, load)
			},
		},
		{
			name:   "short plain output sits near the floor",
			output: "Done.",
			check: func(t *testing.T, load float64) {
				assert.InDelta(t, 0.2025, load, 1e-9)
			},
		},
		{
			name: "clause-heavy output scores higher",
			output: "Although the cache warmed, latency rose because the pool " +
				"shrank, therefore we scaled out unless limits block it.",
			check: func(t *testing.T, load float64) {
				assert.Greater(t, load, 0.4)
				assert.LessOrEqual(t, load, 1.0)
			},
		},
		{
			name:   "very long output saturates at one",
			output: strings.Repeat("word ", 500),
			check: func(t *testing.T, load float64) {
				assert.InDelta(t, 1.0, load, 1e-9)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trace := ExtractCognitiveTrace(tt.output, 0.7)
			tt.check(t, trace.CognitiveLoad)
		})
	}
}

func TestExtractCognitiveTraceDeterministic(t *testing.T) {
	output := "I decided to retry because the first call timed out. Perhaps the DNS cache was stale."

	first := ExtractCognitiveTrace(output, 0.6)
	second := ExtractCognitiveTrace(output, 0.6)

	assert.Equal(t, first, second)
}
