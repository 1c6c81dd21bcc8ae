package trail

import (
	"strings"
	"unicode/utf8"
)

// Cognitive extraction is vocabulary driven: a sentence lands in a
// category when it carries one of the category's marker phrases. The
// tables are data, so tuning the extraction never touches the scan.
var (
	reasoningMarkers = []string{
		"because", "therefore", "thus", "since", "as a result",
		"which means", "so that", "due to",
	}
	decisionMarkers = []string{
		"i recommend", "i chose", "i decided", "i will", "we should",
		"i suggest", "the best option", "opted to",
	}
	assumptionMarkers = []string{
		"assuming", "i assume", "given that", "presumably", "on the premise",
	}
	alternativeMarkers = []string{
		"alternatively", "another option", "other approaches", "instead",
		"we could also", "one alternative",
	}
	uncertaintyMarkers = []string{
		"might", "may", "possibly", "perhaps", "unclear", "not sure",
		"uncertain", "could be", "hard to say",
	}
	clauseMarkers = []string{
		"because", "although", "however", "therefore", "unless", "whereas",
	}
)

const (
	maxCapturedSentences = 5
	maxSentenceLength    = 240
)

// ExtractCognitiveTrace scans the agent's output for reasoning structure.
// Extraction is deterministic: sentences are visited in order and each
// category keeps at most maxCapturedSentences hits.
func ExtractCognitiveTrace(outputText string, confidence float64) CognitiveTrace {
	trace := CognitiveTrace{
		ReasoningSteps:     make([]string, 0),
		DecisionPoints:     make([]string, 0),
		UncertaintyMarkers: make([]string, 0),
		Assumptions:        make([]string, 0),
		Alternatives:       make([]string, 0),
		ConfidenceLevel:    confidence,
	}

	sentences := splitSentences(outputText)
	for _, sentence := range sentences {
		lower := strings.ToLower(sentence)

		capture(&trace.ReasoningSteps, sentence, lower, reasoningMarkers)
		capture(&trace.DecisionPoints, sentence, lower, decisionMarkers)
		capture(&trace.Assumptions, sentence, lower, assumptionMarkers)
		capture(&trace.Alternatives, sentence, lower, alternativeMarkers)
	}

	normalized := strings.ToLower(outputText)
	for _, marker := range uncertaintyMarkers {
		if containsMarker(normalized, marker) {
			trace.UncertaintyMarkers = append(trace.UncertaintyMarkers, marker)
		}
	}

	trace.CognitiveLoad = cognitiveLoad(normalized)
	return trace
}

// capture appends the sentence when any marker matches, respecting the
// per-category cap.
func capture(dst *[]string, sentence, lower string, markers []string) {
	if len(*dst) >= maxCapturedSentences {
		return
	}
	for _, marker := range markers {
		if containsMarker(lower, marker) {
			*dst = append(*dst, truncateSentence(sentence))
			return
		}
	}
}

// containsMarker matches single words on word boundaries and phrases as
// substrings. Plain substring matching would let "mayor" trip "may".
func containsMarker(lower, marker string) bool {
	if strings.ContainsRune(marker, ' ') {
		return strings.Contains(lower, marker)
	}
	for _, word := range strings.FieldsFunc(lower, isWordSeparator) {
		if word == marker {
			return true
		}
	}
	return false
}

func isWordSeparator(r rune) bool {
	return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9') && r != '\''
}

// cognitiveLoad estimates how much structure the output carries: longer
// responses with more subordinate clauses score higher. Bounded to [0, 1].
func cognitiveLoad(normalized string) float64 {
	words := len(strings.Fields(normalized))
	if words == 0 {
		return 0
	}

	clauses := 0
	for _, marker := range clauseMarkers {
		if containsMarker(normalized, marker) {
			clauses++
		}
	}
	if clauses > 4 {
		clauses = 4
	}

	load := 0.2 + float64(words)/400 + 0.05*float64(clauses)
	if load > 1 {
		return 1
	}
	return load
}

func splitSentences(text string) []string {
	parts := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	})

	sentences := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			sentences = append(sentences, trimmed)
		}
	}
	return sentences
}

func truncateSentence(s string) string {
	if len(s) <= maxSentenceLength {
		return s
	}
	cut := maxSentenceLength
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
