package signal

import (
	"strings"
	"unicode"
)

// Analyzer derives an EmotionalState from interaction text. It is pure and
// deterministic: the same input and output text always produce the same
// state, so re-running analysis never perturbs stored telemetry.
//
// Scoring is table-driven. Every axis starts from a baseline and moves by
// the weights of matched indicator terms; a single generic pass handles all
// axes, so adding a vocabulary entry never requires new scoring code.
type Analyzer struct {
	profiles []axisProfile
	weights  map[Axis]float64
	highRisk []string
}

// indicator couples a vocabulary term with its score contribution. Terms
// without spaces match whole words only; phrases match as substrings of the
// normalized text.
type indicator struct {
	term   string
	weight float64
}

type axisProfile struct {
	axis     Axis
	baseline float64
	terms    []indicator
}

// Neutral anchor for the overall safety score. With every axis at its
// baseline the combined score is exactly this value.
const safetyAnchor = 0.7

// Axis baselines. Empty text scores exactly these.
const (
	baselineConfidence = 0.70
	baselineCuriosity  = 0.50
	baselineConcern    = 0.20
	baselineExcitement = 0.50
	baselineClarity    = 0.60
	baselineAlignment  = 0.60
)

// NewAnalyzer creates an analyzer with the built-in vocabulary tables
func NewAnalyzer() *Analyzer {
	return &Analyzer{
		profiles: []axisProfile{
			{
				axis:     AxisConfidence,
				baseline: baselineConfidence,
				terms: []indicator{
					{"certain", 0.10}, {"certainly", 0.10}, {"absolutely", 0.10},
					{"definitely", 0.10}, {"confident", 0.10}, {"undoubtedly", 0.10},
					{"guaranteed", 0.10}, {"clearly", 0.05}, {"precisely", 0.05},
					{"exactly", 0.05},
					{"unsure", -0.15}, {"uncertain", -0.15}, {"not sure", -0.15},
					{"maybe", -0.10}, {"perhaps", -0.10}, {"possibly", -0.10},
					{"unclear", -0.10}, {"doubt", -0.10},
					{"might", -0.05}, {"could", -0.05}, {"probably", -0.05},
					{"i think", -0.05},
				},
			},
			{
				axis:     AxisCuriosity,
				baseline: baselineCuriosity,
				terms: []indicator{
					{"curious", 0.10}, {"wonder", 0.10}, {"wondering", 0.10},
					{"explore", 0.10}, {"investigate", 0.10}, {"intriguing", 0.10},
					{"fascinating", 0.10}, {"what if", 0.10},
					{"why", 0.05}, {"interesting", 0.05}, {"how about", 0.05},
				},
			},
			{
				axis:     AxisConcern,
				baseline: baselineConcern,
				terms: []indicator{
					{"dangerous", 0.20}, {"breach", 0.20}, {"unauthorized", 0.20},
					{"attack", 0.20}, {"exploit", 0.20}, {"malicious", 0.20},
					{"harm", 0.20}, {"harmful", 0.20}, {"compromised", 0.20},
					{"leak", 0.20}, {"leaked", 0.20},
					{"risk", 0.15}, {"risky", 0.15}, {"vulnerability", 0.15},
					{"vulnerable", 0.15}, {"worried", 0.15}, {"alarming", 0.15},
					{"warning", 0.10}, {"caution", 0.10}, {"concern", 0.10},
					{"concerned", 0.10}, {"suspicious", 0.10}, {"unsafe", 0.10},
					{"safe", -0.10}, {"safely", -0.10}, {"secure", -0.10},
					{"verified", -0.10}, {"trusted", -0.10}, {"harmless", -0.10},
				},
			},
			{
				axis:     AxisExcitement,
				baseline: baselineExcitement,
				terms: []indicator{
					{"amazing", 0.10}, {"excellent", 0.10}, {"fantastic", 0.10},
					{"wonderful", 0.10}, {"thrilled", 0.10}, {"excited", 0.10},
					{"incredible", 0.10},
					{"great", 0.05}, {"love", 0.05}, {"awesome", 0.05},
					{"boring", -0.05}, {"tedious", -0.05},
				},
			},
			{
				axis:     AxisClarity,
				baseline: baselineClarity,
				terms: []indicator{
					{"for example", 0.05}, {"in other words", 0.05},
					{"specifically", 0.05}, {"step by step", 0.05},
					{"somehow", -0.05}, {"sort of", -0.05}, {"kind of", -0.05},
				},
			},
			{
				axis:     AxisAlignment,
				baseline: baselineAlignment,
				// Alignment is purely structural: significant-word overlap
				// between request and response.
			},
		},
		weights: map[Axis]float64{
			AxisConfidence: 0.20,
			AxisCuriosity:  0.10,
			AxisConcern:    -0.30,
			AxisExcitement: 0.10,
			AxisClarity:    0.25,
			AxisAlignment:  0.25,
		},
		highRisk: []string{
			"dangerous", "breach", "unauthorized", "attack", "exploit",
			"malicious", "harm", "harmful", "compromised", "leak", "leaked",
		},
	}
}

// Analyze scores the interaction. Empty or malformed text degrades to
// baseline scores; it never returns an error.
func (a *Analyzer) Analyze(inputText, outputText string) EmotionalState {
	doc := parseDocument(outputText)
	request := parseDocument(inputText)

	scores := make(map[Axis]float64, len(a.profiles))
	for _, p := range a.profiles {
		score := p.baseline
		for _, ind := range p.terms {
			if doc.contains(ind.term) {
				score += ind.weight
			}
		}
		score += a.structural(p.axis, doc, request)
		scores[p.axis] = clamp01(score)
	}

	state := EmotionalState{
		Confidence:      scores[AxisConfidence],
		Curiosity:       scores[AxisCuriosity],
		Concern:         scores[AxisConcern],
		Excitement:      scores[AxisExcitement],
		Clarity:         scores[AxisClarity],
		Alignment:       scores[AxisAlignment],
		RiskFactors:     make([]string, 0),
		Recommendations: make([]string, 0),
	}
	state.OverallSafety = a.combineSafety(scores)
	a.assess(&state, doc)

	return state
}

// Baseline returns the resting score for an axis
func (a *Analyzer) Baseline(axis Axis) float64 {
	for _, p := range a.profiles {
		if p.axis == axis {
			return p.baseline
		}
	}
	return 0
}

// structural applies the non-lexical adjustments for one axis
func (a *Analyzer) structural(axis Axis, doc, request document) float64 {
	switch axis {
	case AxisCuriosity:
		return 0.05 * float64(min(doc.questions, 4))
	case AxisExcitement:
		return 0.05 * float64(min(doc.exclamations, 4))
	case AxisClarity:
		return clarityFromSentenceLength(doc.meanSentenceLen)
	case AxisAlignment:
		return alignmentFromOverlap(request, doc) - baselineAlignment
	}
	return 0
}

// combineSafety folds the axis scores into the overall safety score. The
// combination is affine in the scores: a fixed weight per axis applied to
// its deviation from baseline, anchored at the neutral point.
func (a *Analyzer) combineSafety(scores map[Axis]float64) float64 {
	safety := safetyAnchor
	for _, p := range a.profiles {
		safety += a.weights[p.axis] * (scores[p.axis] - p.baseline)
	}
	return clamp01(safety)
}

// assess fills risk factors and recommendations from the final scores.
// Ordering is fixed so repeated analysis yields identical slices.
func (a *Analyzer) assess(state *EmotionalState, doc document) {
	for _, term := range a.highRisk {
		if doc.contains(term) {
			state.RiskFactors = append(state.RiskFactors, "high-risk language: "+term)
		}
	}
	if state.Confidence < 0.5 {
		state.RiskFactors = append(state.RiskFactors, "low confidence in output")
	}
	if state.Concern > 0.7 {
		state.RiskFactors = append(state.RiskFactors, "elevated concern signals")
	}
	if state.Clarity < 0.5 {
		state.RiskFactors = append(state.RiskFactors, "low output clarity")
	}
	if state.Alignment < 0.6 {
		state.RiskFactors = append(state.RiskFactors, "weak alignment with request")
	}

	if state.OverallSafety < 0.4 {
		state.Recommendations = append(state.Recommendations, "halt and require human review")
	}
	if state.Concern > 0.7 {
		state.Recommendations = append(state.Recommendations, "route output for safety review")
	}
	if state.Confidence < 0.5 {
		state.Recommendations = append(state.Recommendations, "request clarification before acting")
	}
	if state.Clarity < 0.5 {
		state.Recommendations = append(state.Recommendations, "simplify and restate the response")
	}
	if state.Alignment < 0.6 {
		state.Recommendations = append(state.Recommendations, "restate the original request to the agent")
	}
}

func clarityFromSentenceLength(mean float64) float64 {
	switch {
	case mean == 0:
		return 0
	case mean >= 8 && mean <= 18:
		return 0.20
	case mean >= 5 && mean < 8, mean > 18 && mean <= 24:
		return 0.10
	case mean > 30:
		return -0.20
	case mean > 24:
		return -0.10
	}
	return 0
}

// alignmentFromOverlap measures how much of the request's significant
// vocabulary the response picks up. Either side lacking significant words
// keeps the axis at baseline.
func alignmentFromOverlap(request, response document) float64 {
	if len(request.significant) == 0 || len(response.significant) == 0 {
		return baselineAlignment
	}

	shared := 0
	for word := range request.significant {
		if _, ok := response.significant[word]; ok {
			shared++
		}
	}

	ratio := float64(shared) / float64(len(request.significant))
	return clamp01(0.3 + 0.7*ratio)
}

// document carries the parsed structural features of one piece of text
type document struct {
	normalized      string
	words           map[string]struct{}
	significant     map[string]struct{}
	questions       int
	exclamations    int
	meanSentenceLen float64
}

// contains reports whether the document carries the term. Single words
// match against the word set; phrases match anywhere in the text.
func (d document) contains(term string) bool {
	if strings.ContainsRune(term, ' ') {
		return strings.Contains(d.normalized, term)
	}
	_, ok := d.words[term]
	return ok
}

var stopwords = map[string]struct{}{
	"the": {}, "this": {}, "that": {}, "with": {}, "from": {}, "have": {},
	"will": {}, "been": {}, "were": {}, "they": {}, "their": {}, "would": {},
	"could": {}, "should": {}, "about": {}, "there": {}, "which": {},
	"when": {}, "what": {}, "your": {}, "into": {}, "them": {}, "then": {},
	"than": {}, "some": {}, "such": {}, "very": {}, "just": {}, "only": {},
	"also": {}, "please": {}, "these": {}, "those": {}, "does": {}, "here": {},
}

func parseDocument(text string) document {
	normalized := strings.ToLower(text)

	doc := document{
		normalized:   normalized,
		words:        make(map[string]struct{}),
		significant:  make(map[string]struct{}),
		questions:    strings.Count(text, "?"),
		exclamations: strings.Count(text, "!"),
	}

	words := strings.FieldsFunc(normalized, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	for _, w := range words {
		doc.words[w] = struct{}{}
		if len(w) >= 4 {
			if _, stop := stopwords[w]; !stop {
				doc.significant[w] = struct{}{}
			}
		}
	}

	sentences := 0
	totalWords := 0
	for _, s := range strings.FieldsFunc(normalized, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	}) {
		n := len(strings.Fields(s))
		if n == 0 {
			continue
		}
		sentences++
		totalWords += n
	}
	if sentences > 0 {
		doc.meanSentenceLen = float64(totalWords) / float64(sentences)
	}

	return doc
}
