package intent

import (
	"strings"

	"github.com/antoniostano/storageagent/internal/entities"
)

// Source records which rule produced a classification.
type Source string

const (
	SourceDTMF    Source = "dtmf"
	SourceEntity  Source = "entity"
	SourceKeyword Source = "keyword"
	SourceNone    Source = "none"
)

const (
	baseScore       = 0.5
	perMatchScore   = 0.1
	maxKeywordScore = 0.9
	entityScore     = 0.9
)

// Result is the outcome of classifying one turn.
type Result struct {
	Intent     Intent  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Source     Source  `json:"source"`
}

var keywords = map[Intent][]string{
	Availability: {"available", "unit", "space", "storage"},
	Pricing:      {"price", "cost", "rate", "much"},
	Information:  {"information", "details", "tell me about"},
	Hours:        {"hours", "open", "close", "access"},
	Location:     {"where", "location", "address", "directions"},
	Payment:      {"pay", "payment", "bill", "invoice"},
}

var dtmfMenu = map[string]Intent{
	"1": Availability,
	"2": Pricing,
	"3": Information,
}

// Classify picks exactly one intent for a turn. A pressed digit wins over
// anything spoken; otherwise an extracted unit size or duration decides
// before keyword scoring is consulted.
func Classify(text, digit string, extracted map[string]entities.Entity) Result {
	if digit = strings.TrimSpace(digit); digit != "" {
		return ClassifyDTMF(digit)
	}
	if r, ok := classifyEntities(extracted); ok {
		return r
	}
	return ClassifyKeywords(text)
}

func ClassifyDTMF(digit string) Result {
	if i, ok := dtmfMenu[strings.TrimSpace(digit)]; ok {
		return Result{Intent: i, Confidence: 1.0, Source: SourceDTMF}
	}
	return Result{Intent: Unknown, Confidence: 0, Source: SourceDTMF}
}

func classifyEntities(extracted map[string]entities.Entity) (Result, bool) {
	if _, ok := extracted[entities.TypeUnitSize]; ok {
		return Result{Intent: Availability, Confidence: entityScore, Source: SourceEntity}, true
	}
	if _, ok := extracted[entities.TypeDuration]; ok {
		return Result{Intent: Pricing, Confidence: entityScore, Source: SourceEntity}, true
	}
	return Result{}, false
}

// ClassifyKeywords scores each intent by keyword overlap:
// min(0.5 + 0.1*matches, 0.9), zero when nothing matches.
func ClassifyKeywords(text string) Result {
	text = strings.ToLower(text)
	best := Result{Intent: Unknown, Confidence: 0, Source: SourceNone}
	for _, i := range All {
		score := keywordScore(text, keywords[i])
		if score > best.Confidence {
			best = Result{Intent: i, Confidence: score, Source: SourceKeyword}
		}
	}
	return best
}

func keywordScore(text string, words []string) float64 {
	matches := 0
	for _, w := range words {
		if strings.Contains(text, w) {
			matches++
		}
	}
	if matches == 0 {
		return 0
	}
	score := baseScore + perMatchScore*float64(matches)
	if score > maxKeywordScore {
		return maxKeywordScore
	}
	return score
}
