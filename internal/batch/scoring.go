package batch

import (
	"math"
	"strings"
	"unicode"
)

// Scorer assigns a quality score in [0, 10] to a completed result. Scoring
// is policy; the manager only aggregates the values.
type Scorer interface {
	Score(r Result) float64
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(r Result) float64

func (f ScorerFunc) Score(r Result) float64 { return f(r) }

// HeuristicScorer rewards length, headings, list structure and figures.
type HeuristicScorer struct {
	// TargetRunes is the length that earns the full length score.
	TargetRunes int
}

func (h HeuristicScorer) Score(r Result) float64 {
	target := h.TargetRunes
	if target <= 0 {
		target = 2000
	}
	content := strings.TrimSpace(r.Content)
	if content == "" {
		return 0
	}
	score := 4 * math.Min(float64(len([]rune(content)))/float64(target), 1)

	var headings, listItems int
	for _, line := range strings.Split(content, "\n") {
		l := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(l, "#"):
			headings++
		case strings.HasPrefix(l, "- "), strings.HasPrefix(l, "* "), startsWithOrdinal(l):
			listItems++
		}
	}
	score += math.Min(float64(headings), 2)
	score += math.Min(float64(listItems)/2, 2)
	if strings.IndexFunc(content, unicode.IsDigit) >= 0 {
		score += 2
	}
	return math.Min(score, 10)
}

func startsWithOrdinal(l string) bool {
	i := 0
	for i < len(l) && l[i] >= '0' && l[i] <= '9' {
		i++
	}
	return i > 0 && i < len(l) && (l[i] == '.' || l[i] == ')')
}

// QualityStats summarises scores across completed results.
type QualityStats struct {
	Count   int            `json:"count"`
	Min     float64        `json:"min"`
	Max     float64        `json:"max"`
	Mean    float64        `json:"mean"`
	Buckets map[string]int `json:"buckets"`
}

// Stats aggregates a run.
type Stats struct {
	ItemCount  int          `json:"item_count"`
	Completed  int          `json:"completed"`
	Failed     int          `json:"failed"`
	Missing    int          `json:"missing"`
	TotalSize  int          `json:"total_size_bytes"`
	TotalWords int          `json:"total_words"`
	Quality    QualityStats `json:"quality"`
}

var bucketLabels = []string{"0-2", "2-4", "4-6", "6-8", "8-10"}

// ComputeStats aggregates results for items. A nil scorer skips quality.
func ComputeStats(items []Item, results map[string]Result, scorer Scorer) Stats {
	s := Stats{ItemCount: len(items), Quality: QualityStats{Buckets: map[string]int{}}}
	for _, l := range bucketLabels {
		s.Quality.Buckets[l] = 0
	}
	var sum float64
	for _, it := range items {
		r, ok := results[it.ID]
		switch {
		case !ok:
			s.Missing++
			continue
		case !r.Completed():
			s.Failed++
			continue
		}
		s.Completed++
		s.TotalSize += len(r.Content)
		s.TotalWords += r.WordCount
		if scorer == nil {
			continue
		}
		q := math.Max(0, math.Min(scorer.Score(r), 10))
		if s.Quality.Count == 0 || q < s.Quality.Min {
			s.Quality.Min = q
		}
		if q > s.Quality.Max {
			s.Quality.Max = q
		}
		s.Quality.Count++
		sum += q
		idx := int(q / 2)
		if idx >= len(bucketLabels) {
			idx = len(bucketLabels) - 1
		}
		s.Quality.Buckets[bucketLabels[idx]]++
	}
	if s.Quality.Count > 0 {
		s.Quality.Mean = sum / float64(s.Quality.Count)
	}
	return s
}

// CountWords counts whitespace separated words plus each CJK character.
func CountWords(s string) int {
	n := 0
	inWord := false
	for _, r := range s {
		switch {
		case unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r):
			n++
			inWord = false
		case unicode.IsSpace(r) || unicode.IsPunct(r):
			inWord = false
		default:
			if !inWord {
				n++
				inWord = true
			}
		}
	}
	return n
}
