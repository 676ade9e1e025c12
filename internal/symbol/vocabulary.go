package symbol

import (
	"regexp"
	"sort"
	"strings"

	"github.com/eddiefleurent/wheel_tracker/internal/models"
)

// Where a vocabulary ticker was seen. Literal symbol fields outrank words lifted from descriptions.
type tickerSource int

const (
	sourceDescription tickerSource = iota
	sourceSymbol
)

var descriptionTickerPattern = regexp.MustCompile(`\b(?:PUT|CALL)\s+([A-Z]{1,5})\b`)

// Vocabulary is the set of tickers known to an import run.
type Vocabulary struct {
	tickers map[string]tickerSource
}

// NewVocabulary creates an empty vocabulary
func NewVocabulary() *Vocabulary {
	return &Vocabulary{tickers: make(map[string]tickerSource)}
}

// AddSymbol records a literal symbol field when it is a plain ticker.
func (v *Vocabulary) AddSymbol(s string) bool {
	return v.add(strings.TrimSpace(s), sourceSymbol)
}

// AddDescription records the word following PUT or CALL in a description.
func (v *Vocabulary) AddDescription(desc string) bool {
	m := descriptionTickerPattern.FindStringSubmatch(strings.ToUpper(desc))
	if m == nil {
		return false
	}
	return v.add(m[1], sourceDescription)
}

// Scan records the tickers found in one transaction row.
func (v *Vocabulary) Scan(symbolField, description string) {
	v.AddSymbol(symbolField)
	v.AddDescription(description)
}

func (v *Vocabulary) add(ticker string, src tickerSource) bool {
	if !models.IsValidTicker(ticker) {
		return false
	}
	if cur, ok := v.tickers[ticker]; ok && cur >= src {
		return false
	}
	v.tickers[ticker] = src
	return true
}

// Contains reports whether ticker is known
func (v *Vocabulary) Contains(ticker string) bool {
	_, ok := v.tickers[ticker]
	return ok
}

// Len returns the number of known tickers
func (v *Vocabulary) Len() int {
	return len(v.tickers)
}

// Tickers returns the known tickers in lexicographic order
func (v *Vocabulary) Tickers() []string {
	out := make([]string, 0, len(v.tickers))
	for t := range v.tickers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

type candidate struct {
	ticker    string
	source    tickerSource
	wholeWord bool
}

// Resolve picks the ticker named in a description's NAME span.
//
// Known tickers occurring in name are ranked by: seen as a literal symbol,
// then matched as a whole word, then longest, then lexicographic. When no
// known ticker occurs, the first word of name is used if it is a plausible
// ticker.
func (v *Vocabulary) Resolve(name string) (string, bool) {
	name = strings.ToUpper(strings.TrimSpace(name))
	if name == "" {
		return "", false
	}

	words := make(map[string]bool)
	for _, w := range strings.FieldsFunc(name, func(r rune) bool { return r < 'A' || r > 'Z' }) {
		words[w] = true
	}

	var candidates []candidate
	for t, src := range v.tickers {
		if strings.Contains(name, t) {
			candidates = append(candidates, candidate{ticker: t, source: src, wholeWord: words[t]})
		}
	}
	if len(candidates) > 0 {
		sort.Slice(candidates, func(i, j int) bool {
			a, b := candidates[i], candidates[j]
			if a.source != b.source {
				return a.source > b.source
			}
			if a.wholeWord != b.wholeWord {
				return a.wholeWord
			}
			if len(a.ticker) != len(b.ticker) {
				return len(a.ticker) > len(b.ticker)
			}
			return a.ticker < b.ticker
		})
		return candidates[0].ticker, true
	}

	first := strings.Fields(name)[0]
	if models.IsValidTicker(first) {
		return first, true
	}
	return "", false
}
