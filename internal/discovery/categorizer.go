package discovery

import (
	"regexp"
	"strings"

	"surveil/pkg/types"
)

// blacklistPhrases reject pure price-prediction questions, which are not
// event markets and would otherwise pollute every category.
var blacklistPhrases = []string{
	"price prediction",
	"hit $",
	"trading above",
	"trading below",
	"reach $",
	"close above",
	"close below",
}

// cryptoCatalystPhrases are required for a crypto-bearing question to be
// categorized at all — bare price-level questions about crypto are
// blacklisted separately, but even legitimate crypto questions need an
// actual event catalyst to be worth tracking.
var cryptoCatalystPhrases = []string{
	"etf", "approval", "fork", "halving", "upgrade", "hack", "delisting",
}

var cryptoWords = []string{"bitcoin", "btc", "ethereum", "eth", "crypto", "solana", "sol", "xrp", "doge"}

// categoryRule holds one category's keywords (substring match) and
// word-boundary phrases (whole-word match, weighted higher).
type categoryRule struct {
	category     types.Category
	keywords     []string
	wordBoundary []string
}

// categoryRules is an ordered slice, not a map: Categorize breaks score
// ties by picking the first rule in this order, so the category a
// question is assigned must not depend on Go's randomized map iteration.
var categoryRules = []categoryRule{
	{
		category:     types.CategoryPolitics,
		keywords:     []string{"election", "president", "senate", "congress", "governor", "vote"},
		wordBoundary: []string{"president", "senator", "governor"},
	},
	{
		category:     types.CategoryFed,
		keywords:     []string{"federal reserve", "fomc", "interest rate", "rate cut", "rate hike"},
		wordBoundary: []string{"fed", "powell"},
	},
	{
		category:     types.CategoryEarnings,
		keywords:     []string{"earnings", "quarterly report", "eps", "revenue"},
		wordBoundary: []string{"earnings"},
	},
	{
		category:     types.CategoryCEOChanges,
		keywords:     []string{"ceo", "resign", "step down", "replace"},
		wordBoundary: []string{"ceo"},
	},
	{
		category:     types.CategoryMergers,
		keywords:     []string{"merger", "acquire", "acquisition", "buyout"},
		wordBoundary: []string{"merger", "acquisition"},
	},
	{
		category:     types.CategorySportsAwards,
		keywords:     []string{"championship", "super bowl", "mvp", "world series", "playoffs"},
		wordBoundary: []string{"mvp"},
	},
	{
		category:     types.CategoryCourtCases,
		keywords:     []string{"supreme court", "lawsuit", "verdict", "ruling", "indictment"},
		wordBoundary: []string{"verdict"},
	},
	{
		category:     types.CategoryHollywoodAwards,
		keywords:     []string{"oscar", "academy award", "grammy", "emmy"},
		wordBoundary: []string{"oscar", "grammy", "emmy"},
	},
	{
		category:     types.CategoryEconomicData,
		keywords:     []string{"cpi", "gdp", "unemployment", "jobs report", "inflation"},
		wordBoundary: []string{"cpi", "gdp"},
	},
	{
		category:     types.CategoryWorldEvents,
		keywords:     []string{"war", "invasion", "treaty", "ceasefire", "summit"},
		wordBoundary: []string{"ceasefire"},
	},
	{
		category:     types.CategoryMacro,
		keywords:     []string{"recession", "gdp growth", "treasury yield"},
		wordBoundary: []string{"recession"},
	},
	{
		category:     types.CategoryCryptoEvents,
		keywords:     []string{"bitcoin etf", "crypto regulation", "sec approval"},
		wordBoundary: []string{"bitcoin", "ethereum"},
	},
	{
		category:     types.CategoryPardons,
		keywords:     []string{"pardon", "clemency", "commute sentence"},
		wordBoundary: []string{"pardon"},
	},
}

var wordRe = regexp.MustCompile(`[a-z0-9]+`)

// Categorize assigns a category tag to a market question. Deterministic;
// pure function of the question text.
func Categorize(question string) (category types.Category, score float64, blacklisted bool, matched []string) {
	q := strings.ToLower(question)

	for _, phrase := range blacklistPhrases {
		if strings.Contains(q, phrase) {
			return "", 0, true, nil
		}
	}

	if containsAny(q, cryptoWords) && !containsAny(q, cryptoCatalystPhrases) {
		return "", 0, true, nil
	}

	words := wordSet(q)

	var bestCategory types.Category
	var bestScore float64
	var bestMatched []string

	for _, rule := range categoryRules {
		var s float64
		var m []string
		for _, kw := range rule.keywords {
			if strings.Contains(q, kw) {
				s++
				m = append(m, kw)
			}
		}
		for _, kw := range rule.wordBoundary {
			if words[kw] {
				s += 0.5
				m = append(m, kw)
			}
		}
		// Strictly greater only: a tie keeps whichever rule came first in
		// categoryRules, so the result never depends on evaluation order.
		if s > bestScore {
			bestScore = s
			bestCategory = rule.category
			bestMatched = m
		}
	}

	if bestScore < 1 {
		return "", bestScore, false, nil
	}
	return bestCategory, bestScore, false, bestMatched
}

func containsAny(s string, substrs []string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func wordSet(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range wordRe.FindAllString(s, -1) {
		out[w] = true
	}
	return out
}
