// Package intent classifies search queries into shopping intents using
// lexicon rules. Classification is pure and deterministic; results are
// memoized in a small LRU since query distributions are heavily skewed.
package intent

import (
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Intent is a closed set of recognized shopping intents.
type Intent string

const (
	IntentPrice    Intent = "price"
	IntentColor    Intent = "color"
	IntentMaterial Intent = "material"
	IntentCategory Intent = "category"
	IntentBrand    Intent = "brand"
	IntentSize     Intent = "size"
	IntentStyle    Intent = "style"
	IntentSeason   Intent = "season"
	IntentOccasion Intent = "occasion"
	// IntentOther covers queries no lexicon recognizes.
	IntentOther Intent = "other"
)

// Signal is one detected intent with its confidence.
type Signal struct {
	Intent     Intent  `json:"intent"`
	Confidence float64 `json:"confidence"`
	// Terms are the query tokens that triggered the intent.
	Terms []string `json:"terms,omitempty"`
}

// Classification is the full analysis of one query.
type Classification struct {
	// Primary is the strongest detected intent, IntentOther when none.
	Primary Intent `json:"primary"`
	// Signals lists every detected intent, strongest first.
	Signals []Signal `json:"signals,omitempty"`
	// Complexity scores the query in [0, 1]: token count, intent
	// variety, and numeric constraints all push it up.
	Complexity float64 `json:"complexity"`
	// Difficulty buckets Complexity into easy, medium, hard.
	Difficulty string `json:"difficulty"`
}

var lexicons = map[Intent][]string{
	IntentColor: {
		"black", "white", "red", "blue", "green", "yellow", "brown", "grey",
		"gray", "navy", "beige", "pink", "purple", "orange", "dark", "light",
		"cream", "ivory", "gold", "silver", "tan", "olive", "burgundy",
	},
	IntentMaterial: {
		"leather", "suede", "cotton", "wool", "silk", "linen", "denim",
		"velvet", "cashmere", "polyester", "nylon", "canvas", "rubber",
		"metal", "wooden", "wood", "glass", "ceramic", "plastic",
	},
	IntentCategory: {
		"boots", "shoes", "sneakers", "sandals", "jacket", "coat", "dress",
		"shirt", "pants", "jeans", "skirt", "sweater", "hoodie", "scarf",
		"hat", "bag", "backpack", "wallet", "belt", "socks", "gloves",
		"watch", "sofa", "chair", "table", "lamp", "rug", "mug",
	},
	IntentSize: {
		"small", "medium", "large", "xl", "xxl", "xs", "petite", "tall",
		"slim", "wide", "narrow", "oversized", "fitted", "compact", "mini",
	},
	IntentStyle: {
		"casual", "formal", "vintage", "modern", "classic", "minimalist",
		"bohemian", "retro", "elegant", "sporty", "rustic", "chic",
	},
	IntentSeason: {
		"winter", "summer", "spring", "autumn", "fall", "rainy", "snow",
		"warm", "cold", "thermal", "insulated", "breathable",
	},
	IntentOccasion: {
		"wedding", "party", "office", "work", "gym", "hiking", "travel",
		"beach", "outdoor", "running", "christmas", "birthday", "gift",
	},
}

var priceWords = []string{
	"cheap", "affordable", "budget", "expensive", "premium", "luxury",
	"under", "over", "below", "above", "discount", "sale",
}

var pricePattern = regexp.MustCompile(`(?:[$€£]\s?\d+|\d+\s?(?:dollars|euros|bucks|usd|eur))`)

// Classifier memoizes query classifications.
type Classifier struct {
	cache *lru.Cache[string, Classification]
}

// NewClassifier creates a classifier with the given memo capacity.
func NewClassifier(cacheSize int) (*Classifier, error) {
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	cache, err := lru.New[string, Classification](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Classifier{cache: cache}, nil
}

// Classify analyzes a normalized query.
func (c *Classifier) Classify(query string) Classification {
	if cached, ok := c.cache.Get(query); ok {
		return cached
	}
	result := classify(query)
	c.cache.Add(query, result)
	return result
}

func classify(query string) Classification {
	lowered := strings.ToLower(query)
	tokens := strings.Fields(lowered)
	tokenSet := make(map[string]bool, len(tokens))
	for _, tok := range tokens {
		tokenSet[tok] = true
	}

	var signals []Signal

	for intent, words := range lexicons {
		var matched []string
		for _, w := range words {
			if tokenSet[w] {
				matched = append(matched, w)
			}
		}
		if len(matched) > 0 {
			signals = append(signals, Signal{
				Intent:     intent,
				Confidence: confidence(len(matched), len(tokens)),
				Terms:      matched,
			})
		}
	}

	var priceTerms []string
	for _, w := range priceWords {
		if tokenSet[w] {
			priceTerms = append(priceTerms, w)
		}
	}
	numericPrice := pricePattern.MatchString(lowered)
	if len(priceTerms) > 0 || numericPrice {
		conf := confidence(len(priceTerms), len(tokens))
		if numericPrice {
			// An explicit amount is the strongest possible price signal.
			conf = 0.95
		}
		signals = append(signals, Signal{Intent: IntentPrice, Confidence: conf, Terms: priceTerms})
	}

	sortSignals(signals)

	primary := IntentOther
	if len(signals) > 0 {
		primary = signals[0].Intent
	}

	complexity := complexityScore(len(tokens), len(signals), numericPrice)
	return Classification{
		Primary:    primary,
		Signals:    signals,
		Complexity: complexity,
		Difficulty: difficultyLabel(complexity),
	}
}

// confidence grows with the matched share of the query, floored so a
// single match in a long query still registers.
func confidence(matched, tokens int) float64 {
	if tokens == 0 {
		return 0
	}
	c := 0.4 + 0.6*float64(matched)/float64(tokens)
	if c > 1 {
		c = 1
	}
	return c
}

func sortSignals(signals []Signal) {
	// Insertion sort keeps ties in lexicon order stable enough; the
	// slice is tiny.
	for i := 1; i < len(signals); i++ {
		for j := i; j > 0; j-- {
			a, b := signals[j-1], signals[j]
			if b.Confidence > a.Confidence ||
				(b.Confidence == a.Confidence && b.Intent < a.Intent) {
				signals[j-1], signals[j] = b, a
			} else {
				break
			}
		}
	}
}

func complexityScore(tokens, intents int, numericPrice bool) float64 {
	score := float64(tokens) / 12
	if score > 0.5 {
		score = 0.5
	}
	score += 0.15 * float64(intents)
	if numericPrice {
		score += 0.1
	}
	if score > 1 {
		score = 1
	}
	return score
}

func difficultyLabel(complexity float64) string {
	switch {
	case complexity < 0.3:
		return "easy"
	case complexity < 0.6:
		return "medium"
	default:
		return "hard"
	}
}
