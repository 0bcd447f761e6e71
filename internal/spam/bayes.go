package spam

import (
	"encoding/json"
	"math"
	"os"
	"regexp"
	"strings"
	"sync"
)

var tokenPattern = regexp.MustCompile(`[a-z0-9']+`)

// Bayes is a multinomial naive-Bayes text classifier over the three mail
// categories. Term weighting is log-count (a cheap TF-IDF stand-in that
// needs no corpus-wide document frequencies at classify time).
type Bayes struct {
	mu         sync.RWMutex
	classes    map[Category]*classStats
	vocabulary map[string]struct{}
}

type classStats struct {
	Docs       int                `json:"docs"`
	TokenCount int                `json:"token_count"`
	Tokens     map[string]int     `json:"tokens"`
}

// NewBayes creates an empty classifier. It reports Ready() == false until
// every class has at least one training document.
func NewBayes() *Bayes {
	return &Bayes{
		classes: map[Category]*classStats{
			Ham:       {Tokens: make(map[string]int)},
			Spam:      {Tokens: make(map[string]int)},
			Promotion: {Tokens: make(map[string]int)},
		},
		vocabulary: make(map[string]struct{}),
	}
}

// Ready reports whether the model has seen training data for every class.
func (b *Bayes) Ready() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, cs := range b.classes {
		if cs.Docs == 0 {
			return false
		}
	}
	return true
}

// Train adds one labeled document.
func (b *Bayes) Train(label Category, text string) {
	tokens := tokenize(text)
	b.mu.Lock()
	defer b.mu.Unlock()
	cs, ok := b.classes[label]
	if !ok {
		return
	}
	cs.Docs++
	for _, tok := range tokens {
		cs.Tokens[tok]++
		cs.TokenCount++
		b.vocabulary[tok] = struct{}{}
	}
}

// Probabilities returns the posterior for each class with Laplace
// smoothing, normalized to sum to one.
func (b *Bayes) Probabilities(text string) map[Category]float64 {
	tokens := tokenize(text)

	b.mu.RLock()
	defer b.mu.RUnlock()

	totalDocs := 0
	for _, cs := range b.classes {
		totalDocs += cs.Docs
	}
	vocab := float64(len(b.vocabulary))

	logProbs := make(map[Category]float64, len(b.classes))
	for label, cs := range b.classes {
		lp := math.Log(float64(cs.Docs+1) / float64(totalDocs+len(b.classes)))
		for _, tok := range tokens {
			count := float64(cs.Tokens[tok])
			// log-count weighting dampens very frequent terms
			lp += math.Log((math.Log1p(count) + 1) / (math.Log1p(float64(cs.TokenCount)) + vocab + 1))
		}
		logProbs[label] = lp
	}

	// normalize out of log space against the max to avoid underflow
	max := math.Inf(-1)
	for _, lp := range logProbs {
		if lp > max {
			max = lp
		}
	}
	sum := 0.0
	probs := make(map[Category]float64, len(logProbs))
	for label, lp := range logProbs {
		p := math.Exp(lp - max)
		probs[label] = p
		sum += p
	}
	for label := range probs {
		probs[label] /= sum
	}
	return probs
}

// LoadCorpus reads a JSON training file: {"samples":[{"label":"spam",
// "text":"..."}]}. Missing file is not an error; the model just stays
// unready and the rules layer decides alone.
func (b *Bayes) LoadCorpus(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var corpus struct {
		Samples []struct {
			Label Category `json:"label"`
			Text  string   `json:"text"`
		} `json:"samples"`
	}
	if err := json.Unmarshal(data, &corpus); err != nil {
		return err
	}
	for _, s := range corpus.Samples {
		b.Train(s.Label, s.Text)
	}
	return nil
}

func tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}
