// Package spam classifies inbound email as ham, spam, or promotion.
// A deterministic rule layer always runs; an optional naive-Bayes layer,
// when trained, blends in at 60/40 (model/rules). The poller applies the
// exceptions (known sender, reply to an open ticket) before acting on the
// verdict — classification itself is context-free.
package spam

// Category is the classification verdict.
type Category string

const (
	Ham       Category = "ham"
	Spam      Category = "spam"
	Promotion Category = "promotion"
)

// Input is one email to classify.
type Input struct {
	Subject         string
	BodyText        string
	From            string
	ListUnsubscribe bool
}

// Result carries the verdict and the signals behind it.
type Result struct {
	Category       Category
	SpamScore      float64
	PromotionScore float64
	Reasons        []string
}

// Options tune the decision thresholds.
type Options struct {
	SpamThreshold      float64
	PromotionThreshold float64
}

// DefaultOptions returns the documented thresholds.
func DefaultOptions() Options {
	return Options{SpamThreshold: 0.5, PromotionThreshold: 0.5}
}

// Classifier is safe for concurrent use.
type Classifier struct {
	opts  Options
	model *Bayes
}

// New creates a rules-only classifier.
func New(opts Options) *Classifier {
	if opts.SpamThreshold == 0 {
		opts.SpamThreshold = 0.5
	}
	if opts.PromotionThreshold == 0 {
		opts.PromotionThreshold = 0.5
	}
	return &Classifier{opts: opts}
}

// WithModel attaches the Bayes layer. A model that is not Ready is
// ignored at classify time.
func (c *Classifier) WithModel(m *Bayes) *Classifier {
	c.model = m
	return c
}

// Classify scores the input and picks a category. When both scores cross
// their thresholds, spam wins.
func (c *Classifier) Classify(in Input) Result {
	spamScore, promoScore, reasons := ruleScores(in)

	if c.model != nil && c.model.Ready() {
		probs := c.model.Probabilities(in.Subject + " " + in.BodyText)
		spamScore = 0.6*probs[Spam] + 0.4*spamScore
		promoScore = 0.6*probs[Promotion] + 0.4*promoScore
		reasons = append(reasons, "model_blend")
	}

	res := Result{
		Category:       Ham,
		SpamScore:      spamScore,
		PromotionScore: promoScore,
		Reasons:        reasons,
	}
	switch {
	case spamScore >= c.opts.SpamThreshold:
		res.Category = Spam
	case promoScore >= c.opts.PromotionThreshold:
		res.Category = Promotion
	}
	return res
}
