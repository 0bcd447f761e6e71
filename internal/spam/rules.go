package spam

import (
	"regexp"
	"strings"
)

// Keyword weights are summed per hit and clamped to [0,1]. The lists are
// deliberately small and high-precision; the Bayes layer covers the long
// tail when enabled.
var spamKeywords = map[string]float64{
	"congratulations you won": 0.5,
	"you have won":            0.4,
	"claim your prize":        0.4,
	"claim now":               0.3,
	"lottery":                 0.3,
	"wire transfer":           0.25,
	"viagra":                  0.5,
	"casino":                  0.3,
	"million dollars":         0.35,
	"inheritance":             0.25,
	"act now":                 0.2,
	"risk free":               0.2,
	"100% free":               0.25,
	"make money fast":         0.4,
	"no credit check":         0.3,
	"urgent response needed":  0.25,
	"dear beneficiary":        0.4,
	"crypto investment":       0.3,
	"double your":             0.25,
	"winner":                  0.15,
}

var promotionKeywords = map[string]float64{
	"unsubscribe":        0.3,
	"newsletter":         0.25,
	"special offer":      0.3,
	"limited time offer": 0.3,
	"discount":           0.2,
	"% off":              0.3,
	"free shipping":      0.3,
	"flash sale":         0.35,
	"coupon":             0.25,
	"promo code":         0.3,
	"exclusive deal":     0.25,
	"buy now":            0.2,
	"shop now":           0.25,
	"new arrivals":       0.25,
	"black friday":       0.3,
	"view in browser":    0.25,
	"clearance":          0.2,
}

// suspiciousSenders match local parts and domains that almost never
// belong to a human customer.
var suspiciousSenders = []*regexp.Regexp{
	regexp.MustCompile(`^(noreply|no-reply|donotreply|do-not-reply)@`),
	regexp.MustCompile(`^(marketing|newsletter|promo|offers|deals)@`),
	regexp.MustCompile(`^[a-z]*\d{5,}@`),
	regexp.MustCompile(`@.*\.(top|click|loan|win|bid)$`),
}

var linkPattern = regexp.MustCompile(`https?://\S+`)

// ruleScores is the deterministic first layer: weighted keyword sums plus
// boolean signals, each clamped to [0,1].
func ruleScores(in Input) (spamScore, promoScore float64, reasons []string) {
	text := strings.ToLower(in.Subject + " " + in.BodyText)

	for kw, w := range spamKeywords {
		if strings.Contains(text, kw) {
			spamScore += w
			reasons = append(reasons, "keyword:"+kw)
		}
	}
	for kw, w := range promotionKeywords {
		if strings.Contains(text, kw) {
			promoScore += w
			reasons = append(reasons, "promo_keyword:"+kw)
		}
	}

	if isAllCaps(in.Subject) {
		spamScore += 0.2
		reasons = append(reasons, "all_caps_subject")
	}
	if in.ListUnsubscribe {
		promoScore += 0.4
		reasons = append(reasons, "list_unsubscribe_header")
	}

	from := strings.ToLower(in.From)
	for _, re := range suspiciousSenders {
		if re.MatchString(from) {
			spamScore += 0.15
			promoScore += 0.25
			reasons = append(reasons, "suspicious_sender")
			break
		}
	}

	if ratio := linkRatio(in.BodyText); ratio > 0.25 {
		spamScore += 0.2
		promoScore += 0.2
		reasons = append(reasons, "link_heavy_body")
	}

	return clamp01(spamScore), clamp01(promoScore), reasons
}

// isAllCaps reports whether a subject with at least three letters carries
// no lowercase at all.
func isAllCaps(s string) bool {
	letters := 0
	for _, r := range s {
		if r >= 'a' && r <= 'z' {
			return false
		}
		if r >= 'A' && r <= 'Z' {
			letters++
		}
	}
	return letters >= 3
}

// linkRatio is the share of body characters taken up by URLs.
func linkRatio(body string) float64 {
	if body == "" {
		return 0
	}
	linked := 0
	for _, m := range linkPattern.FindAllString(body, -1) {
		linked += len(m)
	}
	return float64(linked) / float64(len(body))
}

func clamp01(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}
