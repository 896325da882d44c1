package engine

import (
	"errors"
	"strings"

	"pixel-embedder/internal/platform/config"
	"pixel-embedder/internal/submit"
)

// ErrorKind is the handling class of a failed submission.
type ErrorKind int

const (
	// KindTransient is any failure not matched by a keyword, including a
	// submission timeout. Short backoff, then continue.
	KindTransient ErrorKind = iota
	// KindRateLimited is generic rate pressure. Medium cooldown.
	KindRateLimited
	// KindBurstLimited is a server-side burst lockout. The burst tracker is
	// cleared and a long cooldown applies.
	KindBurstLimited
	// KindCreditExhausted ends the run.
	KindCreditExhausted
)

func (k ErrorKind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindBurstLimited:
		return "burst_limited"
	case KindCreditExhausted:
		return "credit_exhausted"
	default:
		return "transient"
	}
}

// Classifier maps raw failure text from the canvas service to an ErrorKind.
// Matching is a case-insensitive substring test, checked burst, rate, credit
// in that order.
type Classifier struct {
	burst  []string
	rate   []string
	credit []string
}

// NewClassifier builds a Classifier from keyword configuration.
func NewClassifier(kw config.Keywords) *Classifier {
	return &Classifier{
		burst:  lower(kw.Burst),
		rate:   lower(kw.Rate),
		credit: lower(kw.Credit),
	}
}

// Classify returns the kind of err. A nil error is transient.
func (c *Classifier) Classify(err error) ErrorKind {
	if err == nil || errors.Is(err, submit.ErrTimeout) {
		return KindTransient
	}
	return c.ClassifyText(err.Error())
}

// ClassifyText classifies a raw failure message.
func (c *Classifier) ClassifyText(msg string) ErrorKind {
	msg = strings.ToLower(msg)
	switch {
	case containsAny(msg, c.burst):
		return KindBurstLimited
	case containsAny(msg, c.rate):
		return KindRateLimited
	case containsAny(msg, c.credit):
		return KindCreditExhausted
	}
	return KindTransient
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if w != "" && strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func lower(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.ToLower(s))
	}
	return out
}
