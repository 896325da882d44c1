package engine

import (
	"errors"
	"fmt"
	"testing"

	"pixel-embedder/internal/platform/config"
	"pixel-embedder/internal/submit"
)

func TestClassifier_Classify(t *testing.T) {
	c := NewClassifier(config.DefaultEngine().Keywords)
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{&submit.RejectedError{Reason: "Burst limit exceeded, slow down"}, KindBurstLimited},
		{&submit.RejectedError{Reason: "BURST LIMIT"}, KindBurstLimited},
		{&submit.RejectedError{Reason: "Rate exceeded"}, KindRateLimited},
		{&submit.RejectedError{Reason: "Daily limit reached"}, KindRateLimited},
		{&submit.RejectedError{Reason: "Not enough credits"}, KindCreditExhausted},
		{&submit.RejectedError{Reason: "Insufficient Credit"}, KindCreditExhausted},
		{&submit.RejectedError{Reason: "Pixel placement failed"}, KindTransient},
		{submit.ErrTimeout, KindTransient},
		{fmt.Errorf("submit: %w", submit.ErrTimeout), KindTransient},
		{errors.New("connection reset"), KindTransient},
		{nil, KindTransient},
	}
	for _, tt := range tests {
		name := "nil"
		if tt.err != nil {
			name = tt.err.Error()
		}
		t.Run(name, func(t *testing.T) {
			if got := c.Classify(tt.err); got != tt.want {
				t.Fatalf("Classify = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestClassifier_ClassifyText_custom_keywords(t *testing.T) {
	c := NewClassifier(config.Keywords{
		Burst:  []string{"too fast"},
		Rate:   []string{"throttled"},
		Credit: []string{"balance"},
	})
	if got := c.ClassifyText("You are going TOO FAST"); got != KindBurstLimited {
		t.Fatalf("got %s", got)
	}
	if got := c.ClassifyText("throttled"); got != KindRateLimited {
		t.Fatalf("got %s", got)
	}
	if got := c.ClassifyText("low balance"); got != KindCreditExhausted {
		t.Fatalf("got %s", got)
	}
	if got := c.ClassifyText("rate limit"); got != KindTransient {
		t.Fatalf("default keywords should not apply, got %s", got)
	}
}
