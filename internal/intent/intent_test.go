package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClassifier(t *testing.T) *Classifier {
	t.Helper()
	c, err := NewClassifier(64)
	require.NoError(t, err)
	return c
}

func TestClassifyDetectsIntents(t *testing.T) {
	c := newTestClassifier(t)

	tests := []struct {
		query string
		want  []Intent
	}{
		{"dark leather boots", []Intent{IntentColor, IntentMaterial, IntentCategory}},
		{"cheap winter jacket", []Intent{IntentPrice, IntentSeason, IntentCategory}},
		{"wedding dress", []Intent{IntentOccasion, IntentCategory}},
		{"large wooden table", []Intent{IntentSize, IntentMaterial, IntentCategory}},
		{"vintage sneakers under $50", []Intent{IntentStyle, IntentCategory, IntentPrice}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got := c.Classify(tt.query)
			detected := make(map[Intent]bool)
			for _, s := range got.Signals {
				detected[s.Intent] = true
			}
			for _, intent := range tt.want {
				assert.True(t, detected[intent], "expected %s in %v", intent, got.Signals)
			}
		})
	}
}

func TestClassifyFallsBackToOther(t *testing.T) {
	c := newTestClassifier(t)
	got := c.Classify("zxqw fnord")
	assert.Equal(t, IntentOther, got.Primary)
	assert.Empty(t, got.Signals)
}

func TestClassifyNumericPriceIsStrongest(t *testing.T) {
	c := newTestClassifier(t)
	got := c.Classify("boots under $100")
	require.NotEmpty(t, got.Signals)
	assert.Equal(t, IntentPrice, got.Primary)
	assert.InDelta(t, 0.95, got.Signals[0].Confidence, 1e-9)
}

func TestClassifySignalsSortedByConfidence(t *testing.T) {
	c := newTestClassifier(t)
	got := c.Classify("dark dark leather boots for hiking in winter")
	for i := 1; i < len(got.Signals); i++ {
		assert.GreaterOrEqual(t, got.Signals[i-1].Confidence, got.Signals[i].Confidence)
	}
}

func TestComplexityBounds(t *testing.T) {
	c := newTestClassifier(t)

	easy := c.Classify("mug")
	assert.Equal(t, "easy", easy.Difficulty)
	assert.LessOrEqual(t, easy.Complexity, 1.0)

	hard := c.Classify("dark blue slim leather winter boots for hiking under $150 vintage large")
	assert.Equal(t, "hard", hard.Difficulty)
	assert.LessOrEqual(t, hard.Complexity, 1.0)
	assert.Greater(t, hard.Complexity, easy.Complexity)
}

func TestClassifyIsDeterministic(t *testing.T) {
	c := newTestClassifier(t)
	first := c.Classify("red silk dress")
	second := c.Classify("red silk dress")
	assert.Equal(t, first, second)
}
