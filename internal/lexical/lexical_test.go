package lexical

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokens(t *testing.T) {
	assert.Equal(t, []string{"dimitri", "met", "byleth", "s", "class"},
		Tokens("Dimitri met Byleth's class!"))
	assert.Empty(t, Tokens("  ...  "))
}

func TestJaccard(t *testing.T) {
	assert.Equal(t, 1.0, Jaccard("the office memo", "The office memo."))
	assert.Equal(t, 0.0, Jaccard("alpha beta", "gamma delta"))
	assert.Equal(t, 0.0, Jaccard("", "anything"))
	// {a,b,c} vs {b,c,d}: 2 shared out of 4.
	assert.InDelta(t, 0.5, Jaccard("a b c", "b c d"), 1e-9)
}

func TestOverlap(t *testing.T) {
	q := TokenSet("dimitri jealous")
	assert.Equal(t, 1.0, Overlap(q, TokenSet("Dimitri grew jealous of Sylvain")))
	assert.Equal(t, 0.5, Overlap(q, TokenSet("dimitri was calm")))
	assert.Equal(t, 0.0, Overlap(map[string]bool{}, TokenSet("anything")))
}

func TestContains(t *testing.T) {
	assert.True(t, Contains("Mercedes will visit next week", "next week"))
	assert.False(t, Contains("Mercedes visited last week", "next week"))
	// Token-wise, not substring-wise.
	assert.False(t, Contains("the nextweek plan", "next week"))
}
