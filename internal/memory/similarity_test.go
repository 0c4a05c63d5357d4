package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "what is your name", Normalize("  What   is your NAME?! "))
	assert.Equal(t, "", Normalize(" ?? "))
	assert.Equal(t, "jak masz na imię", Normalize("Jak masz na imię?"))
}

func TestJaccard(t *testing.T) {
	assert.InDelta(t, 1.0, Jaccard("a b c", "C, b. A!"), 1e-9)
	assert.InDelta(t, 0.5, Jaccard("a b", "a b c d"), 1e-9)
	assert.Zero(t, Jaccard("", "a"))
	assert.Zero(t, Jaccard("a b", "c d"))
}

func TestMatches(t *testing.T) {
	assert.True(t, Matches("energy policy", "energy policy"))
	assert.True(t, Matches("energy policy", "energy policy in poland"))
	assert.True(t, Matches("energy policy in poland", "energy policy"))
	assert.False(t, Matches("tax", "tax reform"))
	assert.False(t, Matches("", "anything"))
}
