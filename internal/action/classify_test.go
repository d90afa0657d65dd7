package action

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanStripsMarkupAndPunctuation(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"<col=00ff00>Varrock Teleport</col>", "varrock teleport"},
		{"  Teleport to House (outside)  ", "teleport to house outside"},
		{"Camelot Teleport: Seers'", "camelot teleport seers"},
		{"Low Level Alchemy", "low level alchemy"},
		{"<img=1>Tele Group Icy", "tele group icy"},
		{"unterminated <tag", "unterminated tag"},
		{"", ""},
		{"1234", ""},
		{"<col=ffffff><lt=3>Lunar Home Teleport", "lunar home teleport"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, Clean(tc.in), "Clean(%q)", tc.in)
	}
}

func TestClassifyIsIdempotentAndCaseInsensitive(t *testing.T) {
	c := Default()
	inputs := []string{
		"<col=ff9040>Varrock Teleport</col>",
		"Varrock Teleport (Grand Exchange)",
		"TELEPORT TO HOUSE",
		"teleport to house: outside",
		"Home-Teleport",
		"Watchtower Teleport <col=ffffff>Yanille",
		"High Level Alchemy",
	}
	for _, in := range inputs {
		once := c.Classify(in)
		assert.Equal(t, once, c.Classify(once), "classify not idempotent for %q", in)
		assert.Equal(t, once, c.Classify(upper(in)), "classify not case-insensitive for %q", in)
		assert.Equal(t, once, c.Classify(Clean(in)), "markup stripping order changed result for %q", in)
	}
}

func TestClassifyResolvesAliases(t *testing.T) {
	c := Default()
	assert.Equal(t, "varrock teleport", c.Classify("Varrock Teleport (Grand Exchange)"))
	assert.Equal(t, "teleport to house", c.Classify("Teleport to House: Outside"))
	assert.Equal(t, "camelot teleport", c.Classify("Camelot Teleport Seers"))
	assert.Equal(t, "watchtower teleport", c.Classify("Watchtower Teleport Yanille"))
	assert.Equal(t, "lumbridge home teleport", c.Classify("Lumbridge Home Teleport"))
}

func TestIsGoverned(t *testing.T) {
	c := Default()
	assert.True(t, c.IsGoverned("<col=00ff00>Varrock Teleport"))
	assert.True(t, c.IsGoverned("Tele Group Ice Plateau"))
	assert.False(t, c.IsGoverned("Low Level Alchemy"))
	assert.False(t, c.IsGoverned(""))
}

func TestIsMenuVerb(t *testing.T) {
	c := Default()
	assert.True(t, c.IsMenuVerb("Cast"))
	assert.True(t, c.IsMenuVerb(" cast "))
	assert.False(t, c.IsMenuVerb("Examine"))
}

func TestNewClassifierRejectsOverlap(t *testing.T) {
	_, err := NewClassifier(Options{Aliases: []AliasGroup{
		{Base: "varrock teleport", Alternates: []string{"grand exchange"}},
		{Base: "other teleport", Alternates: []string{"Grand Exchange"}},
	}})
	require.Error(t, err)

	_, err = NewClassifier(Options{Aliases: []AliasGroup{
		{Base: "seers teleport", Alternates: []string{"village"}},
		{Base: "camelot teleport", Alternates: []string{"seers"}},
	}})
	require.Error(t, err)

	_, err = NewClassifier(Options{Aliases: []AliasGroup{{Base: "<b></b>", Alternates: []string{"x"}}}})
	require.Error(t, err)
}

func TestMatchesTrigger(t *testing.T) {
	assert.True(t, MatchesTrigger("low alchemy", "alchemy"))
	assert.True(t, MatchesTrigger("alch", "high level alchemy"))
	assert.False(t, MatchesTrigger("varrock teleport", "alchemy"))
	assert.False(t, MatchesTrigger("", "alchemy"))
	assert.False(t, MatchesTrigger("alchemy", ""))
}

func upper(s string) string {
	out := []byte(s)
	for i, c := range out {
		if c >= 'a' && c <= 'z' {
			out[i] = c - 'a' + 'A'
		}
	}
	return string(out)
}
