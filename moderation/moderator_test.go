package moderation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const replacementChar = '*'

// The dictionary uses specific words to avoid partial collisions (e.g., "he" inside "The")
func TestModerator_Censor(t *testing.T) {
	req := require.New(t)
	dictionary := []string{"badger", "snake", "mushroom"}
	mod, err := NewModerator(dictionary, replacementChar)
	req.NoError(err)

	tests := []struct {
		name     string
		input    string
		expected string
		words    []string
	}{
		{
			name:     "Simple word and space preservation",
			input:    "The badger is here",
			expected: "The ****** is here",
			words:    []string{"badger"},
		},
		{
			name:     "Multiple occurrences and preserved spacing",
			input:    "badger badger badger",
			expected: "****** ****** ******",
			words:    []string{"badger", "badger", "badger"},
		},
		{
			name:     "Leet speak substitution",
			input:    "watch the b4dg3r run",
			expected: "watch the ****** run",
			words:    []string{"badger"},
		},
		{
			name:     "Internal punctuation noise",
			input:    "Look at B.a.d.g.e.r now",
			expected: "Look at *********** now",
			words:    []string{"badger"},
		},
		{
			name:     "Uppercase",
			input:    "SNAKE in the grass",
			expected: "***** in the grass",
			words:    []string{"snake"},
		},
		{
			name:     "Clean text untouched",
			input:    "nothing to see here",
			expected: "nothing to see here",
			words:    nil,
		},
		{
			name:     "Empty input",
			input:    "",
			expected: "",
			words:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			censored, found := mod.Censor(tt.input)
			req.Equal(tt.expected, censored)
			req.Equal(tt.words, found)
		})
	}
}

func TestModerator_EmbeddedDictionaries(t *testing.T) {
	req := require.New(t)

	data, err := LoadDefault()
	req.NoError(err)
	req.NotEmpty(data.Words)
	req.Contains(data.Languages, "en")
	req.Contains(data.Languages, "fr")

	_, err = NewModerator(data.Words, replacementChar)
	req.NoError(err)
}
