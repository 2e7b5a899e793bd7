package labels

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gliner/internal/testmodel"
	"gliner/internal/tokenize"
)

func newEncoder(t *testing.T) *Encoder {
	t.Helper()
	tok, err := tokenize.Load(testmodel.WriteTokenizer(t, t.TempDir()), tokenize.Options{})
	require.NoError(t, err)
	return NewEncoder(tok)
}

func TestEncodeLayout(t *testing.T) {
	enc := newEncoder(t)
	vocab := testmodel.Vocab()

	p, err := enc.Encode([]string{"person", "new york", "city"})
	require.NoError(t, err)
	assert.Equal(t, []string{"person", "new york", "city"}, p.Labels)
	assert.Equal(t, []int64{
		testmodel.EntID, vocab["person"],
		testmodel.EntID, vocab["new"], vocab["york"],
		testmodel.EntID, vocab["city"],
		testmodel.MarkerSepID,
	}, p.IDs())
	assert.Equal(t, []int{0, 2, 5}, p.Markers)
	for _, tk := range p.Tokens {
		assert.Equal(t, -1, tk.Start)
		assert.Equal(t, -1, tk.End)
		assert.Equal(t, -1, tk.Word)
	}
}

func TestEncodeKeepsOrder(t *testing.T) {
	enc := newEncoder(t)
	vocab := testmodel.Vocab()
	p, err := enc.Encode([]string{"vehicle", "person"})
	require.NoError(t, err)
	assert.Equal(t, vocab["vehicle"], p.Tokens[1].ID)
	assert.Equal(t, vocab["person"], p.Tokens[3].ID)
}

func TestEncodeSingleLabel(t *testing.T) {
	enc := newEncoder(t)
	p, err := enc.Encode([]string{"person"})
	require.NoError(t, err)
	assert.Len(t, p.Tokens, 3)
}

func TestEncodeUnknownWordsStillEncode(t *testing.T) {
	enc := newEncoder(t)
	p, err := enc.Encode([]string{"spaceship"})
	require.NoError(t, err)
	assert.Equal(t, []int64{testmodel.EntID, testmodel.UnkID, testmodel.MarkerSepID}, p.IDs())
}

func TestEncodeRejects(t *testing.T) {
	enc := newEncoder(t)
	tests := []struct {
		name   string
		labels []string
		want   error
	}{
		{"nil", nil, ErrNoLabels},
		{"empty", []string{}, ErrNoLabels},
		{"empty label", []string{"person", ""}, ErrEmptyLabel},
		{"duplicate", []string{"person", "city", "person"}, ErrDuplicateLabel},
		{"whitespace", []string{"person", "  "}, ErrUnknownLabelToken},
		{"invalid utf8", []string{"\xfe"}, ErrUnknownLabelToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := enc.Encode(tt.labels)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestValidateReportsPositions(t *testing.T) {
	err := Validate([]string{"a", "b", "a"})
	require.ErrorIs(t, err, ErrDuplicateLabel)
	assert.Contains(t, err.Error(), "positions 0 and 2")
}
