package executor

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gliner/internal/backend"
	"gliner/internal/labels"
	"gliner/internal/testmodel"
	"gliner/internal/tokenize"
)

type fixture struct {
	tok    *tokenize.Tokenizer
	prompt *labels.Prompt
}

func newFixture(t *testing.T, labelSet ...string) fixture {
	t.Helper()
	tok, err := tokenize.Load(testmodel.WriteTokenizer(t, t.TempDir()), tokenize.Options{})
	require.NoError(t, err)
	prompt, err := labels.NewEncoder(tok).Encode(labelSet)
	require.NoError(t, err)
	return fixture{tok: tok, prompt: prompt}
}

func (f fixture) encode(t *testing.T, texts ...string) []*tokenize.Encoding {
	t.Helper()
	out := make([]*tokenize.Encoding, len(texts))
	for i, s := range texts {
		enc, err := f.tok.Tokenize(s)
		require.NoError(t, err)
		out[i] = enc
	}
	return out
}

func newOracle() *testmodel.Oracle {
	return testmodel.NewOracle(4, map[string]map[string]float32{
		"person":  {"james bond": 3, "alice": 2, "bob": 1.5},
		"vehicle": {"aston martin": 4},
	})
}

type stubSession struct {
	inputs []backend.TensorInfo
	out    []backend.NamedTensor
}

func (s *stubSession) Run([]backend.NamedTensor) ([]backend.NamedTensor, error) { return s.out, nil }
func (s *stubSession) InputInfo() []backend.TensorInfo                          { return s.inputs }
func (s *stubSession) OutputInfo() []backend.TensorInfo                         { return nil }
func (s *stubSession) Close() error                                             { return nil }

func TestNewRequiresGLiNERInputs(t *testing.T) {
	f := newFixture(t, "person")
	s := &stubSession{inputs: []backend.TensorInfo{{Name: "input_ids"}, {Name: "attention_mask"}}}
	_, err := New(s, f.tok.SpecialIDs(), Options{MaxWidth: 4, MaxLen: 64})
	require.ErrorIs(t, err, ErrMissingInput)
	for _, name := range []string{"words_mask", "text_lengths", "span_idx", "span_mask"} {
		assert.Contains(t, err.Error(), name)
	}
}

func TestExecuteScoresEachText(t *testing.T) {
	f := newFixture(t, "person", "vehicle")
	oracle := newOracle()
	x, err := New(oracle, f.tok.SpecialIDs(), Options{MaxWidth: 4, MaxLen: 64, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)

	encs := f.encode(t, "My name is James Bond.", "I drive an Aston Martin.")
	scores, err := x.Execute(encs, f.prompt)
	require.NoError(t, err)
	require.Len(t, scores, 2)
	assert.Equal(t, 1, oracle.Calls())

	first := scores[0]
	assert.Equal(t, 6, first.NumWords)
	assert.Len(t, first.Logits, 6*4*2)
	assert.Equal(t, float32(3), first.At(3, 2, 0))
	assert.Equal(t, float32(-8), first.At(3, 2, 1))
	assert.Equal(t, float32(-8), first.At(3, 1, 0))
	assert.Equal(t, []float32{3, -8}, first.Labels(3, 2))

	second := scores[1]
	assert.Equal(t, float32(4), second.At(3, 2, 1))
	assert.Equal(t, float32(-8), second.At(3, 2, 0))
}

func TestExecutePaddingDoesNotChangeScores(t *testing.T) {
	f := newFixture(t, "person", "vehicle")
	oracle := newOracle()
	x, err := New(oracle, f.tok.SpecialIDs(), Options{MaxWidth: 4, MaxLen: 128})
	require.NoError(t, err)

	texts := []string{"Bob", "Alice met Bob in Paris before flying to New York.", "I drive an Aston Martin."}
	batched, err := x.Execute(f.encode(t, texts...), f.prompt)
	require.NoError(t, err)
	for i, text := range texts {
		single, err := x.Execute(f.encode(t, text), f.prompt)
		require.NoError(t, err)
		assert.Equal(t, single[0], batched[i], "text %d", i)
	}
}

func TestExecuteMaskedSlotsAreDropped(t *testing.T) {
	f := newFixture(t, "person")
	x, err := New(newOracle(), f.tok.SpecialIDs(), Options{MaxWidth: 4, MaxLen: 64})
	require.NoError(t, err)

	scores, err := x.Execute(f.encode(t, "Bob", "Alice met Bob"), f.prompt)
	require.NoError(t, err)
	assert.Len(t, scores[0].Logits, 1*4*1)
	assert.Equal(t, float32(1.5), scores[0].At(0, 1, 0))
	assert.Equal(t, float32(25), scores[0].At(0, 2, 0))
}

func TestExecuteSequenceTooLong(t *testing.T) {
	f := newFixture(t, "person")
	oracle := newOracle()
	x, err := New(oracle, f.tok.SpecialIDs(), Options{MaxWidth: 4, MaxLen: 12})
	require.NoError(t, err)

	encs := f.encode(t, "Bob", strings.Repeat("bob ", 20))
	_, err = x.Execute(encs, f.prompt)
	require.ErrorIs(t, err, ErrSequenceTooLong)
	assert.Contains(t, err.Error(), "text 1")
	assert.Equal(t, 0, oracle.Calls())

	assert.NoError(t, x.Check(encs[0], f.prompt))
	assert.Equal(t, 2+3+1, SequenceLength(encs[0], f.prompt))
}

func TestCheckWordLimit(t *testing.T) {
	f := newFixture(t, "person")
	x, err := New(newOracle(), f.tok.SpecialIDs(), Options{MaxWidth: 4, MaxLen: 512, MaxWords: 3})
	require.NoError(t, err)

	encs := f.encode(t, "Bob met Alice", "Bob met Alice in Paris")
	assert.NoError(t, x.Check(encs[0], f.prompt))
	err = x.Check(encs[1], f.prompt)
	require.ErrorIs(t, err, ErrSequenceTooLong)
	assert.Contains(t, err.Error(), "5 words, limit 3")

	unlimited, err := New(newOracle(), f.tok.SpecialIDs(), Options{MaxWidth: 4, MaxLen: 512})
	require.NoError(t, err)
	assert.NoError(t, unlimited.Check(encs[1], f.prompt))
}

func TestExecuteWordlessTextsSkipModel(t *testing.T) {
	f := newFixture(t, "person")
	oracle := newOracle()
	x, err := New(oracle, f.tok.SpecialIDs(), Options{MaxWidth: 4, MaxLen: 64})
	require.NoError(t, err)

	scores, err := x.Execute(f.encode(t, "", "   "), f.prompt)
	require.NoError(t, err)
	require.Len(t, scores, 2)
	assert.Zero(t, scores[0].NumWords)
	assert.Empty(t, scores[1].Logits)
	assert.Equal(t, 0, oracle.Calls())
}

func TestExecuteSerializesNonReentrantSession(t *testing.T) {
	f := newFixture(t, "person")
	oracle := newOracle()
	oracle.Delay = 5 * time.Millisecond
	x, err := New(oracle, f.tok.SpecialIDs(), Options{MaxWidth: 4, MaxLen: 64})
	require.NoError(t, err)

	encs := f.encode(t, "Alice met Bob")
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := x.Execute(encs, f.prompt)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 6, oracle.Calls())
	assert.Equal(t, 1, oracle.PeakInflight())
}

func TestExecuteAcceptsFlatOutput(t *testing.T) {
	f := newFixture(t, "person")
	inputs := newOracle().InputInfo()
	s := &stubSession{inputs: inputs, out: []backend.NamedTensor{{
		Name:  "logits",
		Shape: []int64{1, 4, 1},
		Data:  []float32{0.5, 1, 2, 3},
	}}}
	x, err := New(s, f.tok.SpecialIDs(), Options{MaxWidth: 4, MaxLen: 64})
	require.NoError(t, err)

	scores, err := x.Execute(f.encode(t, "Bob"), f.prompt)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 1, 2, 3}, scores[0].Logits)
}

func TestExecuteRejectsBadOutput(t *testing.T) {
	f := newFixture(t, "person")
	inputs := newOracle().InputInfo()
	tests := []struct {
		name string
		out  []backend.NamedTensor
	}{
		{"no float output", []backend.NamedTensor{{Name: "ids", Shape: []int64{1}, Data: []int64{1}}}},
		{"wrong labels", []backend.NamedTensor{{Name: "logits", Shape: []int64{1, 1, 4, 2}, Data: make([]float32, 8)}}},
		{"too few words", []backend.NamedTensor{{Name: "logits", Shape: []int64{1, 1, 4, 1}, Data: make([]float32, 4)}}},
		{"short data", []backend.NamedTensor{{Name: "logits", Shape: []int64{1, 3, 4, 1}, Data: make([]float32, 5)}}},
		{"rank 2", []backend.NamedTensor{{Name: "logits", Shape: []int64{1, 12}, Data: make([]float32, 12)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x, err := New(&stubSession{inputs: inputs, out: tt.out}, f.tok.SpecialIDs(), Options{MaxWidth: 4, MaxLen: 64})
			require.NoError(t, err)
			_, err = x.Execute(f.encode(t, "Alice met Bob"), f.prompt)
			assert.ErrorIs(t, err, ErrBadOutput)
		})
	}
}
