package chunk

import (
	"math/rand/v2"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/annotate-cli/internal/model"
)

func join(chunks []model.Chunk) string {
	var b strings.Builder
	for _, c := range chunks {
		b.WriteString(c.Text)
	}
	return b.String()
}

func assertContiguous(t *testing.T, text string, chunks []model.Chunk) {
	t.Helper()
	assert.Equal(t, text, join(chunks))
	next := 0
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.Equal(t, next, c.Start)
		next = c.End()
	}
	assert.Equal(t, utf8.RuneCountInString(text), next)
}

func TestSplit_MinimumChunksWithoutBoundaries(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("水", 12000)
	chunks := New(4000, 0).Collect(text)

	require.Len(t, chunks, 3)
	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, 4000, chunks[1].Start)
	assert.Equal(t, 8000, chunks[2].Start)
	assertContiguous(t, text, chunks)
}

func TestSplit_MinimumChunksWithDenseBoundaries(t *testing.T) {
	t.Parallel()

	// 47-rune sentences: every cut near the limit leaves a short remainder.
	sentence := strings.Repeat("水", 46) + "。"
	text := strings.Repeat(sentence, 255) + strings.Repeat("水", 15)
	require.Equal(t, 12000, utf8.RuneCountInString(text))

	chunks := New(4000, 0).Collect(text)
	require.Len(t, chunks, 3)
	for i, c := range chunks {
		assert.LessOrEqual(t, c.Len(), 4000)
		if i > 0 {
			assert.Greater(t, c.Start, chunks[i-1].Start)
		}
	}
	assertContiguous(t, text, chunks)
}

func TestSplit_BoundaryUsedWhenSlackAllows(t *testing.T) {
	t.Parallel()

	sentence := strings.Repeat("水", 46) + "。"
	text := strings.Repeat(sentence, 200)
	chunks := New(4000, 0).Collect(text)

	require.Len(t, chunks, 3)
	assert.True(t, strings.HasSuffix(chunks[0].Text, "。"))
	assert.Equal(t, 3995, chunks[1].Start)
	assertContiguous(t, text, chunks)
}

func TestSplit_ShortDocumentSingleChunk(t *testing.T) {
	t.Parallel()

	chunks := New(100, 0).Collect("第一条 为了防治洪水，制定本法。")
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Start)
}

func TestSplit_Empty(t *testing.T) {
	t.Parallel()
	assert.Empty(t, New(100, 0).Collect(""))
}

func TestSplit_PrefersParagraphBoundary(t *testing.T) {
	t.Parallel()

	// Paragraph break at rune 95, sentence end at rune 98, limit 100.
	text := strings.Repeat("甲", 93) + "\n\n" + "乙乙。" + strings.Repeat("丙", 50)
	chunks := New(100, 20).Collect(text)

	require.GreaterOrEqual(t, len(chunks), 2)
	assert.True(t, strings.HasSuffix(chunks[0].Text, "\n\n"))
	assert.Equal(t, 95, chunks[1].Start)
	assertContiguous(t, text, chunks)
}

func TestSplit_SentenceBoundaryInsideTolerance(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("甲", 90) + "。" + strings.Repeat("乙", 60)
	chunks := New(100, 20).Collect(text)

	require.Len(t, chunks, 2)
	assert.True(t, strings.HasSuffix(chunks[0].Text, "。"))
	assert.Equal(t, 91, chunks[1].Start)
	assertContiguous(t, text, chunks)
}

func TestSplit_BoundaryOutsideToleranceIsIgnored(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("甲", 50) + "。" + strings.Repeat("乙", 100)
	chunks := New(100, 10).Collect(text)

	require.Len(t, chunks, 2)
	assert.Equal(t, 100, chunks[1].Start)
	assertContiguous(t, text, chunks)
}

func TestSplit_ASCIISentence(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("a", 85) + ". " + strings.Repeat("b", 40)
	chunks := New(100, 20).Collect(text)

	require.Len(t, chunks, 2)
	assert.Equal(t, 87, chunks[1].Start)
	assertContiguous(t, text, chunks)
}

func TestSplit_Restartable(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("第一条。\n", 300)
	seq := New(200, 0).Split(text)

	var first, second []model.Chunk
	for c := range seq {
		first = append(first, c)
	}
	for c := range seq {
		second = append(second, c)
	}
	assert.Equal(t, first, second)
	assertContiguous(t, text, first)
}

func TestSplit_EarlyBreak(t *testing.T) {
	t.Parallel()

	var n int
	for range New(10, 0).Split(strings.Repeat("x", 100)) {
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}

func TestSplit_RoundTripRandom(t *testing.T) {
	t.Parallel()

	alphabet := []rune("防洪法第条。，\n 水利abc.!?；")
	r := rand.New(rand.NewPCG(7, 11))
	for i := 0; i < 50; i++ {
		n := r.IntN(3000)
		var b strings.Builder
		for j := 0; j < n; j++ {
			b.WriteRune(alphabet[r.IntN(len(alphabet))])
		}
		text := b.String()
		maxChars := 50 + r.IntN(500)
		chunks := New(maxChars, 0).Collect(text)
		assertContiguous(t, text, chunks)
		assert.Len(t, chunks, (n+maxChars-1)/maxChars)
		for _, c := range chunks {
			assert.LessOrEqual(t, c.Len(), maxChars)
			assert.Positive(t, c.Len())
		}
	}
}

func TestLimitsDefaults(t *testing.T) {
	t.Parallel()

	m, tol := (&Chunker{}).limits()
	assert.Equal(t, DefaultMaxChars, m)
	assert.Equal(t, DefaultMaxChars/10, tol)

	m, tol = New(5, 50).limits()
	assert.Equal(t, 5, m)
	assert.Equal(t, 4, tol)
}
