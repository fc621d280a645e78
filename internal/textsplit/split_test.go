package textsplit

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestSplitShortTextReturnsSingleChunk(t *testing.T) {
	for _, text := range []string{"a", "hello.", "你好，世界。", strings.Repeat("x", 20)} {
		chunks, err := SplitAll(text, 20)
		require.NoError(t, err)
		require.Equal(t, []string{text}, chunks)
	}
}

func TestSplitEmptyTextYieldsNothing(t *testing.T) {
	chunks, err := SplitAll("", 5)
	require.NoError(t, err)
	require.Empty(t, chunks)
}

func TestSplitPrefersLastBoundaryInWindow(t *testing.T) {
	chunks, err := SplitAll("One. Two! Three four five", 12)
	require.NoError(t, err)
	require.Equal(t, []string{"One. Two!", " Three four ", "five"}, chunks)
}

func TestSplitForcesBreakWithoutBoundary(t *testing.T) {
	chunks, err := SplitAll("abcdefghij", 4)
	require.NoError(t, err)
	require.Equal(t, []string{"abcd", "efgh", "ij"}, chunks)
}

func TestSplitCountsRunesNotBytes(t *testing.T) {
	text := "今天天气很好。我们去公园吧！好的"
	chunks, err := SplitAll(text, 8)
	require.NoError(t, err)
	require.Equal(t, []string{"今天天气很好。", "我们去公园吧！", "好的"}, chunks)
	for _, c := range chunks {
		require.LessOrEqual(t, utf8.RuneCountInString(c), 8)
	}
}

func TestSplitConcatenationReproducesInput(t *testing.T) {
	inputs := []string{
		"First sentence. Second one? Third!",
		strings.Repeat("长句子没有标点", 30),
		"混合 text。With punctuation! 以及更多?",
		"....!!!???",
	}
	for _, text := range inputs {
		for _, max := range []int{1, 2, 3, 7, 50} {
			chunks, err := SplitAll(text, max)
			require.NoError(t, err)
			require.Equal(t, text, strings.Join(chunks, ""), "max=%d", max)
			for _, c := range chunks {
				require.NotEmpty(t, c)
				require.LessOrEqual(t, utf8.RuneCountInString(c), max)
			}
		}
	}
}

func TestSplitCustomBoundaries(t *testing.T) {
	chunks, err := SplitAll("a;b;c;d", 4, WithBoundaries(";"))
	require.NoError(t, err)
	require.Equal(t, []string{"a;b;", "c;d"}, chunks)
}

func TestSplitStopsEarly(t *testing.T) {
	var seen []string
	for chunk := range Split("aaaa.bbbb.cccc.", 5) {
		seen = append(seen, chunk)
		if len(seen) == 2 {
			break
		}
	}
	require.Equal(t, []string{"aaaa.", "bbbb."}, seen)
}

func TestSplitAllRejectsNonPositiveLength(t *testing.T) {
	_, err := SplitAll("text", 0)
	require.ErrorIs(t, err, ErrInvalidLength)
	require.Panics(t, func() { Split("text", -1) })
}
