package sophnet

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestEstimateTokens(t *testing.T) {
	cases := map[string]int{
		"":         0,
		"abcd":     1,
		"abcde":    2,
		"你好":       2,
		"你好 world": 4,
	}
	for text, want := range cases {
		if got := EstimateTokens(text); got != want {
			t.Fatalf("EstimateTokens(%q) = %d, want %d", text, got, want)
		}
	}
}

func TestEstimateTokensMonotonic(t *testing.T) {
	text := "Sophnet 语音合成，embedding test。"
	prev := 0
	for i := range text {
		got := EstimateTokens(text[:i])
		if got < prev {
			t.Fatalf("estimate decreased at byte %d: %d < %d", i, got, prev)
		}
		prev = got
	}
}

func TestTruncateToBudgetHalvesDoubleBudget(t *testing.T) {
	text := strings.Repeat("abcd", 2000)
	out, cut := truncateToBudget(text, 1000)
	if !cut {
		t.Fatalf("expected truncation")
	}
	if utf8.RuneCountInString(out) != 4000 {
		t.Fatalf("expected 4000 runes, got %d", utf8.RuneCountInString(out))
	}
	if EstimateTokens(out) > 1000 {
		t.Fatalf("truncated text still over budget: %d", EstimateTokens(out))
	}
}

func TestTruncateToBudgetKeepsShortTextAndNeverEmpties(t *testing.T) {
	if out, cut := truncateToBudget("hello", 10); cut || out != "hello" {
		t.Fatalf("short text changed: %q", out)
	}
	out, cut := truncateToBudget("你好世界", 1)
	if !cut || out == "" {
		t.Fatalf("expected a non-empty truncation, got %q", out)
	}
}
