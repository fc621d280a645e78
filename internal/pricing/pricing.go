// Package pricing estimates upstream spend in RMB.
package pricing

import (
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/ncecere/sophnet_gateway/internal/models"
)

var (
	// SpeechPer10kChars is the synthesis price for 10,000 input characters.
	SpeechPer10kChars = decimal.NewFromInt(2)
	// EmbeddingsPer1MTokens is the embedding price for one million tokens.
	EmbeddingsPer1MTokens = decimal.RequireFromString("0.5")
	// TranscriptionPerJob is currently free.
	TranscriptionPerJob = decimal.Zero

	tenThousand = decimal.NewFromInt(10_000)
	oneMillion  = decimal.NewFromInt(1_000_000)
)

// ChatPrice is a per-million-token price pair. Models without a configured
// price cost zero.
type ChatPrice struct {
	Input  decimal.Decimal
	Output decimal.Decimal
}

// ParseChatPrice reads "price_input_per_1m" and "price_output_per_1m" from
// catalog metadata. Malformed values are treated as zero.
func ParseChatPrice(metadata map[string]string) ChatPrice {
	var price ChatPrice
	if v, err := decimal.NewFromString(metadata["price_input_per_1m"]); err == nil {
		price.Input = v
	}
	if v, err := decimal.NewFromString(metadata["price_output_per_1m"]); err == nil {
		price.Output = v
	}
	return price
}

// Speech prices text by character count.
func Speech(text string) decimal.Decimal {
	return SpeechChars(utf8.RuneCountInString(text))
}

func SpeechChars(chars int) decimal.Decimal {
	if chars <= 0 {
		return decimal.Zero
	}
	return SpeechPer10kChars.Mul(decimal.NewFromInt(int64(chars))).Div(tenThousand)
}

func Embeddings(usage models.Usage) decimal.Decimal {
	tokens := usage.TotalTokens
	if tokens <= 0 {
		tokens = usage.PromptTokens
	}
	if tokens <= 0 {
		return decimal.Zero
	}
	return EmbeddingsPer1MTokens.Mul(decimal.NewFromInt(int64(tokens))).Div(oneMillion)
}

func Transcription() decimal.Decimal {
	return TranscriptionPerJob
}

func Chat(price ChatPrice, usage models.Usage) decimal.Decimal {
	if price.Input.IsZero() && price.Output.IsZero() {
		return decimal.Zero
	}
	prompt := price.Input.Mul(decimal.NewFromInt(int64(usage.PromptTokens)))
	completion := price.Output.Mul(decimal.NewFromInt(int64(usage.CompletionTokens)))
	total := prompt.Add(completion).Div(oneMillion)
	if total.IsNegative() {
		return decimal.Zero
	}
	return total
}

// Header formats cost for the X-Sophnet-Cost-RMB response header.
func Header(cost decimal.Decimal) string {
	return cost.Round(6).StringFixed(6)
}
