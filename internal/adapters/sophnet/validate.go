package sophnet

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/ncecere/sophnet_gateway/internal/models"
)

// Capability names one of the provider's model families.
type Capability string

const (
	CapabilityChat          Capability = "chat"
	CapabilityTranscription Capability = "transcription"
	CapabilityEmbeddings    Capability = "embeddings"
	CapabilitySpeech        Capability = "speech"
)

const probeSentence = "你好，这是一个测试"

// ValidateCredentials issues the cheapest real call for capability. model may
// be empty to use the configured easyllm id.
func (a *Adapter) ValidateCredentials(ctx context.Context, capability Capability, model string) error {
	switch capability {
	case CapabilityChat:
		one := int32(1)
		_, err := a.Chat(ctx, models.ChatRequest{
			Model:     model,
			Messages:  []models.ChatMessage{{Role: "user", Content: "ping"}},
			MaxTokens: &one,
		})
		return err
	case CapabilityEmbeddings:
		creds, err := a.credentials(model, a.models.embedding)
		if err != nil {
			return err
		}
		_, _, err = a.embedBatch(ctx, creds.EasyLLMID, a.embed.Dimensions, []string{"ping"})
		return err
	case CapabilitySpeech:
		streaming := false
		stream, err := a.OpenSpeech(ctx, SpeechRequest{Model: model, Text: probeSentence, Stream: &streaming})
		if err != nil {
			return err
		}
		return stream.Close()
	case CapabilityTranscription:
		_, err := a.Submit(ctx, TranscriptionRequest{
			Model:       model,
			Audio:       bytes.NewReader(silentWAV(16000, 200)),
			Filename:    "probe.wav",
			ContentType: "audio/wav",
		})
		return err
	default:
		return fmt.Errorf("%w: unknown capability %q", ErrInvalidRequest, strings.TrimSpace(string(capability)))
	}
}

// silentWAV renders ms milliseconds of 16-bit mono silence.
func silentWAV(sampleRate, ms int) []byte {
	dataLen := sampleRate * ms / 1000 * 2
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVEfmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1)) // mono
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*2))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(2))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(dataLen))
	buf.Write(make([]byte, dataLen))
	return buf.Bytes()
}
