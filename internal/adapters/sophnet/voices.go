package sophnet

import (
	"slices"
	"strings"
)

// Voice describes one synthesis voice offered by the provider.
type Voice struct {
	Name     string `json:"name"`
	ID       string `json:"id"`
	Language string `json:"language"`
}

const (
	DefaultVoice          = "longxiaochun"
	DefaultAudioFormat    = "MP3_16000HZ_MONO_128KBPS"
	DefaultSynthesisModel = "cosyvoice-v1"
	DefaultDimensions     = 1024
	DefaultTokenBudget    = 8192
	DefaultMaxBatchSize   = 10
	DefaultSplitThreshold = 500
	DefaultChatModel      = "DeepSeek-V3-Fast"
	MaxTranscriptionMB    = 1024
	ChatContextSize       = 64000
	ChatMaxTokens         = 16384
)

var supportedVoices = []Voice{
	{Name: "龙小春", ID: "longxiaochun", Language: "zh"},
	{Name: "龙小夏", ID: "longxiaoxia", Language: "zh"},
	{Name: "龙小成", ID: "longxiaocheng", Language: "zh"},
	{Name: "龙小白", ID: "longxiaobai", Language: "zh"},
	{Name: "龙老铁", ID: "longlaotie", Language: "zh"},
	{Name: "龙叔", ID: "longshu", Language: "zh"},
	{Name: "龙硕", ID: "longshuo", Language: "zh"},
	{Name: "龙婧", ID: "longjing", Language: "zh"},
	{Name: "龙悦", ID: "longyue", Language: "zh"},
	{Name: "龙湾", ID: "longwan", Language: "zh"},
	{Name: "龙成", ID: "longcheng", Language: "zh"},
	{Name: "龙华", ID: "longhua", Language: "zh"},
	{Name: "Stella", ID: "loongstella", Language: "en"},
	{Name: "Bella", ID: "loongbella", Language: "en"},
}

var supportedFormats = []string{
	"MP3_16000HZ_MONO_128KBPS",
	"MP3_24000HZ_MONO_128KBPS",
	"MP3_48000HZ_MONO_128KBPS",
	"WAV_16000HZ_MONO_16BIT",
	"WAV_24000HZ_MONO_16BIT",
	"WAV_48000HZ_MONO_16BIT",
}

var supportedDimensions = []int{1024, 768, 512, 256, 128, 64}

var transcriptionExtensions = []string{
	"wav", "mp3", "m4a", "flv", "mp4", "wma", "3gp", "amr", "aac", "ogg-opus", "flac",
}

// Voices lists the supported voices, filtered by language when one is given.
func Voices(language string) []Voice {
	language = strings.TrimSpace(language)
	out := make([]Voice, 0, len(supportedVoices))
	for _, v := range supportedVoices {
		if language == "" || strings.Contains(v.Language, language) {
			out = append(out, v)
		}
	}
	return out
}

// ResolveVoice returns id when it names a supported voice and DefaultVoice otherwise.
func ResolveVoice(id string) string {
	id = strings.TrimSpace(id)
	for _, v := range supportedVoices {
		if v.ID == id {
			return id
		}
	}
	return DefaultVoice
}

// ResolveFormat maps a requested format onto a supported one. Short names such
// as "mp3" or "wav" pick the 16kHz variant.
func ResolveFormat(format string) string {
	format = strings.ToUpper(strings.TrimSpace(format))
	switch {
	case format == "":
		return DefaultAudioFormat
	case slices.Contains(supportedFormats, format):
		return format
	case format == "WAV":
		return "WAV_16000HZ_MONO_16BIT"
	default:
		return DefaultAudioFormat
	}
}

// Formats lists the supported synthesis output formats.
func Formats() []string {
	return slices.Clone(supportedFormats)
}

// FormatContentType returns the HTTP content type for a synthesis format.
func FormatContentType(format string) string {
	if strings.HasPrefix(ResolveFormat(format), "WAV") {
		return "audio/wav"
	}
	return "audio/mpeg"
}

// SupportedDimension reports whether the embedding endpoint accepts dims.
func SupportedDimension(dims int) bool {
	return slices.Contains(supportedDimensions, dims)
}

// SupportedAudioFile reports whether a transcription upload has an accepted extension.
func SupportedAudioFile(filename string) bool {
	idx := strings.LastIndex(filename, ".")
	if idx < 0 {
		return false
	}
	ext := strings.ToLower(filename[idx+1:])
	if ext == "ogg" || ext == "opus" {
		ext = "ogg-opus"
	}
	return slices.Contains(transcriptionExtensions, ext)
}

// Properties summarizes per-capability limits.
type Properties struct {
	TranscriptionUploadMB   int      `json:"transcription_upload_mb"`
	TranscriptionExtensions []string `json:"transcription_extensions"`
	EmbeddingContextSize    int      `json:"embedding_context_size"`
	EmbeddingMaxChunks      int      `json:"embedding_max_chunks"`
	EmbeddingDimensions     []int    `json:"embedding_dimensions"`
	SpeechWordLimit         int      `json:"speech_word_limit"`
	SpeechFormats           []string `json:"speech_formats"`
	ChatContextSize         int      `json:"chat_context_size"`
	ChatMaxTokens           int      `json:"chat_max_tokens"`
}
