package models

import "io"

// AudioInput wraps the uploaded audio payload.
type AudioInput struct {
	Reader      io.Reader
	Filename    string
	ContentType string
	Bytes       int64
}

// AudioTranscriptionRequest captures transcription parameters.
type AudioTranscriptionRequest struct {
	Model string
	Input AudioInput
}

// AudioTranscriptionResponse is a normalized transcription payload. JobID is
// the provider task the transcript came from.
type AudioTranscriptionResponse struct {
	Text  string
	JobID string
	Usage Usage
}

// AudioSpeechRequest drives text-to-speech generation. Nil tuning fields use
// the provider defaults.
type AudioSpeechRequest struct {
	Model          string
	Input          string
	Voice          string
	Format         string
	SynthesisModel string
	Stream         bool
	Volume         *int
	Speed          *float64
	Pitch          *float64
}

// AudioSpeechResponse returns generated audio bytes (non-streaming).
type AudioSpeechResponse struct {
	Audio       []byte
	ContentType string
	Characters  int
}

// AudioSpeechChunk represents a streaming speech fragment. The final chunk has
// Done set and carries Err when the stream broke.
type AudioSpeechChunk struct {
	Audio []byte
	Done  bool
	Err   error
}
