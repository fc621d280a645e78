package sophnet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path/filepath"
	"strings"

	"github.com/ncecere/sophnet_gateway/internal/models"
)

// TranscriptionRequest is one audio upload for speech-to-text.
type TranscriptionRequest struct {
	Model       string
	Audio       io.Reader
	Filename    string
	ContentType string
}

// Submit uploads the audio and returns the remote task id.
func (a *Adapter) Submit(ctx context.Context, req TranscriptionRequest) (string, error) {
	creds, err := a.credentials(req.Model, a.models.transcription)
	if err != nil {
		return "", err
	}
	if req.Audio == nil {
		return "", fmt.Errorf("%w: audio input required", ErrInvalidRequest)
	}
	filename := strings.TrimSpace(req.Filename)
	if filename == "" {
		filename = "audio.wav"
	}

	body, contentType, err := buildTranscriptionForm(creds.EasyLLMID, req.Audio, filepath.Base(filename), req.ContentType)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeouts.Submit)
	defer cancel()

	httpReq, err := a.newRequest(ctx, http.MethodPost, "speechtotext/transcriptions", body, contentType)
	if err != nil {
		return "", err
	}
	resp, err := a.do("transcription submit", httpReq)
	if err != nil {
		return "", err
	}
	var out submitResponse
	if err := decodeJSON("transcription submit", resp, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.TaskID) == "" {
		return "", &ProtocolError{Op: "transcription submit", StatusCode: resp.StatusCode, Message: "response missing taskId"}
	}
	return out.TaskID, nil
}

// Transcribe submits the audio and waits for the transcript using the
// adapter's poll schedule.
func (a *Adapter) Transcribe(ctx context.Context, req models.AudioTranscriptionRequest) (models.AudioTranscriptionResponse, error) {
	if req.Input.Reader == nil {
		return models.AudioTranscriptionResponse{}, fmt.Errorf("%w: audio input required", ErrInvalidRequest)
	}
	if name := strings.TrimSpace(req.Input.Filename); name != "" && !SupportedAudioFile(name) {
		return models.AudioTranscriptionResponse{}, fmt.Errorf("%w: unsupported audio file %q", ErrInvalidRequest, name)
	}
	if req.Input.Bytes > int64(MaxTranscriptionMB)<<20 {
		return models.AudioTranscriptionResponse{}, fmt.Errorf("%w: audio exceeds %d MB", ErrInvalidRequest, MaxTranscriptionMB)
	}

	taskID, err := a.Submit(ctx, TranscriptionRequest{
		Model:       req.Model,
		Audio:       req.Input.Reader,
		Filename:    req.Input.Filename,
		ContentType: req.Input.ContentType,
	})
	if err != nil {
		return models.AudioTranscriptionResponse{}, err
	}
	text, err := a.AwaitCompletion(ctx, taskID, a.poll)
	if err != nil {
		return models.AudioTranscriptionResponse{}, err
	}
	return models.AudioTranscriptionResponse{Text: text, JobID: taskID}, nil
}

func buildTranscriptionForm(easyllmID string, audio io.Reader, filename, contentType string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileHeader := make(textproto.MIMEHeader)
	fileHeader.Set("Content-Disposition", fmt.Sprintf(`form-data; name="audio_file"; filename=%q`, filename))
	if strings.TrimSpace(contentType) == "" {
		contentType = "application/octet-stream"
	}
	fileHeader.Set("Content-Type", contentType)
	part, err := writer.CreatePart(fileHeader)
	if err != nil {
		return nil, "", fmt.Errorf("sophnet build form: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return nil, "", fmt.Errorf("sophnet read audio: %w", err)
	}

	meta, err := json.Marshal(map[string]string{"easyllm_id": easyllmID})
	if err != nil {
		return nil, "", fmt.Errorf("sophnet build form: %w", err)
	}
	dataHeader := make(textproto.MIMEHeader)
	dataHeader.Set("Content-Disposition", `form-data; name="data"`)
	dataHeader.Set("Content-Type", "application/json")
	dataPart, err := writer.CreatePart(dataHeader)
	if err != nil {
		return nil, "", fmt.Errorf("sophnet build form: %w", err)
	}
	if _, err := dataPart.Write(meta); err != nil {
		return nil, "", fmt.Errorf("sophnet build form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("sophnet build form: %w", err)
	}
	return &buf, writer.FormDataContentType(), nil
}
