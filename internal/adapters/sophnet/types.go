package sophnet

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

type submitResponse struct {
	TaskID string `json:"taskId"`
}

type statusResponse struct {
	Status   string  `json:"status"`
	Result   *string `json:"result"`
	ErrorMsg string  `json:"errorMsg"`
}

type embeddingRequest struct {
	EasyLLMID  string   `json:"easyllm_id"`
	InputTexts []string `json:"input_texts"`
	Dimensions int      `json:"dimensions"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Usage *struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

type speechRequest struct {
	EasyLLMID      string         `json:"easyllm_id"`
	Text           []string       `json:"text"`
	SynthesisParam synthesisParam `json:"synthesis_param"`
}

type synthesisParam struct {
	Model      string   `json:"model"`
	Voice      string   `json:"voice"`
	Format     string   `json:"format,omitempty"`
	Volume     *int     `json:"volume,omitempty"`
	SpeechRate *float64 `json:"speechRate,omitempty"`
	PitchRate  *float64 `json:"pitchRate,omitempty"`
}

type audioFrameEvent struct {
	AudioFrame string `json:"audioFrame"`
}

type apiErrorBody struct {
	Message  string `json:"message"`
	Msg      string `json:"msg"`
	ErrorMsg string `json:"errorMsg"`
	Error    *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (b apiErrorBody) text() string {
	switch {
	case b.Error != nil && b.Error.Message != "":
		return b.Error.Message
	case b.Message != "":
		return b.Message
	case b.Msg != "":
		return b.Msg
	default:
		return b.ErrorMsg
	}
}

func decodeAPIError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var apiErr apiErrorBody
	msg := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.text() != "" {
		msg = apiErr.text()
	}
	if msg == "" {
		msg = fmt.Sprintf("unexpected status %s", resp.Status)
	}
	return &ProtocolError{Op: op, StatusCode: resp.StatusCode, Message: msg}
}
