package model

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/localdoc/docsearch/internal/xerrors"
)

// TranscriptSegment is one timed span of recognized speech.
type TranscriptSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcription is the full result for one media file.
type Transcription struct {
	Text     string              `json:"text"`
	Language string              `json:"language"`
	Duration float64             `json:"duration"`
	Segments []TranscriptSegment `json:"segments"`
}

// WhisperClient speaks to a whisper.cpp-compatible HTTP server.
type WhisperClient struct {
	host   string
	client *http.Client
}

// NewWhisperClient creates a transcriber client for the given host.
func NewWhisperClient(host string) *WhisperClient {
	return &WhisperClient{host: host, client: &http.Client{}}
}

// Transcribe uploads a WAV file and returns timed segments. The caller's
// context carries the per-file deadline.
func (c *WhisperClient) Transcribe(ctx context.Context, wavPath string) (*Transcription, error) {
	f, err := os.Open(wavPath)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindIO, "open wav", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filepath.Base(wavPath))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindInternal, "build multipart", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, xerrors.Wrap(xerrors.KindIO, "read wav", err)
	}
	if err := writer.WriteField("response_format", "verbose_json"); err != nil {
		return nil, xerrors.Wrap(xerrors.KindInternal, "write field", err)
	}
	if err := writer.Close(); err != nil {
		return nil, xerrors.Wrap(xerrors.KindInternal, "close multipart", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/inference", &buf)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindInternal, "build request", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, xerrors.Wrap(xerrors.KindModelTimeout, "whisper inference", err)
		}
		if errors.Is(err, context.Canceled) {
			return nil, xerrors.Wrap(xerrors.KindCancelled, "whisper inference", err)
		}
		return nil, xerrors.Wrap(xerrors.KindModelUnavailable, "whisper inference", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, xerrors.Newf(xerrors.KindModelUnavailable, "whisper: status %d: %s", resp.StatusCode, string(data))
	}

	var result Transcription
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, xerrors.Wrap(xerrors.KindModelUnavailable, "decode transcription", err)
	}
	if result.Duration == 0 && len(result.Segments) > 0 {
		result.Duration = result.Segments[len(result.Segments)-1].End
	}
	return &result, nil
}
