package process

import (
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/localdoc/docsearch/internal/chunk"
	"github.com/localdoc/docsearch/internal/model"
	"github.com/localdoc/docsearch/internal/store"
	"github.com/localdoc/docsearch/internal/xerrors"
)

// Transcriber is the slice of the Whisper client the processors need.
type Transcriber interface {
	Transcribe(ctx context.Context, wavPath string) (*model.Transcription, error)
}

// AudioProcessor transcribes audio files into time-located chunks.
type AudioProcessor struct {
	runner      Runner
	transcriber Transcriber
	chunker     *chunk.Chunker
}

// NewAudioProcessor creates the audio processor.
func NewAudioProcessor(runner Runner, transcriber Transcriber, chunker *chunk.Chunker) *AudioProcessor {
	return &AudioProcessor{runner: runner, transcriber: transcriber, chunker: chunker}
}

// MediaType returns the dispatch key.
func (p *AudioProcessor) MediaType() store.MediaType { return store.MediaAudio }

// CanProcess accepts every classified audio file.
func (p *AudioProcessor) CanProcess(doc *store.Document) bool { return true }

// Process converts to mono 16 kHz WAV, transcribes, and chunks by time.
func (p *AudioProcessor) Process(ctx context.Context, doc *store.Document) (*Result, error) {
	return transcribeMedia(ctx, p.runner, p.transcriber, p.chunker, doc, false)
}

// VideoProcessor extracts the audio track of a video and follows the
// audio path, additionally probing frame dimensions.
type VideoProcessor struct {
	runner      Runner
	transcriber Transcriber
	chunker     *chunk.Chunker
}

// NewVideoProcessor creates the video processor.
func NewVideoProcessor(runner Runner, transcriber Transcriber, chunker *chunk.Chunker) *VideoProcessor {
	return &VideoProcessor{runner: runner, transcriber: transcriber, chunker: chunker}
}

// MediaType returns the dispatch key.
func (p *VideoProcessor) MediaType() store.MediaType { return store.MediaVideo }

// CanProcess accepts every classified video file.
func (p *VideoProcessor) CanProcess(doc *store.Document) bool { return true }

// Process extracts audio, transcribes, and probes width/height.
func (p *VideoProcessor) Process(ctx context.Context, doc *store.Document) (*Result, error) {
	return transcribeMedia(ctx, p.runner, p.transcriber, p.chunker, doc, true)
}

// transcribeMedia is the shared audio path: ffmpeg to mono 16 kHz WAV in a
// temp file, Whisper transcription, time-gap-aware chunking, and a stored
// transcript summary.
func transcribeMedia(ctx context.Context, runner Runner, transcriber Transcriber, chunker *chunk.Chunker, doc *store.Document, probeVideo bool) (*Result, error) {
	wavPath, cleanup, err := extractWAV(ctx, runner, doc.Path)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	transcription, err := transcriber.Transcribe(ctx, wavPath)
	if err != nil {
		return nil, err
	}

	segments := make([]chunk.Segment, len(transcription.Segments))
	for i, s := range transcription.Segments {
		segments[i] = chunk.Segment{Text: s.Text, Start: s.Start, End: s.End}
	}

	result := &Result{
		Pieces: chunker.ChunkSegments(segments),
		Transcript: &store.Transcript{
			DocumentID:      doc.ID,
			FullText:        transcription.Text,
			Language:        transcription.Language,
			DurationSeconds: transcription.Duration,
			WordCount:       len(strings.Fields(transcription.Text)),
		},
	}
	if transcription.Duration > 0 {
		d := transcription.Duration
		result.Duration = &d
	}

	if probeVideo {
		if w, h, err := probeDimensions(ctx, runner, doc.Path); err == nil {
			result.Width = &w
			result.Height = &h
		}
	}
	if result.Duration == nil {
		if d, err := probeDuration(ctx, runner, doc.Path); err == nil {
			result.Duration = &d
			result.Transcript.DurationSeconds = d
		}
	}
	return result, nil
}

// extractWAV writes a mono 16 kHz WAV for the transcriber.
func extractWAV(ctx context.Context, runner Runner, mediaPath string) (string, func(), error) {
	tmp, err := os.CreateTemp("", "docsearch-audio-*.wav")
	if err != nil {
		return "", nil, xerrors.Wrap(xerrors.KindIO, "create temp wav", err)
	}
	wavPath := tmp.Name()
	tmp.Close()
	cleanup := func() { _ = os.Remove(wavPath) }

	_, err = runner.Run(ctx, "ffmpeg",
		"-y",
		"-i", mediaPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-f", "wav",
		wavPath)
	if err != nil {
		cleanup()
		return "", nil, err
	}
	return wavPath, cleanup, nil
}

func probeDuration(ctx context.Context, runner Runner, path string) (float64, error) {
	out, err := runner.Run(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
}

func probeDimensions(ctx context.Context, runner Runner, path string) (int, int, error) {
	out, err := runner.Run(ctx, "ffprobe",
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-of", "csv=s=x:p=0",
		path)
	if err != nil {
		return 0, 0, err
	}
	parts := strings.Split(strings.TrimSpace(string(out)), "x")
	if len(parts) != 2 {
		return 0, 0, xerrors.Newf(xerrors.KindExtraction, "unparseable ffprobe dimensions: %q", string(out))
	}
	w, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, err
	}
	h, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, err
	}
	return w, h, nil
}
