package process

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localdoc/docsearch/internal/chunk"
	"github.com/localdoc/docsearch/internal/model"
	"github.com/localdoc/docsearch/internal/store"
	"github.com/localdoc/docsearch/internal/xerrors"
)

// fakeMediaRunner pretends to be ffmpeg/ffprobe.
type fakeMediaRunner struct {
	duration   string
	dimensions string
}

func (f *fakeMediaRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	switch name {
	case "ffmpeg":
		// Output file is the last argument.
		return nil, os.WriteFile(args[len(args)-1], []byte("RIFFfakewav"), 0o644)
	case "ffprobe":
		for _, a := range args {
			if a == "format=duration" {
				return []byte(f.duration + "\n"), nil
			}
		}
		return []byte(f.dimensions + "\n"), nil
	default:
		return nil, xerrors.Newf(xerrors.KindExtraction, "unexpected command %s", name)
	}
}

type fakeTranscriber struct {
	result *model.Transcription
	err    error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, wavPath string) (*model.Transcription, error) {
	if f.err != nil {
		return nil, f.err
	}
	if _, err := os.Stat(wavPath); err != nil {
		return nil, xerrors.Wrap(xerrors.KindIO, "wav missing", err)
	}
	return f.result, nil
}

func mediaDoc(mediaType store.MediaType, path string) *store.Document {
	now := time.Now().UTC()
	return &store.Document{
		ID: "med1", Path: path, Filename: "clip", Extension: ".mp4",
		MediaType: mediaType, CreatedAt: now, ModifiedAt: now, IndexedAt: now,
	}
}

func cannedTranscription() *model.Transcription {
	return &model.Transcription{
		Text:     "hello world this is a recording about foxes",
		Language: "en",
		Duration: 12.5,
		Segments: []model.TranscriptSegment{
			{Start: 0.0, End: 4.0, Text: "hello world"},
			{Start: 4.5, End: 8.0, Text: "this is a recording"},
			{Start: 11.0, End: 12.5, Text: "about foxes"},
		},
	}
}

func TestAudioProcessorProducesTimedChunks(t *testing.T) {
	runner := &fakeMediaRunner{duration: "12.5"}
	transcriber := &fakeTranscriber{result: cannedTranscription()}
	p := NewAudioProcessor(runner, transcriber, chunk.New(0, 0, 0, 0))

	result, err := p.Process(context.Background(), mediaDoc(store.MediaAudio, "/media/talk.mp3"))
	require.NoError(t, err)

	// The 3 s gap before "about foxes" forces a chunk boundary.
	require.Len(t, result.Pieces, 2)
	assert.Equal(t, 0.0, *result.Pieces[0].StartTime)
	assert.Equal(t, 8.0, *result.Pieces[0].EndTime)
	assert.Equal(t, 11.0, *result.Pieces[1].StartTime)

	require.NotNil(t, result.Transcript)
	assert.Equal(t, "med1", result.Transcript.DocumentID)
	assert.Equal(t, "en", result.Transcript.Language)
	assert.Equal(t, 8, result.Transcript.WordCount)
	require.NotNil(t, result.Duration)
	assert.Equal(t, 12.5, *result.Duration)
}

func TestVideoProcessorProbesDimensions(t *testing.T) {
	runner := &fakeMediaRunner{duration: "12.5", dimensions: "1920x1080"}
	transcriber := &fakeTranscriber{result: cannedTranscription()}
	p := NewVideoProcessor(runner, transcriber, chunk.New(0, 0, 0, 0))

	result, err := p.Process(context.Background(), mediaDoc(store.MediaVideo, "/media/talk.mp4"))
	require.NoError(t, err)
	require.NotNil(t, result.Width)
	assert.Equal(t, 1920, *result.Width)
	assert.Equal(t, 1080, *result.Height)
}

func TestMediaTranscriberFailurePropagates(t *testing.T) {
	runner := &fakeMediaRunner{duration: "1"}
	transcriber := &fakeTranscriber{err: xerrors.Newf(xerrors.KindModelUnavailable, "whisper down")}
	p := NewAudioProcessor(runner, transcriber, chunk.New(0, 0, 0, 0))

	_, err := p.Process(context.Background(), mediaDoc(store.MediaAudio, "/media/talk.mp3"))
	require.Error(t, err)
	assert.Equal(t, xerrors.KindModelUnavailable, xerrors.KindOf(err))
}
