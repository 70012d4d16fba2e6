package scheduler

import (
	"sync/atomic"

	"github.com/localdoc/docsearch/internal/identity"
	"github.com/localdoc/docsearch/internal/store"
)

// Stats is a snapshot of indexing progress.
type Stats struct {
	PDFCount          int64   `json:"pdf_count"`
	VLMPagesProcessed int64   `json:"vlm_pages_processed"`
	ImageCount        int64   `json:"image_count"`
	AudioCount        int64   `json:"audio_count"`
	VideoCount        int64   `json:"video_count"`
	TextCount         int64   `json:"text_count"`
	SkippedCount      int64   `json:"skipped_count"`
	ElapsedSeconds    float64 `json:"elapsed_seconds"`
}

type stats struct {
	pdf      atomic.Int64
	vlmPages atomic.Int64
	image    atomic.Int64
	audio    atomic.Int64
	video    atomic.Int64
	text     atomic.Int64
	skipped  atomic.Int64
}

func (s *stats) recordSuccess(ev identity.ResolvedEvent) {
	if ev.Action == identity.ActionRename || ev.Action == identity.ActionTombstone {
		return
	}
	switch ev.Document.MediaType {
	case store.MediaImage:
		s.image.Add(1)
	case store.MediaAudio:
		s.audio.Add(1)
	case store.MediaVideo:
		s.video.Add(1)
	default:
		if ev.Document.Extension == ".pdf" {
			s.pdf.Add(1)
		} else {
			s.text.Add(1)
		}
	}
}

func (s *stats) recordFailure() {
	s.skipped.Add(1)
}

func (s *stats) recordVLMPages(n int) {
	if n > 0 {
		s.vlmPages.Add(int64(n))
	}
}

func (s *stats) snapshot() Stats {
	return Stats{
		PDFCount:          s.pdf.Load(),
		VLMPagesProcessed: s.vlmPages.Load(),
		ImageCount:        s.image.Load(),
		AudioCount:        s.audio.Load(),
		VideoCount:        s.video.Load(),
		TextCount:         s.text.Load(),
		SkippedCount:      s.skipped.Load(),
	}
}
