// Package server exposes the localhost HTTP API over the core pipeline.
// On a fatal pipeline error the API degrades to read-only: search and
// stats keep working, indexing and actions return errors.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/localdoc/docsearch/internal/actions"
	"github.com/localdoc/docsearch/internal/core"
	"github.com/localdoc/docsearch/internal/search"
	"github.com/localdoc/docsearch/internal/store"
	"github.com/localdoc/docsearch/internal/xerrors"
)

// Server is the HTTP API.
type Server struct {
	core     *core.Context
	opener   *actions.Opener
	echo     *echo.Echo
	readOnly atomic.Bool
}

// New creates the server over a core context.
func New(c *core.Context) *Server {
	s := &Server{core: c, opener: actions.NewOpener()}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	api := e.Group("/api")
	api.GET("/search", s.handleSearch)
	api.POST("/documents/index", s.handleIndex)
	api.GET("/documents/stats", s.handleStats)
	api.GET("/documents/directories", s.handleDirectories)
	api.GET("/documents", s.handleRecentDocuments)
	api.POST("/actions/open", s.handleOpen)
	api.POST("/actions/reveal", s.handleReveal)

	s.echo = e
	return s
}

// EnterReadOnly flips the API into degraded read-only mode.
func (s *Server) EnterReadOnly() { s.readOnly.Store(true) }

// ReadOnly reports degraded mode.
func (s *Server) ReadOnly() bool { return s.readOnly.Load() }

// Handler exposes the HTTP handler for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Start serves until the context is cancelled.
func (s *Server) Start(ctx context.Context, host string, port int) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(shutdownCtx)
	}()
	err := s.echo.Start(fmt.Sprintf("%s:%d", host, port))
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

type errorBody struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

func (s *Server) writeError(c echo.Context, err error) error {
	kind := xerrors.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case xerrors.KindConfigInvalid:
		status = http.StatusBadRequest
	case xerrors.KindQueueFull:
		status = http.StatusTooManyRequests
	case xerrors.KindModelUnavailable, xerrors.KindModelTimeout:
		status = http.StatusBadGateway
	case xerrors.KindIO, xerrors.KindExtraction:
		status = http.StatusUnprocessableEntity
	}
	return c.JSON(status, errorEnvelope{Error: errorBody{
		Kind:      string(kind),
		Message:   err.Error(),
		Retryable: xerrors.IsRetryable(err),
	}})
}

type searchResultJSON struct {
	ChunkID    string   `json:"chunk_id"`
	DocumentID string   `json:"document_id"`
	Text       string   `json:"text"`
	Path       string   `json:"path"`
	Filename   string   `json:"filename"`
	MediaType  string   `json:"media_type"`
	Score      float64  `json:"score"`
	Page       *int     `json:"page,omitempty"`
	StartTime  *float64 `json:"start_time,omitempty"`
	EndTime    *float64 `json:"end_time,omitempty"`
	URL        string   `json:"playback_url,omitempty"`
}

type searchResponse struct {
	Results []searchResultJSON `json:"results"`
	Total   int                `json:"total"`
	TookMS  int64              `json:"took_ms"`
}

func (s *Server) handleSearch(c echo.Context) error {
	query := c.QueryParam("q")
	if query == "" {
		return s.writeError(c, xerrors.Newf(xerrors.KindConfigInvalid, "q parameter is required"))
	}

	opts := search.Options{}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return s.writeError(c, xerrors.Newf(xerrors.KindConfigInvalid, "limit must be a positive integer"))
		}
		opts.Limit = n
	}
	if v := c.QueryParam("media_type"); v != "" {
		for _, mt := range strings.Split(v, ",") {
			opts.Filters.MediaTypes = append(opts.Filters.MediaTypes, store.MediaType(strings.TrimSpace(mt)))
		}
	}
	if v := c.QueryParam("path_prefix"); v != "" {
		opts.Filters.PathPrefix = v
	}

	started := time.Now()
	results, err := s.core.Engine.Search(c.Request().Context(), query, opts)
	if err != nil {
		return s.writeError(c, err)
	}

	out := make([]searchResultJSON, 0, len(results))
	for _, r := range results {
		out = append(out, searchResultJSON{
			ChunkID:    r.ChunkID,
			DocumentID: r.DocumentID,
			Text:       r.Text,
			Path:       r.Path,
			Filename:   r.Filename,
			MediaType:  string(r.MediaType),
			Score:      r.Score,
			Page:       r.Page,
			StartTime:  r.StartTime,
			EndTime:    r.EndTime,
			URL:        r.PlaybackURL,
		})
	}
	return c.JSON(http.StatusOK, searchResponse{
		Results: out,
		Total:   len(out),
		TookMS:  time.Since(started).Milliseconds(),
	})
}

type indexRequest struct {
	Path      string `json:"path"`
	Recursive bool   `json:"recursive"`
}

type indexResponse struct {
	IndexedCount          int      `json:"indexed_count"`
	Paths                 []string `json:"paths"`
	Stats                 any      `json:"stats"`
	ProcessingTimeSeconds float64  `json:"processing_time_seconds"`
}

func (s *Server) handleIndex(c echo.Context) error {
	if s.ReadOnly() {
		return s.writeError(c, xerrors.Newf(xerrors.KindStoreCorruption, "API is read-only after a fatal error"))
	}

	var req indexRequest
	if err := c.Bind(&req); err != nil || req.Path == "" {
		return s.writeError(c, xerrors.Newf(xerrors.KindConfigInvalid, "body must carry a path"))
	}

	started := time.Now()
	result, err := s.core.IndexPath(c.Request().Context(), req.Path, req.Recursive)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, indexResponse{
		IndexedCount:          result.IndexedCount,
		Paths:                 result.Paths,
		Stats:                 result.Stats,
		ProcessingTimeSeconds: time.Since(started).Seconds(),
	})
}

type statsResponse struct {
	TotalDocuments int            `json:"total_documents"`
	ByMediaType    map[string]int `json:"by_media_type"`
	TotalChunks    int            `json:"total_chunks"`
	LastIndexedAt  *time.Time     `json:"last_indexed_at"`
}

func (s *Server) handleStats(c echo.Context) error {
	snap, err := s.core.Store.DB().Stats(c.Request().Context())
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, statsResponse{
		TotalDocuments: snap.TotalDocuments,
		ByMediaType:    snap.ByMediaType,
		TotalChunks:    snap.TotalChunks,
		LastIndexedAt:  snap.LastIndexedAt,
	})
}

type directoryJSON struct {
	Path      string `json:"path"`
	FileCount int    `json:"file_count"`
}

func (s *Server) handleDirectories(c echo.Context) error {
	dirs, err := s.core.Store.DB().Directories(c.Request().Context())
	if err != nil {
		return s.writeError(c, err)
	}
	out := make([]directoryJSON, 0, len(dirs))
	for _, d := range dirs {
		out = append(out, directoryJSON{Path: d.Path, FileCount: d.FileCount})
	}
	return c.JSON(http.StatusOK, out)
}

type documentJSON struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Filename  string    `json:"filename"`
	MediaType string    `json:"media_type"`
	Size      int64     `json:"size"`
	IndexedAt time.Time `json:"indexed_at"`
}

func (s *Server) handleRecentDocuments(c echo.Context) error {
	limit := 20
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return s.writeError(c, xerrors.Newf(xerrors.KindConfigInvalid, "limit must be a positive integer"))
		}
		limit = n
	}
	docs, err := s.core.Store.DB().RecentDocuments(c.Request().Context(), limit)
	if err != nil {
		return s.writeError(c, err)
	}
	out := make([]documentJSON, 0, len(docs))
	for _, d := range docs {
		out = append(out, documentJSON{
			ID: d.ID, Path: d.Path, Filename: d.Filename,
			MediaType: string(d.MediaType), Size: d.Size, IndexedAt: d.IndexedAt,
		})
	}
	return c.JSON(http.StatusOK, out)
}

type openRequest struct {
	Path      string   `json:"path"`
	StartTime *float64 `json:"start_time,omitempty"`
}

func (s *Server) handleOpen(c echo.Context) error {
	var req openRequest
	if err := c.Bind(&req); err != nil || req.Path == "" {
		return s.writeError(c, xerrors.Newf(xerrors.KindConfigInvalid, "body must carry a path"))
	}
	if err := s.opener.Open(c.Request().Context(), req.Path, req.StartTime); err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

type revealRequest struct {
	Path string `json:"path"`
}

func (s *Server) handleReveal(c echo.Context) error {
	var req revealRequest
	if err := c.Bind(&req); err != nil || req.Path == "" {
		return s.writeError(c, xerrors.Newf(xerrors.KindConfigInvalid, "body must carry a path"))
	}
	if err := s.opener.Reveal(c.Request().Context(), req.Path); err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}
