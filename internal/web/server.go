// Package web serves the upload page and the JSON API driving it.
package web

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"shenbaosift/internal/session"
	"shenbaosift/internal/storage/sqlite"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const sessionCookie = "sid"

//go:embed static/index.html
var indexHTML []byte

type Server struct {
	registry       *session.Registry
	db             *sql.DB
	runCtx         context.Context
	maxUploadBytes int64
	engine         *gin.Engine
}

// NewServer wires the routes. runCtx bounds analyses started over HTTP; it
// outlives individual requests. db may be nil, in which case run history is
// reported as empty.
func NewServer(runCtx context.Context, registry *session.Registry, db *sql.DB, maxUploadBytes int64) *Server {
	s := &Server{
		registry:       registry,
		db:             db,
		runCtx:         runCtx,
		maxUploadBytes: maxUploadBytes,
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	r.GET("/", s.index)
	r.GET("/healthz", s.healthz)

	api := r.Group("/api")
	api.POST("/upload", s.upload)
	api.POST("/analyze", s.analyze)
	api.GET("/status", s.status)
	api.GET("/download", s.download)
	api.GET("/download.xlsx", s.downloadXLSX)
	api.POST("/reset", s.reset)
	api.GET("/runs", s.runs)
	api.GET("/runs/:id", s.run)

	s.engine = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) index(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", indexHTML)
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// controller returns the caller's session, issuing a new cookie when the
// request carried none or an expired one.
func (s *Server) controller(c *gin.Context) *session.Controller {
	id, _ := c.Cookie(sessionCookie)
	ctrl, created := s.registry.Get(id)
	if created {
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(sessionCookie, ctrl.ID(), 0, "/", "", false, true)
	}
	return ctrl
}

func (s *Server) upload(c *gin.Context) {
	ctrl := s.controller(c)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUploadBytes)

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file is too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing form field 'file'"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "An error occurred while reading the file."})
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "An error occurred while reading the file."})
		return
	}

	if err := ctrl.Load(fh.Filename, data); err != nil {
		if errors.Is(err, session.ErrAlreadyRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, ctrl.Snapshot())
		return
	}
	c.JSON(http.StatusOK, ctrl.Snapshot())
}

func (s *Server) analyze(c *gin.Context) {
	ctrl := s.controller(c)
	err := ctrl.Analyze(s.runCtx)
	switch {
	case errors.Is(err, session.ErrAlreadyRunning):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, session.ErrNoArticles):
		c.JSON(http.StatusBadRequest, gin.H{"error": "No articles to analyze."})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusAccepted, ctrl.Snapshot())
	}
}

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, s.controller(c).Snapshot())
}

func (s *Server) download(c *gin.Context) {
	data, err := s.controller(c).Download()
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+session.DownloadName+`"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", data)
}

func (s *Server) downloadXLSX(c *gin.Context) {
	data, err := s.controller(c).DownloadXLSX()
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Header("Content-Disposition", `attachment; filename="filtered_supernatural_articles.xlsx"`)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}

func (s *Server) reset(c *gin.Context) {
	ctrl := s.controller(c)
	if err := ctrl.Reset(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, ctrl.Snapshot())
}

func (s *Server) runs(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
			return
		}
		limit = n
	}
	if s.db == nil {
		c.JSON(http.StatusOK, []any{})
		return
	}
	runs, err := sqlite.ListRuns(s.db, limit)
	if err != nil {
		log.Error().Err(err).Msg("listing runs")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load run history"})
		return
	}
	c.JSON(http.StatusOK, runs)
}

func (s *Server) run(c *gin.Context) {
	if s.db == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	run, err := sqlite.GetRunByID(s.db, c.Param("id"))
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	if err != nil {
		log.Error().Err(err).Str("run_id", c.Param("id")).Msg("loading run")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load run history"})
		return
	}
	c.JSON(http.StatusOK, run)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		// status polls stay at debug level
		ev := log.Debug()
		if c.Writer.Status() >= http.StatusInternalServerError {
			ev = log.Error()
		} else if c.Request.URL.Path != "/api/status" {
			ev = log.Info()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("http request")
	}
}
