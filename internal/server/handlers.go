package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rcliao/emotion-lens/internal/capture"
	"github.com/rcliao/emotion-lens/internal/classifier"
	"github.com/rcliao/emotion-lens/internal/game"
	"github.com/rcliao/emotion-lens/internal/history"
	"github.com/rcliao/emotion-lens/internal/model"
)

const (
	maxUploadSize = 10 * 1024 * 1024 // 10 MB
	maxTrendDays  = 90
)

func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), classifier.HealthTimeout)
	defer cancel()

	resp := gin.H{"status": "ok"}
	backend, err := s.classifiers.Backend.Health(ctx)
	if err != nil {
		resp["backend"] = "unavailable"
		resp["backend_error"] = err.Error()
	} else {
		resp["backend"] = "ok"
		resp["backend_detail"] = backend
	}
	c.JSON(http.StatusOK, resp)
}

func parseSource(c *gin.Context) (model.Source, bool) {
	src := model.Source(c.Query("source"))
	if src == "" || src == "all" || model.ValidSources[src] {
		return src, true
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown source %q", src)})
	return "", false
}

func (s *Server) listHistory(c *gin.Context) {
	src, ok := parseSource(c)
	if !ok {
		return
	}
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	records := history.FilterBySource(s.history.List(c.Request.Context()), src)
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	c.JSON(http.StatusOK, records)
}

func (s *Server) deleteRecord(c *gin.Context) {
	s.history.Remove(c.Request.Context(), c.Param("id"))
	c.Status(http.StatusNoContent)
}

func (s *Server) clearHistory(c *gin.Context) {
	s.history.Clear(c.Request.Context())
	c.Status(http.StatusNoContent)
}

func (s *Server) historyStats(c *gin.Context) {
	src, ok := parseSource(c)
	if !ok {
		return
	}
	all := s.history.List(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"stats":   history.ComputeStats(history.FilterBySource(all, src)),
		"sources": history.SourceBreakdown(all),
	})
}

func (s *Server) historyTrend(c *gin.Context) {
	days := 7
	if v := c.Query("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxTrendDays {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("days must be between 1 and %d", maxTrendDays)})
			return
		}
		days = n
	}
	c.JSON(http.StatusOK, history.ComputeTrend(s.history.List(c.Request.Context()), days, time.Now()))
}

func (s *Server) exportHistory(c *gin.Context) {
	data, err := s.history.Export(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	name := fmt.Sprintf("emotion-history-%s.json", time.Now().Format(history.DateLayout))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Data(http.StatusOK, "application/json", data)
}

func (s *Server) importHistory(c *gin.Context) {
	var records []model.EmotionRecord
	if err := c.ShouldBindJSON(&records); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	n, err := s.history.Import(c.Request.Context(), records)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"imported": n})
}

type analyzeTextRequest struct {
	Text string `json:"text"`
}

func (s *Server) analyzeText(c *gin.Context) {
	var req analyzeTextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := s.classifiers.Text.AnalyzeText(c.Request.Context(), req.Text)
	if err != nil {
		writeError(c, err)
		return
	}
	rec := s.history.Append(c.Request.Context(), history.NewRecord{
		Emotion:    res.Emotion,
		Confidence: classifier.FormatConfidence(res.Confidence),
		Source:     model.SourceText,
		InputText:  req.Text,
	})
	c.JSON(http.StatusOK, gin.H{"result": res, "record": rec})
}

func (s *Server) analyzeFace(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSize)
	file, _, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid file upload: " + err.Error()})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read upload: " + err.Error()})
		return
	}
	jpeg, err := capture.NormalizeJPEG(data, s.maxDim)
	if err != nil {
		writeError(c, fmt.Errorf("%w: %v", classifier.ErrInvalidInput, err))
		return
	}

	res, err := s.classifiers.Backend.DetectFace(c.Request.Context(), jpeg)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := gin.H{"faces": res.Faces}
	if face, ok := res.First(); ok {
		resp["record"] = s.history.Append(c.Request.Context(), history.NewRecord{
			Emotion:    face.Emotion,
			Confidence: classifier.FormatConfidence(face.Confidence),
			Source:     model.SourceFace,
		})
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) highScore(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"highScore": game.LoadHighScore(c.Request.Context(), s.kv)})
}
