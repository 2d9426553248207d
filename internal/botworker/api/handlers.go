package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/botoralo/botworker/common/version"
	"github.com/botoralo/botworker/internal/botworker/errkind"
	"github.com/botoralo/botworker/internal/botworker/lifecycle"
	"github.com/botoralo/botworker/internal/botworker/observability"
)

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type botResponse struct {
	Bot *lifecycle.BotInfo `json:"bot"`
}

type listResponse struct {
	Bots []lifecycle.BotSummary `json:"bots"`
}

type statusOnly struct {
	Status string `json:"status"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

type statusResponse struct {
	Status     string    `json:"status"`
	Version    string    `json:"version"`
	Commit     string    `json:"commit"`
	BuildTime  string    `json:"build_time"`
	StartedAt  time.Time `json:"started_at"`
	UptimeSecs float64   `json:"uptime_seconds"`
	BotCount   int       `json:"bot_count"`
}

func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r, "userId", "botoraloBotId", "name")
	if !ok {
		return
	}
	info, err := s.lifecycle.Deploy(r.Context(), lifecycle.DeployRequest{
		OwnerID:    req.UserID,
		ExternalID: req.BotID,
		Name:       req.Name,
		MemoryMB:   int(req.MemoryMB),
		Code:       req.code(),
		AutoStart:  bool(req.AutoStart),
	})
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, botResponse{Bot: info})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r, "userId", "botoraloBotId")
	if !ok {
		return
	}
	res, err := s.lifecycle.Start(r.Context(), req.UserID, req.BotID)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r, "userId", "botoraloBotId")
	if !ok {
		return
	}
	if err := s.lifecycle.Stop(r.Context(), req.UserID, req.BotID); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusOnly{Status: "stopped"})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r, "userId", "botoraloBotId")
	if !ok {
		return
	}
	if err := s.lifecycle.Delete(r.Context(), req.UserID, req.BotID); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusOnly{Status: "deleted"})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r, "userId", "botoraloBotId")
	if !ok {
		return
	}
	info, err := s.lifecycle.Info(r.Context(), req.UserID, req.BotID)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, botResponse{Bot: info})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r, "userId")
	if !ok {
		return
	}
	bots, err := s.lifecycle.List(r.Context(), req.UserID)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Bots: bots})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r, "userId", "botoraloBotId")
	if !ok {
		return
	}
	reading, err := s.telemetry.Stats(r.Context(), req.UserID, req.BotID)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, reading)
}

// handleLogs streams the bot's output as Server-Sent Events until the
// sandbox stops producing output or the caller goes away.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r, "userId", "botoraloBotId")
	if !ok {
		return
	}
	ctx := r.Context()
	stream, err := s.telemetry.Logs(ctx, req.UserID, req.BotID)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)
	_ = rc.Flush()

	for {
		chunk, err := stream.Next(ctx)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
				observability.WithTrace(ctx).Debug("logs: stream ended", "err", err)
			}
			return
		}
		if _, err := io.WriteString(w, sseEvent(chunk)); err != nil {
			return
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

// sseEvent frames chunk as one event, one data line per output line.
func sseEvent(chunk []byte) string {
	text := strings.TrimSuffix(strings.ToValidUTF8(string(chunk), "�"), "\n")
	var b strings.Builder
	for _, line := range strings.Split(text, "\n") {
		b.WriteString("data: ")
		b.WriteString(strings.TrimSuffix(line, "\r"))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	return b.String()
}

func (s *Server) handleDownloadCode(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r, "userId", "botoraloBotId")
	if !ok {
		return
	}
	data, name, err := s.lifecycle.Code(r.Context(), req.UserID, req.BotID)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Version: version.Version,
		Commit:  version.GitCommit,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	botCount := 0
	if s.status != nil {
		if n, err := s.status.BotCount(r.Context()); err == nil {
			botCount = n
		}
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Status:     "ok",
		Version:    version.Version,
		Commit:     version.GitCommit,
		BuildTime:  version.BuildTime,
		StartedAt:  s.startedAt,
		UptimeSecs: time.Since(s.startedAt).Seconds(),
		BotCount:   botCount,
	})
}

// decode parses the body and checks required fields, writing a 400 on
// failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, required ...string) (*botRequest, bool) {
	req, err := decodeBotRequest(r, s.maxUpload)
	if err == nil {
		err = req.require(required...)
	}
	if err != nil {
		writeError(r.Context(), w, err)
		return nil, false
	}
	return req, true
}

// statusFor maps an error kind onto an HTTP status code.
func statusFor(kind errkind.Kind) int {
	switch kind {
	case errkind.Unauthorized:
		return http.StatusUnauthorized
	case errkind.NotFound:
		return http.StatusNotFound
	case errkind.Forbidden:
		return http.StatusForbidden
	case errkind.BadRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	kind := errkind.KindOf(err)
	resp := errorResponse{Error: "internal error"}
	var kerr *errkind.Error
	if errors.As(err, &kerr) {
		resp.Error = kerr.Message
		resp.Details = kerr.Details()
	}
	if kind == errkind.Internal {
		observability.WithTrace(ctx).Error("request failed", "err", err)
	}
	writeJSON(w, statusFor(kind), resp)
}

// writeJSON serialises v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("api: failed to encode JSON response", "err", err)
	}
}
