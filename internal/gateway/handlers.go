package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/mux"

	"github.com/adverant/nexus/text3d-worker/internal/models"
	"github.com/adverant/nexus/text3d-worker/internal/storage"
)

// Client-facing error messages
const (
	MsgNoPrompt      = "No prompt provided"
	MsgNoTextPrompt  = "No text prompt provided"
	MsgInvalidJSON   = "Invalid message"
	MsgJobNotStarted = "Failed to start job"
	MsgJobNotFound   = "Job not found"
)

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	ctx := r.Context()
	c := newClient(models.NewJobID(), conn)
	if err := s.hub.add(ctx, c); err != nil {
		s.logger.Error("failed to subscribe connection", "conn", c.id, "err", err)
		conn.Close()
		return
	}
	if err := s.registry.Register(ctx, c.id, r.RemoteAddr); err != nil {
		s.logger.Warn("failed to register connection", "conn", c.id, "err", err)
	}
	s.logger.Info("connected", "conn", c.id, "remote", r.RemoteAddr)

	go c.writePump()
	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)
		s.hub.remove(cleanupCtx, c.id)
		if err := s.registry.Remove(cleanupCtx, c.id); err != nil {
			s.logger.Warn("failed to remove connection", "conn", c.id, "err", err)
		}
		c.close()
		s.logger.Info("disconnected", "conn", c.id)
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		s.registry.Touch(ctx, c.id)
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		if err := s.registry.Touch(ctx, c.id); err != nil {
			s.logger.Debug("failed to refresh connection", "conn", c.id, "err", err)
		}

		reply, err := json.Marshal(s.handleMessage(ctx, c.id, data))
		if err != nil {
			s.logger.Error("failed to marshal reply", "err", err)
			continue
		}
		if !c.enqueue(reply) {
			return
		}
	}
}

// handleMessage acts on one client message and returns the reply
func (s *Server) handleMessage(ctx context.Context, connID string, data []byte) models.Notification {
	var msg models.ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return models.ErrorNotice(MsgInvalidJSON)
	}
	kind, ok := msg.Kind()
	if !ok {
		return models.ErrorNotice("Unknown action: " + msg.Action)
	}
	prompt := strings.TrimSpace(msg.PromptText())
	if prompt == "" {
		return models.ErrorNotice(MsgNoPrompt)
	}

	job, err := s.startJob(ctx, kind, prompt, connID)
	if err != nil {
		s.logger.Error("failed to start job", "conn", connID, "err", err)
		return models.ErrorNotice(MsgJobNotStarted)
	}
	log.Printf("Job %s queued (kind: %s, conn: %s)", job.JobID, job.Kind, connID)
	return models.JobStartedNotice(job.JobID)
}

func (s *Server) handleGenerateImage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageSize)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorNotice(MsgInvalidJSON))
		return
	}
	prompt := strings.TrimSpace(body.Text)
	if prompt == "" {
		writeJSON(w, http.StatusBadRequest, models.ErrorNotice(MsgNoTextPrompt))
		return
	}

	job, err := s.startJob(r.Context(), models.JobKindImage, prompt, "")
	if err != nil {
		s.logger.Error("failed to start image job", "err", err)
		writeJSON(w, http.StatusInternalServerError, models.ErrorNotice(MsgJobNotStarted))
		return
	}
	writeJSON(w, http.StatusAccepted, models.JobStartedNotice(job.JobID))
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.GetJob(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, storage.ErrJobNotFound) {
		writeJSON(w, http.StatusNotFound, models.ErrorNotice(MsgJobNotFound))
		return
	}
	if err != nil {
		s.logger.Error("failed to load job", "err", err)
		writeJSON(w, http.StatusInternalServerError, models.ErrorNotice("Failed to load job"))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"connections": s.hub.Count(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[gateway] failed to write response: %v", err)
	}
}
