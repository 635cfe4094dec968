package server

import (
	"fmt"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/ducktracker/ducktracker/internal/engine"
	"github.com/ducktracker/ducktracker/internal/model"
)

// handleStream opens a Server-Sent Events stream filtered by tag set. The
// first event is always Reset plus a full snapshot; a filter change means
// the client reconnects and gets a fresh snapshot.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	user, err := s.gate.ConsumeToken(token)
	if err != nil {
		s.metrics.RecordAuthFailure()
		http.Error(w, "invalid or expired token", http.StatusUnauthorized)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	selected := model.ParseTagList(r.URL.Query().Get("tags"))
	sub := s.hub.Subscribe(user, selected)
	defer s.hub.Unsubscribe(sub)

	s.logger.Info("stream opened",
		zap.String("sub_id", sub.ID),
		zap.String("user", user),
		zap.String("remote", r.RemoteAddr),
	)

	// The stream dies with the token; publisher POSTs re-authenticate on
	// every call, streams cannot.
	var tokenExpiry <-chan time.Time
	if deadline, ok := s.gate.TokenDeadline(token); ok {
		t := time.NewTimer(time.Until(deadline))
		defer t.Stop()
		tokenExpiry = t.C
	}

	keepalive := time.NewTimer(s.cfg.Keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Info("stream closed by client", zap.String("sub_id", sub.ID))
			return
		case <-sub.Done():
			return
		case <-tokenExpiry:
			s.logger.Info("stream token expired", zap.String("sub_id", sub.ID))
			return
		case <-sub.Notify():
			for {
				update, ok := s.hub.NextUpdate(sub)
				if !ok {
					break
				}
				if err := s.writeEvent(w, flusher, sub, update); err != nil {
					return
				}
			}
			resetTimer(keepalive, s.cfg.Keepalive)
		case <-keepalive.C:
			if err := s.writeEvent(w, flusher, sub, s.hub.Heartbeat(s.cfg.Keepalive)); err != nil {
				return
			}
			resetTimer(keepalive, s.cfg.Keepalive)
		}
	}
}

func (s *Server) writeEvent(w http.ResponseWriter, flusher http.Flusher, sub *engine.Subscriber, update model.Update) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return err
	}
	flusher.Flush()
	sub.Touch(time.Now())
	s.metrics.RecordUpdateDelivered()
	return nil
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
