package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/ducktracker/ducktracker/internal/auth"
	"github.com/ducktracker/ducktracker/internal/engine"
	"github.com/ducktracker/ducktracker/internal/model"
	"github.com/ducktracker/ducktracker/internal/tagspec"
)

// writeLine responds in the Hauk line-oriented text protocol.
func writeLine(w http.ResponseWriter, status int, lines ...string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprint(w, strings.Join(lines, "\n")+"\n")
}

func writeFail(w http.ResponseWriter, status int, reason string) {
	if reason == "" {
		writeLine(w, status, "FAIL")
		return
	}
	writeLine(w, status, "FAIL", reason)
}

// credentials accepts HTTP Basic auth and falls back to the Hauk form
// fields. The password is never logged in either form.
func credentials(r *http.Request) (user, pass string) {
	if u, p, ok := r.BasicAuth(); ok {
		return u, p
	}
	user = r.PostFormValue("usr")
	pass = r.PostFormValue("pw")
	if pass == "" {
		pass = r.PostFormValue("pwd")
	}
	return user, pass
}

// handleCreate starts one fetch per tag parsed from the preferred link id
// and answers OK, the session id, and one share URL per tag.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeFail(w, http.StatusBadRequest, "malformed form body")
		return
	}

	user, pass := credentials(r)
	if err := s.gate.Verify(user, pass); err != nil {
		s.metrics.RecordAuthFailure()
		writeFail(w, http.StatusUnauthorized, "")
		return
	}

	parsed, err := tagspec.Parse(r.PostFormValue("lid"))
	if err != nil {
		writeFail(w, http.StatusBadRequest, err.Error())
		return
	}

	var dur time.Duration
	if v := r.PostFormValue("dur"); v != "" {
		secs, err := strconv.ParseInt(v, 10, 64)
		if err != nil || secs < 0 {
			writeFail(w, http.StatusBadRequest, "bad duration")
			return
		}
		dur = time.Duration(secs) * time.Second
	}

	result := s.hub.Create(user, parsed, dur, r.PostFormValue("nic"))

	lines := make([]string, 0, len(result.Fetches)+2)
	lines = append(lines, "OK", result.SID)
	for _, f := range result.Fetches {
		lines = append(lines, s.shareURL(f))
	}
	writeLine(w, http.StatusOK, lines...)
}

func (s *Server) shareURL(f engine.CreatedFetch) string {
	prefix := "priv"
	if f.Visibility == model.Public {
		prefix = "pub"
	}
	return fmt.Sprintf("%s/?%s:%s=%s", s.cfg.PublicURL, prefix, f.Tag, f.LinkToken)
}

// handlePost appends one point to every sibling fetch of the session.
func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeFail(w, http.StatusBadRequest, "malformed form body")
		return
	}
	sid := r.PostFormValue("sid")
	if sid == "" {
		writeFail(w, http.StatusBadRequest, "missing sid")
		return
	}

	loc, err := parseLocation(r)
	if err != nil {
		writeFail(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.cfg.Box != nil {
		loc = s.cfg.Box.Wrap(loc)
	}

	if err := s.hub.Append(sid, []model.Location{loc}); err != nil {
		switch {
		case errors.Is(err, engine.ErrInvalidPoint):
			writeFail(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, engine.ErrShareExpired):
			writeFail(w, http.StatusGone, err.Error())
		default:
			writeFail(w, http.StatusGone, engine.ErrUnknownShare.Error())
		}
		return
	}

	s.metrics.RecordPointsPosted(1)
	writeLine(w, http.StatusOK, "OK")
}

func parseLocation(r *http.Request) (model.Location, error) {
	lat, err := strconv.ParseFloat(r.PostFormValue("lat"), 64)
	if err != nil {
		return model.Location{}, fmt.Errorf("bad lat")
	}
	lon, err := strconv.ParseFloat(r.PostFormValue("lon"), 64)
	if err != nil {
		return model.Location{}, fmt.Errorf("bad lon")
	}
	ts, err := strconv.ParseFloat(r.PostFormValue("time"), 64)
	if err != nil {
		return model.Location{}, fmt.Errorf("bad time")
	}

	loc := model.Location{
		Lat:      lat,
		Lon:      lon,
		Time:     int64(ts),
		Speed:    optFloat(r, "spd", "speed"),
		Accuracy: optFloat(r, "acc"),
	}
	if v := r.PostFormValue("prv"); v != "" {
		if prv, err := strconv.Atoi(v); err == nil {
			loc.Provider = prv
		}
	}

	if !loc.Valid() {
		return model.Location{}, engine.ErrInvalidPoint
	}
	return loc, nil
}

// optFloat reads the first present form field as an optional float. Some
// Hauk client builds send "speed" instead of "spd".
func optFloat(r *http.Request, keys ...string) *float64 {
	for _, key := range keys {
		if v := r.PostFormValue(key); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return &f
			}
			return nil
		}
	}
	return nil
}

// handleStop terminates all sibling fetches of the session immediately.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeFail(w, http.StatusBadRequest, "malformed form body")
		return
	}
	if err := s.hub.Stop(r.PostFormValue("sid")); err != nil {
		writeFail(w, http.StatusGone, err.Error())
		return
	}
	writeLine(w, http.StatusOK, "OK")
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleLogin exchanges subscriber credentials for a short-lived stream
// token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request"})
		return
	}

	token, err := s.gate.IssueToken(req.Username, req.Password)
	if err != nil {
		s.metrics.RecordAuthFailure()
		s.logger.Info("login rejected", zap.String("user", req.Username))
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: auth.ErrBadCredentials.Error()})
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.hub.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"active_fetches": stats.ActiveFetches,
		"open_streams":   stats.OpenStreams,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
