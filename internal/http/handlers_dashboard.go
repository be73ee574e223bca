package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"finpulse/internal/core"
	"finpulse/internal/dashboard"
	"finpulse/internal/ledger"
	"finpulse/internal/log"
)

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	v, err := s.registry.Get(ownerOf(r)).View()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleGoal(w http.ResponseWriter, r *http.Request) {
	v, err := s.registry.Get(ownerOf(r)).View()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v.Goal)
}

func (s *Server) handleSaveGoal(w http.ResponseWriter, r *http.Request) {
	var req goalRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	in := core.GoalInput{Name: req.Name, TargetAmount: req.Amount}
	if err := s.gateway.SaveGoal(r.Context(), ownerOf(r), in); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, accepted)
}

func (s *Server) handleSetLimits(w http.ResponseWriter, r *http.Request) {
	var req ledger.Limits
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	c := s.registry.Get(ownerOf(r))
	if err := c.SetLimits(req); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c.State())
}

// handlePreferences applies the fields that are present. Nothing is
// applied unless every present field is valid.
func (s *Server) handlePreferences(w http.ResponseWriter, r *http.Request) {
	var req preferencesRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}

	var (
		theme dashboard.Theme
		tab   dashboard.Tab
		err   error
	)
	if req.Theme != nil {
		if theme, err = dashboard.ParseTheme(*req.Theme); err != nil {
			writeError(w, r, err)
			return
		}
	}
	if req.Tab != nil {
		if tab, err = dashboard.ParseTab(*req.Tab); err != nil {
			writeError(w, r, err)
			return
		}
	}

	c := s.registry.Get(ownerOf(r))
	if req.Theme != nil {
		c.SetTheme(theme)
	}
	if req.Tab != nil {
		c.SetTab(tab)
	}
	if req.Filter != nil {
		c.SetFilter(*req.Filter)
	}
	writeJSON(w, http.StatusOK, c.State())
}

func (s *Server) handleToggleTheme(w http.ResponseWriter, r *http.Request) {
	c := s.registry.Get(ownerOf(r))
	c.ToggleTheme()
	writeJSON(w, http.StatusOK, c.State())
}

// handleStream sends the current view and then every new one as a
// server-sent event. Views produced faster than the client reads are
// coalesced to the latest. The stream ends when the client goes away, the
// owner's controller is released or the server shuts down.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.FromContext(ctx)
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		logger.DebugContext(ctx, "Write deadline not adjustable", log.FieldError, err)
	}

	c := s.registry.Get(ownerOf(r))
	latest := make(chan dashboard.View, 1)
	cancel := c.Listen(func(v dashboard.View) {
		for {
			select {
			case latest <- v:
				return
			default:
			}
			select {
			case <-latest:
			default:
			}
		}
	})
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if v, err := c.View(); err == nil {
		if err := writeEvent(w, rc, "view", v); err != nil {
			return
		}
	} else {
		logger.ErrorContext(ctx, "Initial view failed", log.FieldError, err)
	}

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopping:
			return
		case <-c.Done():
			return
		case v := <-latest:
			if err := writeEvent(w, rc, "view", v); err != nil {
				logger.DebugContext(ctx, "Stream write failed", log.FieldError, err)
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, rc *http.ResponseController, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event, err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	return rc.Flush()
}
