package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/driftmud/server/internal/ops"
	"github.com/driftmud/server/internal/persist"
	"github.com/driftmud/server/internal/sim"
)

// JournalReader is the read side of the diagnostics journal. Nil disables
// the endpoint.
type JournalReader interface {
	Recent(ctx context.Context, kind string, limit int) ([]persist.JournalRow, error)
}

// AdminRoutes builds the operator HTTP surface over the control layer.
// Callers wrap it with RequireAdmin before mounting.
func AdminRoutes(ctl *ops.Control, journal JournalReader) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /admin/status", func(w http.ResponseWriter, r *http.Request) {
		st, err := ctl.Status()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	})

	mux.HandleFunc("POST /admin/scheduler/start", func(w http.ResponseWriter, r *http.Request) {
		if err := ctl.StartTicking(); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"state": "running"})
	})

	mux.HandleFunc("POST /admin/scheduler/stop", func(w http.ResponseWriter, r *http.Request) {
		if err := ctl.StopTicking(); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"state": "stopped"})
	})

	mux.HandleFunc("POST /admin/defs/reload", func(w http.ResponseWriter, r *http.Request) {
		sum, err := ctl.ReloadDefs()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"fingerprint": strconv.FormatUint(sum, 16)})
	})

	mux.HandleFunc("POST /admin/extensions/{id}/load", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Path  string   `json:"path"`
			Perms []string `json:"perms"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Path == "" {
			http.Error(w, "body needs a script path", http.StatusBadRequest)
			return
		}
		if err := ctl.LoadExtension(r.PathValue("id"), body.Path, body.Perms); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"extension": r.PathValue("id"), "action": "load"})
	})

	extAction := func(action string, fn func(string) error) {
		mux.HandleFunc("POST /admin/extensions/{id}/"+action, func(w http.ResponseWriter, r *http.Request) {
			id := r.PathValue("id")
			if err := fn(id); err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"extension": id, "action": action})
		})
	}
	extAction("unload", ctl.UnloadExtension)
	extAction("suspend", ctl.SuspendExtension)
	extAction("resume", ctl.ResumeExtension)
	extAction("reload", ctl.ReloadExtension)

	mux.HandleFunc("POST /admin/extensions/{id}/invoke", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Fn      string         `json:"fn"`
			Payload map[string]any `json:"payload"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Fn == "" {
			http.Error(w, "body needs a function name", http.StatusBadRequest)
			return
		}
		ret, err := ctl.InvokeExtension(r.PathValue("id"), body.Fn, body.Payload)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"invoked": body.Fn, "result": ret})
	})

	mux.HandleFunc("POST /admin/snapshots/save", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := ops.Deadline(r.Context())
		defer cancel()
		id, tick, err := ctl.SaveSnapshot(ctx)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id.String(), "tick": tick})
	})

	mux.HandleFunc("POST /admin/snapshots/restore", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ID string `json:"id"`
		}
		// An empty body restores the newest snapshot.
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		id := uuid.Nil
		if body.ID != "" {
			parsed, err := uuid.Parse(body.ID)
			if err != nil {
				http.Error(w, "bad snapshot id", http.StatusBadRequest)
				return
			}
			id = parsed
		}
		ctx, cancel := ops.Deadline(r.Context())
		defer cancel()
		tick, err := ctl.RestoreSnapshot(ctx, id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"tick": tick})
	})

	mux.HandleFunc("GET /admin/journal", func(w http.ResponseWriter, r *http.Request) {
		if journal == nil {
			http.Error(w, "journal not configured", http.StatusNotFound)
			return
		}
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 || n > 1000 {
				http.Error(w, "limit must be 1..1000", http.StatusBadRequest)
				return
			}
			limit = n
		}
		ctx, cancel := ops.Deadline(r.Context())
		defer cancel()
		rows, err := journal.Recent(ctx, r.URL.Query().Get("kind"), limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"entries": rows})
	})

	return mux
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, ops.ErrNotStopped),
		errors.Is(err, sim.ErrAlreadyRunning),
		errors.Is(err, sim.ErrNotRunning):
		code = http.StatusConflict
	}
	writeJSON(w, code, map[string]any{"error": err.Error()})
}
