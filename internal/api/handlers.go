package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/graystone-av/dsp-core/internal/processor"
)

// recallMargin pads a scene recall deadline beyond the scene's own
// window to cover the command round-trips themselves.
const recallMargin = 30 * time.Second

type handlers struct {
	deps Deps
}

// health reports overall service health, probing each registered checker.
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	type check struct {
		Status string `json:"status"`
		Error  string `json:"error,omitempty"`
	}
	checks := make(map[string]check, len(h.deps.HealthCheckers))
	healthy := true
	for name, fn := range h.deps.HealthCheckers {
		if err := fn(); err != nil {
			checks[name] = check{Status: "fail", Error: err.Error()}
			healthy = false
			continue
		}
		checks[name] = check{Status: "pass"}
	}

	status := http.StatusOK
	overall := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}
	writeJSON(w, status, map[string]any{
		"status":  overall,
		"version": h.deps.Version,
		"checks":  checks,
	})
}

// status returns the venue summary with every unit's operational state.
func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"venue":      h.deps.Config.Venue,
		"version":    h.deps.Version,
		"processors": h.deps.Manager.Statuses(),
	})
}

// metrics exposes the raw per-connection and meter ingest counters.
func (h *handlers) metrics(w http.ResponseWriter, r *http.Request) {
	connections := make(map[string]any)
	for _, u := range h.deps.Manager.Units() {
		connections[u.Processor().ID] = u.Status().Stats
	}
	body := map[string]any{"connections": connections}
	if h.deps.Meters != nil {
		body["meters"] = h.deps.Meters.Stats()
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *handlers) listProcessors(w http.ResponseWriter, r *http.Request) {
	procs := make([]processor.Processor, 0)
	for _, u := range h.deps.Manager.Units() {
		procs = append(procs, u.Processor())
	}
	writeJSON(w, http.StatusOK, procs)
}

func (h *handlers) createProcessor(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name        string `json:"name"`
		Host        string `json:"host"`
		ControlPort int    `json:"control_port"`
		MeterPort   int    `json:"meter_port"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Name == "" || body.Host == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "name and host are required")
		return
	}

	u, err := h.deps.Manager.AddProcessor(r.Context(), processor.Processor{
		Name:        body.Name,
		Host:        body.Host,
		ControlPort: body.ControlPort,
		MeterPort:   body.MeterPort,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, u.Processor())
}

func (h *handlers) getProcessor(w http.ResponseWriter, r *http.Request) {
	u, err := h.deps.Manager.Unit(chi.URLParam(r, "processorID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u.Processor())
}

func (h *handlers) deleteProcessor(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Manager.RemoveProcessor(r.Context(), chi.URLParam(r, "processorID")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) processorStatus(w http.ResponseWriter, r *http.Request) {
	u, err := h.deps.Manager.Unit(chi.URLParam(r, "processorID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u.Status())
}

func (h *handlers) processorMeters(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "processorID")
	if _, err := h.deps.Manager.Unit(id); err != nil {
		writeDomainError(w, err)
		return
	}
	if h.deps.Meters == nil {
		writeJSON(w, http.StatusOK, map[string]any{"levels": []any{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"levels": h.deps.Meters.Snapshot(id)})
}

func (h *handlers) listParameters(w http.ResponseWriter, r *http.Request) {
	u, err := h.deps.Manager.Unit(chi.URLParam(r, "processorID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u.Parameters())
}

func (h *handlers) getParameter(w http.ResponseWriter, r *http.Request) {
	u, err := h.deps.Manager.Unit(chi.URLParam(r, "processorID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	v, err := u.GetParameter(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *handlers) setParameter(w http.ResponseWriter, r *http.Request) {
	u, err := h.deps.Manager.Unit(chi.URLParam(r, "processorID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var body struct {
		Value float64 `json:"value"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	confirmed, err := u.SetParameter(r.Context(), chi.URLParam(r, "name"), body.Value, processor.SourceAPI)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"confirmed": confirmed})
}

func (h *handlers) listChannels(w http.ResponseWriter, r *http.Request) {
	u, err := h.deps.Manager.Unit(chi.URLParam(r, "processorID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u.Channels())
}

func (h *handlers) linkStereo(w http.ResponseWriter, r *http.Request) {
	u, err := h.deps.Manager.Unit(chi.URLParam(r, "processorID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var body struct {
		Direction string `json:"direction"`
		Index     int    `json:"index"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Direction != processor.DirectionInput && body.Direction != processor.DirectionOutput {
		writeError(w, http.StatusBadRequest, "invalid_request", "direction must be input or output")
		return
	}

	a, b, err := u.LinkStereo(r.Context(), body.Direction, body.Index)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, []processor.Channel{a, b})
}

func (h *handlers) unlinkStereo(w http.ResponseWriter, r *http.Request) {
	u, err := h.deps.Manager.Unit(chi.URLParam(r, "processorID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "index must be an integer")
		return
	}

	a, b, err := u.UnlinkStereo(r.Context(), chi.URLParam(r, "direction"), index)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, []processor.Channel{a, b})
}

func (h *handlers) listGroups(w http.ResponseWriter, r *http.Request) {
	u, err := h.deps.Manager.Unit(chi.URLParam(r, "processorID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u.Groups())
}

func (h *handlers) createGroup(w http.ResponseWriter, r *http.Request) {
	u, err := h.deps.Manager.Unit(chi.URLParam(r, "processorID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var body struct {
		Name    string `json:"name"`
		Members []int  `json:"members"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Name == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "name is required")
		return
	}

	g, err := u.CreateGroup(r.Context(), body.Name, body.Members)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

func (h *handlers) deleteGroup(w http.ResponseWriter, r *http.Request) {
	u, err := h.deps.Manager.Unit(chi.URLParam(r, "processorID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := u.DeleteGroup(r.Context(), chi.URLParam(r, "groupID")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) leaveGroup(w http.ResponseWriter, r *http.Request) {
	u, err := h.deps.Manager.Unit(chi.URLParam(r, "processorID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "index must be an integer")
		return
	}

	g, err := u.LeaveGroup(r.Context(), index)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (h *handlers) setGroupGain(w http.ResponseWriter, r *http.Request) {
	u, err := h.deps.Manager.Unit(chi.URLParam(r, "processorID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var body struct {
		Value float64 `json:"value"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	confirmed, err := u.SetGroupGain(r.Context(), chi.URLParam(r, "groupID"), body.Value)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"confirmed": confirmed})
}

func (h *handlers) setGroupMute(w http.ResponseWriter, r *http.Request) {
	u, err := h.deps.Manager.Unit(chi.URLParam(r, "processorID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var body struct {
		Mute bool `json:"mute"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	confirmed, err := u.MuteGroup(r.Context(), chi.URLParam(r, "groupID"), body.Mute)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"confirmed": confirmed})
}

func (h *handlers) listScenes(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "processorID")
	if _, err := h.deps.Manager.Unit(id); err != nil {
		writeDomainError(w, err)
		return
	}
	scenes, err := h.deps.Scenes.List(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scenes)
}

func (h *handlers) captureScene(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "processorID")
	var body struct {
		Name        string   `json:"name"`
		Description string   `json:"description"`
		Parameters  []string `json:"parameters"`
		RecallTime  int      `json:"recall_time"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Name == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "name is required")
		return
	}

	s, err := h.deps.Scenes.Capture(r.Context(), id, body.Name, body.Description,
		body.Parameters, body.RecallTime)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

func (h *handlers) getScene(w http.ResponseWriter, r *http.Request) {
	s, err := h.deps.Scenes.Get(r.Context(), chi.URLParam(r, "sceneID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *handlers) renameScene(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	s, err := h.deps.Scenes.Rename(r.Context(), chi.URLParam(r, "sceneID"), body.Name, body.Description)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *handlers) deleteScene(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Scenes.Delete(r.Context(), chi.URLParam(r, "sceneID")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// recallScene applies a scene synchronously. A long recall window
// staggers writes far past the blanket request timeout, so this route is
// exempt from it: the deadline scales with the scene's recall_time and
// the response write deadline is pushed out to match.
func (h *handlers) recallScene(w http.ResponseWriter, r *http.Request) {
	s, err := h.deps.Scenes.Get(r.Context(), chi.URLParam(r, "sceneID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	window := time.Duration(s.RecallTime)*time.Second + recallMargin
	ctx, cancel := context.WithTimeout(r.Context(), window)
	defer cancel()
	http.NewResponseController(w).SetWriteDeadline(time.Now().Add(window)) //nolint:errcheck // Best effort; the server default stands where unsupported

	result, err := h.deps.Scenes.Recall(ctx, s.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	status := http.StatusOK
	if result.Status != "recalled" {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, result)
}
