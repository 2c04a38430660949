package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/afroash/w1-monitor/internal/models"
	"github.com/afroash/w1-monitor/internal/storage"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 5000
	defaultStatsDays    = 7
)

// AgentDirectory lists connected agents and reconfigures them.
// Handler implements this interface
type AgentDirectory interface {
	GetActiveAgents() []AgentStatus
	PushConfig(agentID string, pollIntervalMs int) error
}

// APIHandler handles the HTTP query API
type APIHandler struct {
	store   ReadingStore
	history HistoricalStore
	agents  AgentDirectory
	logger  zerolog.Logger
}

// NewAPIHandler creates an API handler backed by memory only
func NewAPIHandler(store ReadingStore, logger zerolog.Logger) *APIHandler {
	return &APIHandler{
		store:  store,
		logger: logger,
	}
}

// NewAPIHandlerWithHistory creates an API handler that falls back to the
// database for anything memory no longer holds.
func NewAPIHandlerWithHistory(store ReadingStore, history HistoricalStore, logger zerolog.Logger) *APIHandler {
	api := NewAPIHandler(store, logger)
	api.history = history
	return api
}

// SetAgents enables the agent endpoints
func (api *APIHandler) SetAgents(agents AgentDirectory) {
	api.agents = agents
}

// Routes returns the API router, meant to be mounted under /api
func (api *APIHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/current", api.HandleCurrent)
	r.Get("/history", api.HandleHistory)
	r.Get("/stats", api.HandleStats)
	r.Get("/daily/stats", api.HandleDailyStats)
	r.Get("/sensors", api.HandleSensors)
	r.Get("/polls/{key}", api.HandlePoll)
	r.Route("/agents", func(r chi.Router) {
		r.Get("/", api.HandleAgents)
		r.Post("/{agentID}/config", api.HandlePushConfig)
	})
	return r
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// sensorID returns the sensor_id query parameter, defaulting to the first
// known sensor. Empty when nothing has reported yet.
func (api *APIHandler) sensorID(r *http.Request) string {
	if id := r.URL.Query().Get("sensor_id"); id != "" {
		return id
	}
	ids := api.sensorIDs()
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}

// sensorIDs merges the ids in memory with the ones in the database
func (api *APIHandler) sensorIDs() []string {
	seen := make(map[string]struct{})
	for _, id := range api.store.GetSensorIDs() {
		seen[id] = struct{}{}
	}
	if api.history != nil {
		ids, err := api.history.GetSensorIDs()
		if err != nil {
			api.logger.Warn().Err(err).Msg("Failed to list stored sensors")
		}
		for _, id := range ids {
			seen[id] = struct{}{}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// HandleCurrent returns the current reading for a sensor
func (api *APIHandler) HandleCurrent(w http.ResponseWriter, r *http.Request) {
	sensorID := api.sensorID(r)
	if sensorID == "" {
		writeError(w, http.StatusNotFound, "no sensors found")
		return
	}

	reading := api.store.GetCurrentReading(sensorID)
	if reading == nil && api.history != nil {
		var err error
		reading, err = api.history.GetLatestReading(sensorID)
		if err != nil {
			api.logger.Error().Err(err).Str("sensor_id", sensorID).Msg("Failed to load latest reading")
			writeError(w, http.StatusInternalServerError, "failed to load reading")
			return
		}
	}
	if reading == nil {
		writeError(w, http.StatusNotFound, "no readings available")
		return
	}
	writeJSON(w, http.StatusOK, reading)
}

// HandleHistory returns recent readings for a sensor, newest first.
// With start and end (RFC3339) it queries the database range instead.
// before pages back from an instant and after pages forward from one.
func (api *APIHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := defaultHistoryLimit
	if s := q.Get("limit"); s != "" {
		parsed, err := strconv.Atoi(s)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(parsed, maxHistoryLimit)
	}

	start, err := parseTimeParam(q.Get("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "start: "+err.Error())
		return
	}
	end, err := parseTimeParam(q.Get("end"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "end: "+err.Error())
		return
	}
	before, err := parseTimeParam(q.Get("before"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "before: "+err.Error())
		return
	}

	after, err := parseTimeParam(q.Get("after"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "after: "+err.Error())
		return
	}
	if !before.IsZero() && !after.IsZero() {
		writeError(w, http.StatusBadRequest, "before and after are exclusive")
		return
	}

	sensorID := api.sensorID(r)
	if sensorID == "" {
		writeJSON(w, http.StatusOK, []*models.Reading{})
		return
	}

	var readings []*models.Reading
	switch {
	case !start.IsZero() || !end.IsZero() || !before.IsZero() || !after.IsZero():
		if api.history == nil {
			writeError(w, http.StatusServiceUnavailable, "history storage not configured")
			return
		}
		switch {
		case !before.IsZero():
			readings, err = api.history.GetReadingsBefore(sensorID, before, limit)
		case !after.IsZero():
			readings, err = api.history.GetReadingsAfter(sensorID, after, limit)
		default:
			if end.IsZero() {
				end = time.Now().UTC()
			}
			if end.Before(start) {
				writeError(w, http.StatusBadRequest, "end is before start")
				return
			}
			readings, err = api.history.GetReadingsInRange(sensorID, start, end, limit)
		}
		if err != nil {
			api.logger.Error().Err(err).Str("sensor_id", sensorID).Msg("Failed to query history")
			writeError(w, http.StatusInternalServerError, "failed to query history")
			return
		}
	default:
		readings = api.store.GetLatest(sensorID, limit)
	}

	if readings == nil {
		readings = []*models.Reading{}
	}
	writeJSON(w, http.StatusOK, readings)
}

// StatsResponse combines memory and database statistics
type StatsResponse struct {
	Memory  StoreStats            `json:"memory"`
	Storage *storage.StorageStats `json:"storage,omitempty"`
}

// HandleStats returns store statistics
func (api *APIHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{Memory: api.store.Stats()}
	if api.history != nil {
		stats, err := api.history.GetStorageStats()
		if err != nil {
			api.logger.Error().Err(err).Msg("Failed to load storage stats")
			writeError(w, http.StatusInternalServerError, "failed to load storage stats")
			return
		}
		resp.Storage = stats
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleDailyStats returns per-day min/max/avg temperature. The window is
// the last days days (default 7); sensor_id narrows it to one sensor.
func (api *APIHandler) HandleDailyStats(w http.ResponseWriter, r *http.Request) {
	if api.history == nil {
		writeError(w, http.StatusServiceUnavailable, "history storage not configured")
		return
	}

	days := defaultStatsDays
	if s := r.URL.Query().Get("days"); s != "" {
		parsed, err := strconv.Atoi(s)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "days must be a positive integer")
			return
		}
		days = parsed
	}

	end := time.Now().UTC()
	start := end.AddDate(0, 0, -days)
	stats, err := api.history.GetDailyStats(r.URL.Query().Get("sensor_id"), start, end)
	if err != nil {
		api.logger.Error().Err(err).Msg("Failed to load daily stats")
		writeError(w, http.StatusInternalServerError, "failed to load daily stats")
		return
	}
	if stats == nil {
		stats = []storage.DailyStat{}
	}
	writeJSON(w, http.StatusOK, stats)
}

// HandleSensors lists every sensor id seen in memory or the database
func (api *APIHandler) HandleSensors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.sensorIDs())
}

// HandlePoll returns the stored poll result for a key
func (api *APIHandler) HandlePoll(w http.ResponseWriter, r *http.Request) {
	if api.history == nil {
		writeError(w, http.StatusServiceUnavailable, "history storage not configured")
		return
	}
	key := chi.URLParam(r, "key")
	result, err := api.history.GetPollResult(key)
	if err != nil {
		api.logger.Error().Err(err).Str("key", key).Msg("Failed to load poll result")
		writeError(w, http.StatusInternalServerError, "failed to load poll result")
		return
	}
	if result == nil {
		writeError(w, http.StatusNotFound, "poll not found")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleAgents lists connected agents
func (api *APIHandler) HandleAgents(w http.ResponseWriter, r *http.Request) {
	if api.agents == nil {
		writeJSON(w, http.StatusOK, []AgentStatus{})
		return
	}
	writeJSON(w, http.StatusOK, api.agents.GetActiveAgents())
}

// HandlePushConfig sends {"poll_interval_ms": n} to a connected agent
func (api *APIHandler) HandlePushConfig(w http.ResponseWriter, r *http.Request) {
	if api.agents == nil {
		writeError(w, http.StatusServiceUnavailable, "agent stream not configured")
		return
	}

	var body models.ConfigMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.PollIntervalMs < 1 {
		writeError(w, http.StatusBadRequest, "poll_interval_ms must be positive")
		return
	}

	agentID := chi.URLParam(r, "agentID")
	if err := api.agents.PushConfig(agentID, body.PollIntervalMs); err != nil {
		if errors.Is(err, ErrAgentNotConnected) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		api.logger.Error().Err(err).Str("agent_id", agentID).Msg("Failed to push config")
		writeError(w, http.StatusBadGateway, "failed to push config")
		return
	}
	writeJSON(w, http.StatusAccepted, body)
}

// parseTimeParam accepts RFC3339 or unix seconds; empty yields the zero time
func parseTimeParam(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, errors.New("expected RFC3339 or unix seconds")
	}
	return t.UTC(), nil
}
