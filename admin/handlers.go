package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mhcomm/pypeman/channel"
	"github.com/mhcomm/pypeman/message"
	"github.com/mhcomm/pypeman/msgstore"
	"github.com/mhcomm/pypeman/node"
)

const version = "0.1.0"

// Handler contains shared dependencies for all admin endpoints.
type Handler struct {
	reg *channel.Registry
}

// NewHandler creates a Handler over the channel registry.
func NewHandler(reg *channel.Registry) *Handler {
	return &Handler{reg: reg}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data) //nolint:errcheck
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// HealthResponse reports the overall engine state.
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Channels  int    `json:"channels"`
	Running   int    `json:"running"`
	Timestamp string `json:"timestamp"`
}

// Health handles the health check endpoint.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	chans := h.reg.List()
	running := 0
	for _, c := range chans {
		if c.State() == channel.Waiting {
			running++
		}
	}
	status := "healthy"
	for _, c := range chans {
		if c.State() == channel.Error {
			status = "degraded"
			break
		}
	}
	h.JSON(w, http.StatusOK, HealthResponse{
		Status:    status,
		Version:   version,
		Channels:  len(chans),
		Running:   running,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// ChannelInfo is the wire view of one channel.
type ChannelInfo struct {
	Name        string   `json:"name"`
	State       string   `json:"state"`
	Processed   int64    `json:"processed"`
	HasStore    bool     `json:"has_store"`
	Parent      string   `json:"parent,omitempty"`
	Subchannels []string `json:"subchannels,omitempty"`
}

func channelInfo(c *channel.Channel) ChannelInfo {
	info := ChannelInfo{
		Name:      c.Name(),
		State:     c.State().String(),
		Processed: c.Processed(),
		HasStore:  c.HasStore(),
	}
	if p := c.Parent(); p != nil {
		info.Parent = p.Name()
	}
	for _, s := range c.Subchannels() {
		info.Subchannels = append(info.Subchannels, s.Name())
	}
	return info
}

// ListChannels handles GET /channels.
func (h *Handler) ListChannels(w http.ResponseWriter, r *http.Request) {
	chans := h.reg.List()
	out := make([]ChannelInfo, 0, len(chans))
	for _, c := range chans {
		out = append(out, channelInfo(c))
	}
	h.JSON(w, http.StatusOK, out)
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*channel.Channel, bool) {
	name := chi.URLParam(r, "name")
	c, ok := h.reg.Get(name)
	if !ok {
		h.Error(w, http.StatusNotFound, "unknown channel: "+name)
		return nil, false
	}
	return c, true
}

// GetChannel handles GET /channels/{name}.
func (h *Handler) GetChannel(w http.ResponseWriter, r *http.Request) {
	c, ok := h.lookup(w, r)
	if !ok {
		return
	}
	h.JSON(w, http.StatusOK, channelInfo(c))
}

// StartChannel handles POST /channels/{name}/start.
func (h *Handler) StartChannel(w http.ResponseWriter, r *http.Request) {
	c, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := c.Start(r.Context()); err != nil {
		h.Error(w, http.StatusConflict, err.Error())
		return
	}
	h.JSON(w, http.StatusOK, channelInfo(c))
}

// StopChannel handles POST /channels/{name}/stop.
func (h *Handler) StopChannel(w http.ResponseWriter, r *http.Request) {
	c, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := c.Stop(r.Context()); err != nil {
		h.Error(w, http.StatusConflict, err.Error())
		return
	}
	h.JSON(w, http.StatusOK, channelInfo(c))
}

// MessageView is the wire view of a stored message.
type MessageView struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   any            `json:"payload"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// RecordView is the wire view of one store record.
type RecordView struct {
	ID        string       `json:"id"`
	Status    string       `json:"status"`
	Timestamp time.Time    `json:"timestamp"`
	Message   *MessageView `json:"message,omitempty"`
}

func recordView(rec *msgstore.Record) RecordView {
	v := RecordView{
		ID:        rec.ID,
		Status:    string(rec.Status),
		Timestamp: rec.Timestamp,
	}
	if rec.Message != nil {
		v.Message = messageView(rec.Message)
	}
	return v
}

func messageView(m *message.Message) *MessageView {
	payload := m.Payload
	if b, ok := payload.([]byte); ok {
		payload = string(b)
	}
	return &MessageView{ID: m.ID, Timestamp: m.Timestamp, Payload: payload, Meta: m.Meta}
}

// SearchResponse wraps a page of store records.
type SearchResponse struct {
	Channel string       `json:"channel"`
	Results []RecordView `json:"results"`
	Total   int64        `json:"total"`
}

// parseQuery reads the search filters from URL parameters.
func parseQuery(r *http.Request) (msgstore.Query, error) {
	var q msgstore.Query
	vals := r.URL.Query()
	if s := vals.Get("start"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return q, errors.New("invalid 'start', want RFC3339")
		}
		q.Start = t
	}
	if s := vals.Get("end"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return q, errors.New("invalid 'end', want RFC3339")
		}
		q.End = t
	}
	if s := vals.Get("status"); s != "" {
		q.Status = msgstore.Status(s)
	}
	q.Pattern = vals.Get("pattern")
	q.StartID = vals.Get("start_id")
	q.Limit = 50
	if s := vals.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return q, errors.New("invalid 'limit'")
		}
		q.Limit = n
	}
	return q, nil
}

// SearchMessages handles GET /channels/{name}/messages.
func (h *Handler) SearchMessages(w http.ResponseWriter, r *http.Request) {
	c, ok := h.lookup(w, r)
	if !ok {
		return
	}
	q, err := parseQuery(r)
	if err != nil {
		h.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	recs, err := c.Store().Search(r.Context(), q)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	total, err := c.Store().Count(r.Context(), msgstore.Query{Start: q.Start, End: q.End, Status: q.Status})
	if err != nil {
		h.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := SearchResponse{Channel: c.Name(), Results: make([]RecordView, 0, len(recs)), Total: total}
	for _, rec := range recs {
		out.Results = append(out.Results, recordView(rec))
	}
	h.JSON(w, http.StatusOK, out)
}

// GetMessage handles GET /channels/{name}/messages/{id}.
func (h *Handler) GetMessage(w http.ResponseWriter, r *http.Request) {
	c, ok := h.lookup(w, r)
	if !ok {
		return
	}
	rec, err := c.Store().Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, msgstore.ErrNotFound) {
			h.Error(w, http.StatusNotFound, "unknown message")
			return
		}
		h.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.JSON(w, http.StatusOK, recordView(rec))
}

// ReplayMessage handles POST /channels/{name}/messages/{id}/replay.
func (h *Handler) ReplayMessage(w http.ResponseWriter, r *http.Request) {
	c, ok := h.lookup(w, r)
	if !ok {
		return
	}
	result, err := c.Replay(r.Context(), chi.URLParam(r, "id"))
	if err != nil && !node.IsDropped(err) {
		if errors.Is(err, msgstore.ErrNotFound) {
			h.Error(w, http.StatusNotFound, "unknown message")
			return
		}
		h.Error(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	h.JSON(w, http.StatusOK, messageView(result))
}
