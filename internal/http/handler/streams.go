package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/edirooss/zmux-relay/internal/domain/media"
	"github.com/edirooss/zmux-relay/internal/infrastructure/eventlog"
	"github.com/edirooss/zmux-relay/internal/relay"
	"github.com/edirooss/zmux-relay/internal/service"
	"github.com/edirooss/zmux-relay/pkg/jsonx"
	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// StreamsHandler exposes the relay's streams.
//
//   - GET    /streams                 → list
//   - POST   /streams                 → create
//   - GET    /streams/{id}            → status of one
//   - GET    /streams/{id}/config     → config of one
//   - PATCH  /streams/{id}            → modify config (RFC 7396 merge patch)
//   - DELETE /streams/{id}            → remove, with its tasks
//   - POST   /streams/{id}/start|stop|reconnect
//   - GET    /streams/{id}/logs       → lifecycle events, newest first
type StreamsHandler struct {
	log    *zap.Logger
	mgr    *relay.Manager
	status *service.StatusService
}

func NewStreamsHandler(log *zap.Logger, mgr *relay.Manager, status *service.StatusService) *StreamsHandler {
	return &StreamsHandler{
		log:    log.Named("streams"),
		mgr:    mgr,
		status: status,
	}
}

// List handles GET /streams. Adds X-Total-Count.
func (h *StreamsHandler) List(c *gin.Context) {
	streams := h.mgr.Streams()
	out := make([]any, 0, len(streams))
	for _, s := range streams {
		out = append(out, s.Snapshot())
	}
	c.Header("X-Total-Count", strconv.Itoa(len(out)))
	c.JSON(http.StatusOK, out)
}

// Create handles POST /streams.
//
// Status Codes:
//   - 201 Created → status of the new stream
//   - 400 Bad Request → malformed JSON or unknown fields
//   - 422 Unprocessable Entity → invalid config or duplicate id
func (h *StreamsHandler) Create(c *gin.Context) {
	body, err := jsonx.ReadBody(c.Request)
	if err != nil {
		fail(c, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}
	if err := checkStreamFields(body); err != nil {
		fail(c, err)
		return
	}
	var cfg media.StreamConfig
	if err := json.Unmarshal(body, &cfg); err != nil {
		fail(c, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}

	id, err := h.mgr.AddStream(cfg)
	if err != nil {
		fail(c, err)
		return
	}
	h.status.Invalidate()

	s, _ := h.mgr.Stream(id)
	c.Header("Location", "/api/streams/"+id)
	c.JSON(http.StatusCreated, s.Snapshot())
}

func (h *StreamsHandler) Get(c *gin.Context) {
	s, ok := h.mgr.Stream(c.Param("id"))
	if !ok {
		fail(c, fmt.Errorf("%w: %s", relay.ErrStreamNotFound, c.Param("id")))
		return
	}
	c.JSON(http.StatusOK, s.Snapshot())
}

func (h *StreamsHandler) GetConfig(c *gin.Context) {
	s, ok := h.mgr.Stream(c.Param("id"))
	if !ok {
		fail(c, fmt.Errorf("%w: %s", relay.ErrStreamNotFound, c.Param("id")))
		return
	}
	cfg := s.Config()
	cfg.AutoStart = s.Running()
	c.JSON(http.StatusOK, cfg)
}

// Modify handles PATCH /streams/{id} with a JSON merge patch over the
// stream's config. The id cannot be patched. A changed config recreates
// the stream; its tasks and event log are kept.
//
// Status Codes:
//   - 204 No Content
//   - 400 Bad Request → malformed patch, unknown fields or id change
//   - 404 Not Found
//   - 422 Unprocessable Entity → invalid result or role change
func (h *StreamsHandler) Modify(c *gin.Context) {
	id := c.Param("id")
	s, ok := h.mgr.Stream(id)
	if !ok {
		fail(c, fmt.Errorf("%w: %s", relay.ErrStreamNotFound, id))
		return
	}

	patch, err := jsonx.ReadBody(c.Request)
	if err != nil {
		fail(c, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}
	if err := checkStreamFields(patch); err != nil {
		fail(c, err)
		return
	}

	orig, err := json.Marshal(s.Config())
	if err != nil {
		fail(c, err)
		return
	}
	patched, err := jsonpatch.MergePatch(orig, patch)
	if err != nil {
		fail(c, fmt.Errorf("%w: invalid merge patch: %w", errBadRequest, err))
		return
	}

	var cfg media.StreamConfig
	if err := json.Unmarshal(patched, &cfg); err != nil {
		fail(c, fmt.Errorf("%w: patched config: %w", errBadRequest, err))
		return
	}
	if cfg.ID != id {
		fail(c, fmt.Errorf("%w: id cannot be changed", errBadRequest))
		return
	}

	if err := h.mgr.UpdateStream(cfg); err != nil {
		fail(c, err)
		return
	}
	h.status.Invalidate()
	c.Status(http.StatusNoContent)
}

func (h *StreamsHandler) Delete(c *gin.Context) {
	h.do(c, h.mgr.RemoveStream)
}

func (h *StreamsHandler) Start(c *gin.Context) {
	h.do(c, h.mgr.StartStream)
}

func (h *StreamsHandler) Stop(c *gin.Context) {
	h.do(c, h.mgr.StopStream)
}

func (h *StreamsHandler) Reconnect(c *gin.Context) {
	h.do(c, h.mgr.ReconnectStream)
}

func (h *StreamsHandler) do(c *gin.Context, op func(id string) error) {
	if err := op(c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	h.status.Invalidate()
	c.Status(http.StatusNoContent)
}

// Logs handles GET /streams/{id}/logs?limit=N (default 100, max 500).
func (h *StreamsHandler) Logs(c *gin.Context) {
	limit := 100
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			fail(c, fmt.Errorf("%w: invalid limit", errBadRequest))
			return
		}
		limit = min(n, eventlog.Capacity)
	}

	buf, ok := h.mgr.Events(c.Param("id"))
	if !ok {
		fail(c, fmt.Errorf("%w: %s", relay.ErrStreamNotFound, c.Param("id")))
		return
	}
	events := buf.Read(limit)
	if events == nil {
		events = []eventlog.Event{}
	}
	c.JSON(http.StatusOK, events)
}

// checkStreamFields rejects documents with keys StreamConfig does not know.
// StreamConfig decodes through its own UnmarshalJSON, which cannot reject
// unknown fields itself.
func checkStreamFields(body []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return fmt.Errorf("%w: %w", errBadRequest, err)
	}
	for k := range fields {
		if _, ok := streamFields[k]; !ok {
			return fmt.Errorf("%w: unknown field %q", errBadRequest, k)
		}
	}
	return nil
}

var streamFields = jsonFields(reflect.TypeOf(media.StreamConfig{}))

func jsonFields(t reflect.Type) map[string]struct{} {
	out := make(map[string]struct{}, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		if name != "" && name != "-" {
			out[name] = struct{}{}
		}
	}
	return out
}
