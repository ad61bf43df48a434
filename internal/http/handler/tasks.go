package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/edirooss/zmux-relay/internal/domain/media"
	"github.com/edirooss/zmux-relay/internal/relay"
	"github.com/edirooss/zmux-relay/internal/service"
	"github.com/edirooss/zmux-relay/pkg/jsonx"
	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// TasksHandler exposes forwarding tasks.
//
//   - GET    /tasks              → list
//   - POST   /tasks              → create (and start when auto_start)
//   - GET    /tasks/{id}         → one
//   - PATCH  /tasks/{id}         → zero_copy and auto_start (running) only
//   - DELETE /tasks/{id}         → remove
//   - POST   /tasks/{id}/start|stop
//
// Routes with {id} expect middleware.RequireValidTaskID in front.
type TasksHandler struct {
	log    *zap.Logger
	mgr    *relay.Manager
	status *service.StatusService
}

func NewTasksHandler(log *zap.Logger, mgr *relay.Manager, status *service.StatusService) *TasksHandler {
	return &TasksHandler{
		log:    log.Named("tasks"),
		mgr:    mgr,
		status: status,
	}
}

func (h *TasksHandler) List(c *gin.Context) {
	tasks := h.mgr.Tasks()
	out := make([]relay.TaskStatus, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.Snapshot())
	}
	c.Header("X-Total-Count", strconv.Itoa(len(out)))
	c.JSON(http.StatusOK, out)
}

// Create handles POST /tasks.
//
// Status Codes:
//   - 201 Created → the new task
//   - 400 Bad Request → malformed JSON or unknown fields
//   - 404 Not Found → a referenced stream does not exist
//   - 422 Unprocessable Entity → missing endpoints or wrong roles
func (h *TasksHandler) Create(c *gin.Context) {
	var req media.TaskConfig
	if err := jsonx.ParseStrictJSONBody(c.Request, &req); err != nil {
		fail(c, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}

	id, err := h.mgr.CreateForwardTask(req.Pull, req.Push, req.Name, req.ZeroCopy)
	if err != nil {
		fail(c, err)
		return
	}
	h.status.Invalidate()

	if req.AutoStart {
		if err := h.mgr.StartTask(id); err != nil {
			fail(c, err)
			return
		}
	}

	t, _ := h.mgr.Task(id)
	c.Header("Location", "/api/tasks/"+strconv.FormatInt(id, 10))
	c.JSON(http.StatusCreated, t.Snapshot())
}

func (h *TasksHandler) Get(c *gin.Context) {
	id := taskID(c)
	t, ok := h.mgr.Task(id)
	if !ok {
		fail(c, fmt.Errorf("%w: %d", relay.ErrTaskNotFound, id))
		return
	}
	c.JSON(http.StatusOK, t.Snapshot())
}

// Modify handles PATCH /tasks/{id} with a JSON merge patch over the task's
// config. Only zero_copy and auto_start may change; auto_start starts or
// stops the task.
func (h *TasksHandler) Modify(c *gin.Context) {
	id := taskID(c)
	t, ok := h.mgr.Task(id)
	if !ok {
		fail(c, fmt.Errorf("%w: %d", relay.ErrTaskNotFound, id))
		return
	}

	patch, err := jsonx.ReadBody(c.Request)
	if err != nil {
		fail(c, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}
	cur := t.Config()
	orig, err := json.Marshal(cur)
	if err != nil {
		fail(c, err)
		return
	}
	patched, err := jsonpatch.MergePatch(orig, patch)
	if err != nil {
		fail(c, fmt.Errorf("%w: invalid merge patch: %w", errBadRequest, err))
		return
	}
	var next media.TaskConfig
	if err := jsonx.DecodeStrict(patched, &next); err != nil {
		fail(c, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}
	if next.Name != cur.Name || next.Pull != cur.Pull || next.Push != cur.Push {
		fail(c, fmt.Errorf("%w: only zero_copy and auto_start can be changed", relay.ErrInvalidConfig))
		return
	}

	if err := h.mgr.SetZeroCopy(id, next.ZeroCopy); err != nil {
		fail(c, err)
		return
	}
	switch {
	case next.AutoStart && !cur.AutoStart:
		err = h.mgr.StartTask(id)
	case !next.AutoStart && cur.AutoStart:
		err = h.mgr.StopTask(id)
	}
	if err != nil {
		fail(c, err)
		return
	}
	h.status.Invalidate()
	c.Status(http.StatusNoContent)
}

func (h *TasksHandler) Delete(c *gin.Context) { h.do(c, h.mgr.RemoveTask) }
func (h *TasksHandler) Start(c *gin.Context)  { h.do(c, h.mgr.StartTask) }
func (h *TasksHandler) Stop(c *gin.Context)   { h.do(c, h.mgr.StopTask) }

func (h *TasksHandler) do(c *gin.Context, op func(id int64) error) {
	if err := op(taskID(c)); err != nil {
		fail(c, err)
		return
	}
	h.status.Invalidate()
	c.Status(http.StatusNoContent)
}

// taskID extracts :id, already validated by middleware.
func taskID(c *gin.Context) int64 {
	id, _ := strconv.ParseInt(c.Param("id"), 10, 64)
	return id
}
