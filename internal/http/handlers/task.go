package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/mediasift/mediasift/internal/models"
	"github.com/mediasift/mediasift/internal/scheduler"
	"github.com/mediasift/mediasift/internal/service"
	"github.com/mediasift/mediasift/internal/service/progress"
)

// TaskHandler handles task queue API endpoints.
type TaskHandler struct {
	taskService *service.TaskService
	runner      *scheduler.Runner
}

// NewTaskHandler creates a new task handler. runner may be nil when the
// server runs without an embedded worker.
func NewTaskHandler(taskService *service.TaskService, runner *scheduler.Runner) *TaskHandler {
	return &TaskHandler{
		taskService: taskService,
		runner:      runner,
	}
}

// Register registers the task routes with the API.
func (h *TaskHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listTasks",
		Method:      "GET",
		Path:        "/api/v1/tasks",
		Summary:     "List tasks",
		Description: "Returns queued and running tasks, queue order first",
		Tags:        []string{"Tasks"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getTaskHistory",
		Method:      "GET",
		Path:        "/api/v1/tasks/history",
		Summary:     "Get task history",
		Description: "Returns terminal task attempts with pagination",
		Tags:        []string{"Tasks"},
	}, h.GetHistory)

	huma.Register(api, huma.Operation{
		OperationID: "getRunnerStatus",
		Method:      "GET",
		Path:        "/api/v1/tasks/runner",
		Summary:     "Get runner status",
		Description: "Returns the task runner status",
		Tags:        []string{"Tasks"},
	}, h.GetRunnerStatus)

	huma.Register(api, huma.Operation{
		OperationID: "cancelAllTasks",
		Method:      "POST",
		Path:        "/api/v1/tasks/cancel-all",
		Summary:     "Cancel all tasks",
		Description: "Cancels every pending task, optionally running tasks too",
		Tags:        []string{"Tasks"},
	}, h.CancelAll)

	huma.Register(api, huma.Operation{
		OperationID: "getTask",
		Method:      "GET",
		Path:        "/api/v1/tasks/{id}",
		Summary:     "Get task",
		Description: "Returns a task by ID, including live progress when available",
		Tags:        []string{"Tasks"},
	}, h.GetByID)

	huma.Register(api, huma.Operation{
		OperationID: "cancelTask",
		Method:      "POST",
		Path:        "/api/v1/tasks/{id}/cancel",
		Summary:     "Cancel task",
		Description: "Cancels a pending task immediately or a running task at its next checkpoint",
		Tags:        []string{"Tasks"},
	}, h.Cancel)

	huma.Register(api, huma.Operation{
		OperationID: "setTaskPriority",
		Method:      "POST",
		Path:        "/api/v1/tasks/{id}/priority",
		Summary:     "Set task priority",
		Description: "Overrides a pending task's priority; smaller values run sooner",
		Tags:        []string{"Tasks"},
	}, h.SetPriority)

	huma.Register(api, huma.Operation{
		OperationID: "retryTask",
		Method:      "POST",
		Path:        "/api/v1/tasks/{id}/retry",
		Summary:     "Retry task",
		Description: "Puts a failed or cancelled task back into the queue",
		Tags:        []string{"Tasks"},
	}, h.Retry)
}

// ListTasksInput is the input for listing tasks.
type ListTasksInput struct {
	Status string `query:"status" doc:"Filter by status" enum:"pending,scheduled,running,succeeded,failed,cancelled" required:"false"`
	Kind   string `query:"kind" doc:"Filter by kind" enum:"scan_dir,ingest_file,reindex" required:"false"`
	Limit  int    `query:"limit" doc:"Maximum number of tasks to return" minimum:"0" required:"false"`
}

// ListTasksOutput is the output for listing tasks.
type ListTasksOutput struct {
	Body struct {
		Tasks []TaskResponse `json:"tasks"`
	}
}

// List returns queued and running tasks.
func (h *TaskHandler) List(ctx context.Context, input *ListTasksInput) (*ListTasksOutput, error) {
	var status *models.TaskStatus
	if input.Status != "" {
		s := models.TaskStatus(input.Status)
		status = &s
	}
	var kind *models.TaskKind
	if input.Kind != "" {
		k := models.TaskKind(input.Kind)
		kind = &k
	}

	tasks, err := h.taskService.List(ctx, status, kind, input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list tasks", err)
	}

	resp := &ListTasksOutput{}
	resp.Body.Tasks = make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		resp.Body.Tasks = append(resp.Body.Tasks, TaskFromModel(t))
	}
	return resp, nil
}

// GetTaskInput is the input for getting a task.
type GetTaskInput struct {
	ID string `path:"id" doc:"Task ID (ULID)"`
}

// GetTaskOutput is the output for getting a task.
type GetTaskOutput struct {
	Body struct {
		TaskResponse
		Progress *progress.Snapshot `json:"progress,omitempty"`
	}
}

// GetByID returns a task by ID with live progress when the task is executing
// on this instance.
func (h *TaskHandler) GetByID(ctx context.Context, input *GetTaskInput) (*GetTaskOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}

	task, err := h.taskService.GetByID(ctx, id)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get task", err)
	}
	if task == nil {
		return nil, huma.Error404NotFound("task not found: " + input.ID)
	}

	resp := &GetTaskOutput{}
	resp.Body.TaskResponse = TaskFromModel(task)
	if snap, ok := h.taskService.Progress(id); ok {
		resp.Body.Progress = &snap
	}
	return resp, nil
}

// GetTaskHistoryInput is the input for getting task history.
type GetTaskHistoryInput struct {
	Kind     string `query:"kind" doc:"Filter by kind" enum:"scan_dir,ingest_file,reindex" required:"false"`
	Page     int    `query:"page" doc:"Page number (1-based)" minimum:"1" default:"1" required:"false"`
	PageSize int    `query:"page_size" doc:"Items per page" minimum:"1" maximum:"500" default:"50" required:"false"`
}

// GetTaskHistoryOutput is the output for getting task history.
type GetTaskHistoryOutput struct {
	Body struct {
		History    []TaskHistoryResponse `json:"history"`
		Pagination PaginationMeta        `json:"pagination"`
	}
}

// GetHistory returns terminal task attempts, newest first.
func (h *TaskHandler) GetHistory(ctx context.Context, input *GetTaskHistoryInput) (*GetTaskHistoryOutput, error) {
	page := input.Page
	if page < 1 {
		page = 1
	}
	pageSize := input.PageSize
	if pageSize < 1 {
		pageSize = 50
	}

	var kind *models.TaskKind
	if input.Kind != "" {
		k := models.TaskKind(input.Kind)
		kind = &k
	}

	history, total, err := h.taskService.GetHistory(ctx, kind, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get task history", err)
	}

	resp := &GetTaskHistoryOutput{}
	resp.Body.History = make([]TaskHistoryResponse, 0, len(history))
	for _, rec := range history {
		resp.Body.History = append(resp.Body.History, TaskHistoryFromModel(rec))
	}
	resp.Body.Pagination = PaginationMeta{
		CurrentPage: page,
		PageSize:    pageSize,
		TotalItems:  total,
		TotalPages:  (total + int64(pageSize) - 1) / int64(pageSize),
	}
	return resp, nil
}

// GetRunnerStatusInput is the input for getting runner status.
type GetRunnerStatusInput struct{}

// GetRunnerStatusOutput is the output for getting runner status.
type GetRunnerStatusOutput struct {
	Body struct {
		Running          bool   `json:"running"`
		WorkerCount      int    `json:"worker_count"`
		WorkerID         string `json:"worker_id,omitempty"`
		PollIntervalSecs int    `json:"poll_interval_secs,omitempty"`
	}
}

// GetRunnerStatus returns the embedded task runner's status.
func (h *TaskHandler) GetRunnerStatus(ctx context.Context, input *GetRunnerStatusInput) (*GetRunnerStatusOutput, error) {
	resp := &GetRunnerStatusOutput{}
	if h.runner != nil {
		status := h.runner.GetStatus()
		resp.Body.Running = status.Running
		resp.Body.WorkerCount = status.WorkerCount
		resp.Body.WorkerID = status.WorkerID
		resp.Body.PollIntervalSecs = int(status.PollInterval.Seconds())
	}
	return resp, nil
}

// CancelTaskInput is the input for cancelling a task.
type CancelTaskInput struct {
	ID string `path:"id" doc:"Task ID (ULID)"`
}

// CancelTaskOutput is the output for cancelling a task.
type CancelTaskOutput struct {
	Body struct {
		Message string `json:"message"`
	}
}

// Cancel cancels a task.
func (h *TaskHandler) Cancel(ctx context.Context, input *CancelTaskInput) (*CancelTaskOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}

	if err := h.taskService.Cancel(ctx, id); err != nil {
		return nil, apiError(err, "failed to cancel task")
	}

	resp := &CancelTaskOutput{}
	resp.Body.Message = "cancel requested"
	return resp, nil
}

// CancelAllTasksInput is the input for cancelling all tasks.
type CancelAllTasksInput struct {
	Body struct {
		CancelRunning bool `json:"cancel_running,omitempty" doc:"Also flag running tasks for cancellation"`
	}
}

// CancelAllTasksOutput is the output for cancelling all tasks.
type CancelAllTasksOutput struct {
	Body struct {
		Cancelled int `json:"cancelled"`
	}
}

// CancelAll cancels every pending task.
func (h *TaskHandler) CancelAll(ctx context.Context, input *CancelAllTasksInput) (*CancelAllTasksOutput, error) {
	cancelled, err := h.taskService.CancelAll(ctx, input.Body.CancelRunning)
	if err != nil {
		return nil, apiError(err, "failed to cancel tasks")
	}

	resp := &CancelAllTasksOutput{}
	resp.Body.Cancelled = cancelled
	return resp, nil
}

// SetTaskPriorityInput is the input for changing a task's priority.
type SetTaskPriorityInput struct {
	ID   string `path:"id" doc:"Task ID (ULID)"`
	Body struct {
		Priority int `json:"priority" minimum:"1" maximum:"9" doc:"New priority; smaller values run sooner"`
	}
}

// SetTaskPriorityOutput is the output for changing a task's priority.
type SetTaskPriorityOutput struct {
	Body TaskResponse
}

// SetPriority overrides a pending task's priority.
func (h *TaskHandler) SetPriority(ctx context.Context, input *SetTaskPriorityInput) (*SetTaskPriorityOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}

	task, err := h.taskService.SetPriority(ctx, id, input.Body.Priority)
	if err != nil {
		return nil, apiError(err, "failed to set task priority")
	}

	return &SetTaskPriorityOutput{Body: TaskFromModel(task)}, nil
}

// RetryTaskInput is the input for retrying a task.
type RetryTaskInput struct {
	ID string `path:"id" doc:"Task ID (ULID)"`
}

// RetryTaskOutput is the output for retrying a task.
type RetryTaskOutput struct {
	Body TaskResponse
}

// Retry puts a failed or cancelled task back into the queue.
func (h *TaskHandler) Retry(ctx context.Context, input *RetryTaskInput) (*RetryTaskOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}

	task, err := h.taskService.Retry(ctx, id)
	if err != nil {
		return nil, apiError(err, "failed to retry task")
	}

	return &RetryTaskOutput{Body: TaskFromModel(task)}, nil
}
