package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/mediasift/mediasift/internal/models"
	"github.com/mediasift/mediasift/internal/repository"
	"github.com/mediasift/mediasift/internal/service"
)

// IndexHandler handles index API endpoints: enqueueing ingestion work and
// inspecting what the catalog holds.
type IndexHandler struct {
	taskService *service.TaskService
	files       repository.FileRepository
}

// NewIndexHandler creates a new index handler.
func NewIndexHandler(taskService *service.TaskService, files repository.FileRepository) *IndexHandler {
	return &IndexHandler{
		taskService: taskService,
		files:       files,
	}
}

// Register registers the index routes with the API.
func (h *IndexHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "indexFile",
		Method:      "POST",
		Path:        "/api/v1/index/file",
		Summary:     "Index a file",
		Description: "Enqueues an ingest task for a single file and returns immediately",
		Tags:        []string{"Index"},
	}, h.IndexFile)

	huma.Register(api, huma.Operation{
		OperationID: "indexDirectory",
		Method:      "POST",
		Path:        "/api/v1/index/directory",
		Summary:     "Index a directory",
		Description: "Enqueues a scan task that walks the directory and indexes its media files",
		Tags:        []string{"Index"},
	}, h.IndexDirectory)

	huma.Register(api, huma.Operation{
		OperationID: "reindexFile",
		Method:      "POST",
		Path:        "/api/v1/index/reindex",
		Summary:     "Reindex a file",
		Description: "Enqueues a task that re-derives segments and vectors for an already-cataloged file",
		Tags:        []string{"Index"},
	}, h.Reindex)

	huma.Register(api, huma.Operation{
		OperationID: "getIndexStatus",
		Method:      "GET",
		Path:        "/api/v1/index/status",
		Summary:     "Get index status",
		Description: "Returns file, vector, and task counts",
		Tags:        []string{"Index"},
	}, h.Status)

	huma.Register(api, huma.Operation{
		OperationID: "listFiles",
		Method:      "GET",
		Path:        "/api/v1/files",
		Summary:     "List indexed files",
		Description: "Returns cataloged files with pagination",
		Tags:        []string{"Index"},
	}, h.ListFiles)
}

// IndexFileInput is the input for indexing a file.
type IndexFileInput struct {
	Body struct {
		Path     string `json:"path" minLength:"1" doc:"Absolute path of the file to index"`
		Priority int    `json:"priority,omitempty" minimum:"1" maximum:"9" doc:"Queue priority; zero keeps the file-type default"`
	}
}

// EnqueueOutput is the output for enqueue-style index endpoints.
type EnqueueOutput struct {
	Body struct {
		TaskID models.ULID       `json:"task_id"`
		Status models.TaskStatus `json:"status"`
	}
}

// IndexFile enqueues an ingest task for one file.
func (h *IndexHandler) IndexFile(ctx context.Context, input *IndexFileInput) (*EnqueueOutput, error) {
	task, err := h.taskService.Enqueue(ctx, models.TaskKindIngestFile, input.Body.Path, service.EnqueueOptions{
		Priority: input.Body.Priority,
	})
	if err != nil {
		return nil, apiError(err, "failed to enqueue file task")
	}

	resp := &EnqueueOutput{}
	resp.Body.TaskID = task.ID
	resp.Body.Status = task.Status
	return resp, nil
}

// IndexDirectoryInput is the input for indexing a directory.
type IndexDirectoryInput struct {
	Body struct {
		Path      string `json:"path" minLength:"1" doc:"Absolute path of the directory to scan"`
		Recursive *bool  `json:"recursive,omitempty" doc:"Descend into subdirectories; omitted uses the configured default"`
	}
}

// IndexDirectory enqueues a directory scan task.
func (h *IndexHandler) IndexDirectory(ctx context.Context, input *IndexDirectoryInput) (*EnqueueOutput, error) {
	var params models.Extra
	if input.Body.Recursive != nil {
		params = models.Extra{"recursive": *input.Body.Recursive}
	}

	task, err := h.taskService.Enqueue(ctx, models.TaskKindScanDir, input.Body.Path, service.EnqueueOptions{
		Params: params,
	})
	if err != nil {
		return nil, apiError(err, "failed to enqueue scan task")
	}

	resp := &EnqueueOutput{}
	resp.Body.TaskID = task.ID
	resp.Body.Status = task.Status
	return resp, nil
}

// ReindexInput is the input for reindexing a file.
type ReindexInput struct {
	Body struct {
		Path string `json:"path" minLength:"1" doc:"Path of an already-cataloged file"`
	}
}

// Reindex enqueues a reindex task for a cataloged file.
func (h *IndexHandler) Reindex(ctx context.Context, input *ReindexInput) (*EnqueueOutput, error) {
	task, err := h.taskService.Enqueue(ctx, models.TaskKindReindex, input.Body.Path, service.EnqueueOptions{})
	if err != nil {
		return nil, apiError(err, "failed to enqueue reindex task")
	}

	resp := &EnqueueOutput{}
	resp.Body.TaskID = task.ID
	resp.Body.Status = task.Status
	return resp, nil
}

// IndexStatusInput is the input for getting index status.
type IndexStatusInput struct{}

// IndexStatusOutput is the output for getting index status.
type IndexStatusOutput struct {
	Body struct {
		service.IndexStatus
		CPU    CPUInfo    `json:"cpu"`
		Memory MemoryInfo `json:"memory"`
	}
}

// Status returns file, vector, and task counts plus host load.
func (h *IndexHandler) Status(ctx context.Context, input *IndexStatusInput) (*IndexStatusOutput, error) {
	status, err := h.taskService.Status(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get index status", err)
	}

	resp := &IndexStatusOutput{}
	resp.Body.IndexStatus = *status
	resp.Body.CPU = cpuInfo()
	resp.Body.Memory = memoryInfo()
	return resp, nil
}

// ListFilesInput is the input for listing files.
type ListFilesInput struct {
	Type     string `query:"type" doc:"Filter by file type" enum:"image,video,audio,text" required:"false"`
	Page     int    `query:"page" doc:"Page number (1-based)" minimum:"1" default:"1" required:"false"`
	PageSize int    `query:"page_size" doc:"Items per page" minimum:"1" maximum:"500" default:"50" required:"false"`
}

// ListFilesOutput is the output for listing files.
type ListFilesOutput struct {
	Body struct {
		Files      []FileResponse `json:"files"`
		Pagination PaginationMeta `json:"pagination"`
	}
}

// ListFiles returns cataloged files.
func (h *IndexHandler) ListFiles(ctx context.Context, input *ListFilesInput) (*ListFilesOutput, error) {
	page := input.Page
	if page < 1 {
		page = 1
	}
	pageSize := input.PageSize
	if pageSize < 1 {
		pageSize = 50
	}

	var fileType *models.FileType
	if input.Type != "" {
		t := models.FileType(input.Type)
		fileType = &t
	}

	files, total, err := h.files.List(ctx, fileType, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list files", err)
	}

	resp := &ListFilesOutput{}
	resp.Body.Files = make([]FileResponse, 0, len(files))
	for _, f := range files {
		resp.Body.Files = append(resp.Body.Files, FileFromModel(f))
	}
	resp.Body.Pagination = PaginationMeta{
		CurrentPage: page,
		PageSize:    pageSize,
		TotalItems:  total,
		TotalPages:  (total + int64(pageSize) - 1) / int64(pageSize),
	}
	return resp, nil
}
