package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tigerroll/importd/pkg/batch/core/application/usecase"
	model "github.com/tigerroll/importd/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/importd/pkg/batch/core/domain/repository"
	"github.com/tigerroll/importd/pkg/batch/engine/queue"
)

// HeaderUserID carries the caller's user id, set by the upstream gateway.
const HeaderUserID = "X-User-ID"

// HealthChecker reports queue depth. A failing call means the database is unreachable.
type HealthChecker interface {
	Stats(ctx context.Context) (queue.Stats, error)
}

// JobHandler serves the job submission, query and control routes.
type JobHandler struct {
	launcher usecase.JobLauncher
	operator usecase.JobOperator
	explorer usecase.JobExplorer
	health   HealthChecker
	watcher  *Watcher
}

// NewJobHandler creates a JobHandler.
func NewJobHandler(launcher usecase.JobLauncher, operator usecase.JobOperator, explorer usecase.JobExplorer, health HealthChecker, watcher *Watcher) *JobHandler {
	return &JobHandler{launcher: launcher, operator: operator, explorer: explorer, health: health, watcher: watcher}
}

type startResponse struct {
	JobID  string       `json:"jobId"`
	Status model.Status `json:"status"`
}

type previewResponse struct {
	Headers          []string   `json:"headers"`
	Columns          any        `json:"columns"`
	PreviewRows      [][]string `json:"previewRows"`
	TotalRows        int        `json:"totalRows"`
	OriginalFileName string     `json:"originalFileName"`
}

type reportRequest struct {
	ReportType string            `json:"reportType"`
	Format     string            `json:"format"`
	Filters    map[string]string `json:"filters"`
}

type statusRequest struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

// StatusView is the compact job view of the status route.
type StatusView struct {
	JobID       string             `json:"jobId"`
	Type        model.JobType      `json:"type"`
	Status      model.Status       `json:"status"`
	Progress    model.Progress     `json:"progress"`
	Percent     float64            `json:"percent"`
	Results     model.Results      `json:"results"`
	ErrorLog    []model.ErrorEntry `json:"errorLog"`
	CompletedAt *time.Time         `json:"completedAt"`
	CreatedAt   time.Time          `json:"createdAt"`
}

// NewStatusView builds the compact view of job.
func NewStatusView(job *model.Job) StatusView {
	return StatusView{
		JobID:       job.ID,
		Type:        job.Type,
		Status:      job.Status,
		Progress:    job.Progress,
		Percent:     job.Progress.Percent(),
		Results:     job.Results,
		ErrorLog:    job.ErrorLog,
		CompletedAt: job.CompletedAt,
		CreatedAt:   job.CreatedAt,
	}
}

func userID(c echo.Context) *string {
	id := strings.TrimSpace(c.Request().Header.Get(HeaderUserID))
	if id == "" {
		return nil
	}
	return &id
}

// StartImport handles POST /jobs/bulk-import/start.
func (h *JobHandler) StartImport(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return fail(c, http.StatusBadRequest, CodeInvalidRequest, "No file uploaded")
	}
	raw := c.FormValue("mapping")
	if raw == "" {
		return fail(c, http.StatusBadRequest, CodeInvalidRequest, "Column mapping is required")
	}
	var mapping model.ColumnMapping
	if err := json.Unmarshal([]byte(raw), &mapping); err != nil {
		return fail(c, http.StatusBadRequest, CodeInvalidRequest, "Invalid mapping JSON")
	}

	f, err := fh.Open()
	if err != nil {
		return fail(c, http.StatusBadRequest, CodeInvalidRequest, "Uploaded file is unreadable")
	}
	defer f.Close()

	job, err := h.launcher.StartImport(c.Request().Context(), usecase.ImportRequest{
		FileName:     fh.Filename,
		ContentType:  fh.Header.Get(echo.HeaderContentType),
		File:         f,
		Mapping:      mapping,
		DefaultBrand: strings.TrimSpace(c.FormValue("defaultBrand")),
		UserID:       userID(c),
	})
	if err != nil {
		return failWith(c, err)
	}
	return ok(c, http.StatusAccepted, "Bulk import job queued", startResponse{JobID: job.ID, Status: job.Status})
}

// Preview handles POST /jobs/bulk-import/preview.
func (h *JobHandler) Preview(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return fail(c, http.StatusBadRequest, CodeInvalidRequest, "No file uploaded")
	}
	f, err := fh.Open()
	if err != nil {
		return fail(c, http.StatusBadRequest, CodeInvalidRequest, "Uploaded file is unreadable")
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return fail(c, http.StatusBadRequest, CodeInvalidRequest, "Uploaded file is unreadable")
	}

	preview, err := h.launcher.Preview(c.Request().Context(), fh.Filename, data)
	if err != nil {
		return failWith(c, err)
	}
	return ok(c, http.StatusOK, "", previewResponse{
		Headers:          preview.Headers,
		Columns:          preview.Columns,
		PreviewRows:      preview.PreviewRows,
		TotalRows:        preview.TotalRows,
		OriginalFileName: fh.Filename,
	})
}

// GenerateReport handles POST /jobs/reports/generate.
func (h *JobHandler) GenerateReport(c echo.Context) error {
	var req reportRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, CodeInvalidRequest, "Invalid request body")
	}
	if req.ReportType == "" {
		return fail(c, http.StatusBadRequest, CodeInvalidRequest, "Report type required")
	}
	job, err := h.launcher.StartReport(c.Request().Context(), usecase.ReportRequest{
		ReportType: model.ReportType(req.ReportType),
		Format:     model.ReportFormat(strings.ToLower(req.Format)),
		Filters:    req.Filters,
		UserID:     userID(c),
	})
	if err != nil {
		return failWith(c, err)
	}
	return ok(c, http.StatusAccepted, "Report generation job queued", startResponse{JobID: job.ID, Status: job.Status})
}

func queryInt(c echo.Context, name string, fallback int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%s must be a positive integer", name)
	}
	return n, nil
}

// List handles GET /jobs.
func (h *JobHandler) List(c echo.Context) error {
	page, err := queryInt(c, "page", 1)
	if err != nil {
		return fail(c, http.StatusBadRequest, CodeInvalidRequest, err.Error())
	}
	limit, err := queryInt(c, "limit", 20)
	if err != nil {
		return fail(c, http.StatusBadRequest, CodeInvalidRequest, err.Error())
	}
	if limit > usecase.MaxPageSize {
		limit = usecase.MaxPageSize
	}
	order := repository.SortDesc
	if strings.EqualFold(c.QueryParam("sortOrder"), "asc") {
		order = repository.SortAsc
	}

	jobs, total, err := h.explorer.List(c.Request().Context(), repository.ListQuery{
		Page:      page,
		Limit:     limit,
		Status:    model.Status(c.QueryParam("status")),
		Type:      model.JobType(c.QueryParam("type")),
		UserID:    c.QueryParam("userId"),
		SortBy:    c.QueryParam("sortBy"),
		SortOrder: order,
	})
	if err != nil {
		return failWith(c, err)
	}
	return c.JSON(http.StatusOK, Envelope{
		Success: true,
		Data:    jobs,
		Pagination: &Pagination{
			Total:      total,
			Page:       page,
			Limit:      limit,
			TotalPages: (total + int64(limit) - 1) / int64(limit),
		},
	})
}

// Get handles GET /jobs/:jobId.
func (h *JobHandler) Get(c echo.Context) error {
	job, err := h.explorer.Get(c.Request().Context(), c.Param("jobId"))
	if err != nil {
		return failWith(c, err)
	}
	return ok(c, http.StatusOK, "", job)
}

// Status handles GET /jobs/:jobId/status.
func (h *JobHandler) Status(c echo.Context) error {
	job, err := h.explorer.Get(c.Request().Context(), c.Param("jobId"))
	if err != nil {
		return failWith(c, err)
	}
	return ok(c, http.StatusOK, "", NewStatusView(job))
}

// Cancel handles POST /jobs/:jobId/cancel.
func (h *JobHandler) Cancel(c echo.Context) error {
	job, err := h.operator.Cancel(c.Request().Context(), c.Param("jobId"))
	if err != nil {
		if job != nil {
			return fail(c, http.StatusBadRequest, CodeInvalidTransition, fmt.Sprintf("Cannot cancel job with status: %s", job.Status))
		}
		return failWith(c, err)
	}
	return ok(c, http.StatusOK, "Job cancelled successfully", NewStatusView(job))
}

// Delete handles DELETE /jobs/:jobId.
func (h *JobHandler) Delete(c echo.Context) error {
	job, err := h.operator.Delete(c.Request().Context(), c.Param("jobId"))
	if err != nil {
		if job != nil {
			return fail(c, http.StatusBadRequest, CodeInvalidTransition, fmt.Sprintf("Cannot delete job with status: %s", job.Status))
		}
		return failWith(c, err)
	}
	return ok(c, http.StatusOK, "Job deleted successfully", map[string]string{"jobId": job.ID})
}

// OverrideStatus handles PATCH /jobs/:jobId/status.
func (h *JobHandler) OverrideStatus(c echo.Context) error {
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, CodeInvalidRequest, "Invalid request body")
	}
	job, err := h.operator.OverrideStatus(c.Request().Context(), c.Param("jobId"), req.Status, strings.TrimSpace(req.Note))
	if err != nil {
		return failWith(c, err)
	}
	return ok(c, http.StatusOK, fmt.Sprintf("Job status updated to %s", job.Status), NewStatusView(job))
}

// SuccessfulEntries handles GET /jobs/:jobId/successful-entries.
func (h *JobHandler) SuccessfulEntries(c echo.Context) error {
	a, err := h.explorer.SuccessfulEntries(c.Request().Context(), c.Param("jobId"))
	if err != nil {
		return failWith(c, err)
	}
	return attachment(c, a)
}

// Report handles GET /jobs/:jobId/report.
func (h *JobHandler) Report(c echo.Context) error {
	a, err := h.explorer.Report(c.Request().Context(), c.Param("jobId"))
	if err != nil {
		return failWith(c, err)
	}
	return attachment(c, a)
}

func attachment(c echo.Context, a *usecase.Artifact) error {
	defer a.Body.Close()
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", a.FileName))
	return c.Stream(http.StatusOK, a.ContentType, a.Body)
}

// Health handles GET /healthz.
func (h *JobHandler) Health(c echo.Context) error {
	stats, err := h.health.Stats(c.Request().Context())
	if err != nil {
		return fail(c, http.StatusServiceUnavailable, CodeInternal, "database unavailable")
	}
	return ok(c, http.StatusOK, "ok", map[string]any{"queue": stats})
}

// Watch handles GET /jobs/:jobId/watch.
func (h *JobHandler) Watch(c echo.Context) error {
	job, err := h.explorer.Get(c.Request().Context(), c.Param("jobId"))
	if err != nil {
		return failWith(c, err)
	}
	return h.watcher.Serve(c, job)
}
