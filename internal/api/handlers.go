package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/maltedev/kleinanzeigen-scraper/internal/config"
	"github.com/maltedev/kleinanzeigen-scraper/internal/export"
	"github.com/maltedev/kleinanzeigen-scraper/internal/jobs"
	"github.com/maltedev/kleinanzeigen-scraper/internal/models"
)

// RunService is the part of jobs.Manager the handlers need.
type RunService interface {
	CreateRun(sellers []string, delay time.Duration) (*jobs.Run, error)
	GetRun(id string) (*jobs.Run, error)
	ListRuns() []*jobs.Run
	Result(id string) (*models.RunResult, error)
}

type Handlers struct {
	runs         RunService
	defaultDelay time.Duration
	logger       *zap.Logger
}

func NewHandlers(runs RunService, defaultDelay time.Duration, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		runs:         runs,
		defaultDelay: defaultDelay,
		logger:       logger.With(zap.String("component", "api")),
	}
}

// CreateRunRequest represents a new scraping run request
type CreateRunRequest struct {
	Sellers      []string `json:"sellers"`
	DelaySeconds *float64 `json:"delay_seconds,omitempty"`
}

// CreateRunResponse represents the run creation response
type CreateRunResponse struct {
	RunID   string      `json:"run_id"`
	Status  jobs.Status `json:"status"`
	Message string      `json:"message"`
}

// CreateRun handles run creation through the JSON API
func (h *Handlers) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	delay := h.defaultDelay
	if req.DelaySeconds != nil {
		delay = secondsToDuration(*req.DelaySeconds)
	}

	run, err := h.runs.CreateRun(req.Sellers, delay)
	if err != nil {
		h.respondError(w, createStatus(err), err.Error())
		return
	}

	h.respondJSON(w, http.StatusAccepted, CreateRunResponse{
		RunID:   run.ID,
		Status:  run.Status,
		Message: "Run queued",
	})
}

// GetRun handles run status retrieval
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.runs.GetRun(chi.URLParam(r, "runID"))
	if err != nil {
		h.respondError(w, http.StatusNotFound, "run not found")
		return
	}
	h.respondJSON(w, http.StatusOK, run)
}

func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.runs.ListRuns())
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"runs":   len(h.runs.ListRuns()),
	})
}

// Form renders the seller input page.
func (h *Handlers) Form(w http.ResponseWriter, r *http.Request) {
	h.render(w, http.StatusOK, "form.html", formData{
		Delay:    h.defaultDelay.Seconds(),
		MaxDelay: config.MaxDelay.Seconds(),
		Runs:     h.runs.ListRuns(),
	})
}

// SubmitForm starts a run from the HTML form and redirects to its page.
func (h *Handlers) SubmitForm(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid form")
		return
	}

	data := formData{
		Sellers:  r.PostFormValue("sellers"),
		Delay:    h.defaultDelay.Seconds(),
		MaxDelay: config.MaxDelay.Seconds(),
	}

	if raw := strings.TrimSpace(r.PostFormValue("delay")); raw != "" {
		secs, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", "."), 64)
		if err != nil {
			data.Error = "Ungültige Verzögerung."
			data.Runs = h.runs.ListRuns()
			h.render(w, http.StatusBadRequest, "form.html", data)
			return
		}
		data.Delay = secs
	}

	run, err := h.runs.CreateRun(strings.Split(data.Sellers, "\n"), secondsToDuration(data.Delay))
	if err != nil {
		data.Error = formError(err)
		data.Runs = h.runs.ListRuns()
		h.render(w, createStatus(err), "form.html", data)
		return
	}

	http.Redirect(w, r, "/runs/"+run.ID, http.StatusSeeOther)
}

// RunPage shows progress, messages and download links for one run.
func (h *Handlers) RunPage(w http.ResponseWriter, r *http.Request) {
	run, err := h.runs.GetRun(chi.URLParam(r, "runID"))
	if err != nil {
		http.NotFound(w, r)
		return
	}

	data := runData{Run: run}
	if result, err := h.runs.Result(run.ID); err == nil {
		data.Result = result
		data.Preview = template.HTML(export.PreviewHTML(result.Listings, previewLimit))
	}
	h.render(w, http.StatusOK, "run.html", data)
}

func (h *Handlers) DownloadCSV(w http.ResponseWriter, r *http.Request) {
	h.download(w, r, export.CSVFileName, "text/csv; charset=utf-8", func(w io.Writer, res *models.RunResult) error {
		return export.WriteCSV(w, res.Listings)
	})
}

func (h *Handlers) DownloadXLSX(w http.ResponseWriter, r *http.Request) {
	h.download(w, r, export.XLSXFileName, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", func(w io.Writer, res *models.RunResult) error {
		return export.WriteXLSX(w, res.Listings)
	})
}

func (h *Handlers) DownloadZIP(w http.ResponseWriter, r *http.Request) {
	h.download(w, r, export.ZIPFileName, "application/zip", func(w io.Writer, res *models.RunResult) error {
		if res.ImageCount() == 0 {
			return errNoImages
		}
		return export.WriteZIP(w, res.Images)
	})
}

var errNoImages = errors.New("run has no images")

func (h *Handlers) download(w http.ResponseWriter, r *http.Request, name, contentType string, write func(io.Writer, *models.RunResult) error) {
	id := chi.URLParam(r, "runID")
	result, err := h.runs.Result(id)
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		h.respondError(w, http.StatusNotFound, "run not found")
		return
	case errors.Is(err, jobs.ErrNotFinished):
		h.respondError(w, http.StatusConflict, "run not finished")
		return
	case err != nil:
		h.respondError(w, http.StatusInternalServerError, "failed to load result")
		return
	}

	var buf bytes.Buffer
	if err := write(&buf, result); err != nil {
		if errors.Is(err, errNoImages) {
			h.respondError(w, http.StatusNotFound, err.Error())
			return
		}
		h.logger.Error("failed to build download", zap.String("run_id", id), zap.String("file", name), zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, "failed to build file")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		h.logger.Warn("download interrupted", zap.String("run_id", id), zap.Error(err))
	}
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func createStatus(err error) int {
	switch {
	case errors.Is(err, jobs.ErrNoSellers), errors.Is(err, jobs.ErrBadDelay):
		return http.StatusBadRequest
	case errors.Is(err, jobs.ErrQueueFull):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func formError(err error) string {
	switch {
	case errors.Is(err, jobs.ErrNoSellers):
		return "Bitte mindestens eine Händler-URL eingeben."
	case errors.Is(err, jobs.ErrBadDelay):
		return fmt.Sprintf("Die Verzögerung muss zwischen 0 und %.0f Sekunden liegen.", config.MaxDelay.Seconds())
	case errors.Is(err, jobs.ErrQueueFull):
		return "Zu viele Aufträge in der Warteschlange. Bitte später erneut versuchen."
	default:
		return "Der Auftrag konnte nicht angelegt werden."
	}
}

// Helper methods
func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
