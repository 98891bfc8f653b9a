package api

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"

	"go.uber.org/zap"

	"github.com/maltedev/kleinanzeigen-scraper/internal/jobs"
	"github.com/maltedev/kleinanzeigen-scraper/internal/models"
)

const previewLimit = 25

//go:embed templates/*.html
var templateFS embed.FS

var pages = template.Must(template.New("").Funcs(template.FuncMap{
	"percent": func(f float64) string { return fmt.Sprintf("%.0f", f*100) },
	"statusText": func(s jobs.Status) string {
		switch s {
		case jobs.StatusPending:
			return "Wartet"
		case jobs.StatusRunning:
			return "Läuft"
		case jobs.StatusCompleted:
			return "Fertig"
		case jobs.StatusFailed:
			return "Fehlgeschlagen"
		}
		return string(s)
	},
	"recent": func(msgs []jobs.Message, n int) []jobs.Message {
		if len(msgs) > n {
			msgs = msgs[len(msgs)-n:]
		}
		out := make([]jobs.Message, len(msgs))
		for i, m := range msgs {
			out[len(msgs)-1-i] = m
		}
		return out
	},
}).ParseFS(templateFS, "templates/*.html"))

type formData struct {
	Sellers  string
	Delay    float64
	MaxDelay float64
	Error    string
	Runs     []*jobs.Run
}

type runData struct {
	Run     *jobs.Run
	Result  *models.RunResult
	Preview template.HTML
}

func (h *Handlers) render(w http.ResponseWriter, status int, name string, data any) {
	var buf bytes.Buffer
	if err := pages.ExecuteTemplate(&buf, name, data); err != nil {
		h.logger.Error("failed to render page", zap.String("template", name), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}
