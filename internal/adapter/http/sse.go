package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bnema/vidaudio/internal/domain"
	"github.com/bnema/vidaudio/internal/service"
)

const keepAliveInterval = 15 * time.Second

type SSEHandler struct {
	eventBus  *service.EventBus
	svc       ConversionService
	keepAlive time.Duration
}

func NewSSEHandler(eventBus *service.EventBus, svc ConversionService) *SSEHandler {
	return &SSEHandler{
		eventBus:  eventBus,
		svc:       svc,
		keepAlive: keepAliveInterval,
	}
}

// sseWrite writes an SSE event, handling multi-line data correctly.
func sseWrite(w http.ResponseWriter, eventName string, data string) {
	_, _ = fmt.Fprintf(w, "event: %s\n", eventName)
	for _, line := range strings.Split(data, "\n") {
		_, _ = fmt.Fprintf(w, "data: %s\n", line)
	}
	_, _ = fmt.Fprint(w, "\n")
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func sendKeepAlive(w http.ResponseWriter) {
	_, _ = fmt.Fprint(w, ": keep-alive\n\n")
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func (h *SSEHandler) sendState(w http.ResponseWriter, job *domain.Job) error {
	payload := jobResponse{Job: job}
	if job.State == domain.JobStateDone {
		payload.DownloadURL = h.svc.DownloadURL(job.OutputName)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	sseWrite(w, "state", string(data))
	return nil
}

// Events streams the job's state on every transition and closes the stream
// once the job reaches a terminal state.
func (h *SSEHandler) Events() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")

		// Subscribe before the first lookup so no transition is missed.
		ch := h.eventBus.Subscribe(id)
		defer h.eventBus.Unsubscribe(id, ch)

		job, err := h.svc.Job(id)
		if err != nil {
			status := http.StatusNotFound
			if errors.Is(err, domain.ErrExpired) {
				status = http.StatusGone
			}
			http.Error(w, http.StatusText(status), status)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		if err := h.sendState(w, job); err != nil || job.State.Terminal() {
			return
		}

		ctx := r.Context()
		keepAlive := time.NewTicker(h.keepAlive)
		defer keepAlive.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-keepAlive.C:
				sendKeepAlive(w)
			case event, ok := <-ch:
				if !ok {
					return
				}
				job, err := h.svc.Job(id)
				if err != nil {
					return
				}
				if err := h.sendState(w, job); err != nil {
					return
				}
				if event.State.Terminal() || job.State.Terminal() {
					return
				}
			}
		}
	}
}
