package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/riverqueue/river"
)

type DeliverArgs struct {
	Event      string          `json:"event"`
	QuestionID int64           `json:"question_id"`
	Payload    json.RawMessage `json:"payload"`
}

func (DeliverArgs) Kind() string { return "notify_deliver" }

// InsertOpts keeps delivery retries bounded; a stale notification is worth little.
func (DeliverArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: 5, Queue: QueueNotify}
}

// QueueNotify is the queue delivery jobs run on.
const QueueNotify = "notify"

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// DeliverWorker POSTs events to the configured webhook.
type DeliverWorker struct {
	river.WorkerDefaults[DeliverArgs]
	webhookURL string
	httpClient *http.Client
	log        *slog.Logger
}

func NewDeliverWorker(webhookURL string, log *slog.Logger) *DeliverWorker {
	if log == nil {
		log = slog.Default()
	}
	return &DeliverWorker{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        log,
	}
}

func (w *DeliverWorker) Work(ctx context.Context, job *river.Job[DeliverArgs]) error {
	args := job.Args
	if w.webhookURL == "" {
		w.log.Info("notification", "event", args.Event, "question_id", args.QuestionID)
		return nil
	}

	body, err := json.Marshal(envelope{Event: args.Event, Data: args.Payload})
	if err != nil {
		return river.JobCancel(fmt.Errorf("encode envelope: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.webhookURL, bytes.NewReader(body))
	if err != nil {
		return river.JobCancel(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", args.Event)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("network error calling notification webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	err = fmt.Errorf("notification webhook returned status %d", resp.StatusCode)
	if !retryableStatus(resp.StatusCode) {
		w.log.Warn("notification rejected", "event", args.Event, "question_id", args.QuestionID, "error", err)
		return river.JobCancel(err)
	}
	return err
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500
}
