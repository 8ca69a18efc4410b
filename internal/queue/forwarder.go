package queue

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"tasklane/internal/domain"
)

const defaultForwardTimeout = 5 * time.Second

// Forwarder delivers outbound jobs to an HTTP endpoint, one POST per job.
type Forwarder struct {
	Queue   Queue
	Queues  []string
	URL     string
	Secret  string
	Batch   int
	Timeout time.Duration
	Client  *http.Client
}

// Dispatch runs one delivery pass over every outbound queue.
func (f *Forwarder) Dispatch(ctx context.Context) {
	if strings.TrimSpace(f.URL) == "" {
		return
	}
	for _, name := range f.Queues {
		n, err := f.Queue.Process(ctx, name, f.batch(), f.post)
		if err != nil {
			f.Queue.log().Error("forward pass failed", zap.String("queue", name), zap.Error(err))
			continue
		}
		if n > 0 {
			f.Queue.log().Debug("forwarded jobs", zap.String("queue", name), zap.Int("count", n))
		}
	}
}

func (f *Forwarder) batch() int {
	if f.Batch <= 0 {
		return 50
	}
	return f.Batch
}

func (f *Forwarder) client() *http.Client {
	if f.Client != nil {
		return f.Client
	}
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = defaultForwardTimeout
	}
	f.Client = &http.Client{Timeout: timeout}
	return f.Client
}

func (f *Forwarder) post(ctx context.Context, job domain.Job) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.URL, bytes.NewReader([]byte(job.Payload)))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tasklane-Queue", job.Queue)
	req.Header.Set("X-Tasklane-Delivery", job.ID)
	req.Header.Set("X-Tasklane-Attempt", fmt.Sprintf("%d", job.Attempts))
	if strings.TrimSpace(f.Secret) != "" {
		req.Header.Set("X-Tasklane-Secret", f.Secret)
	}
	res, err := f.client().Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		err := fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
		if res.StatusCode >= 400 && res.StatusCode < 500 && res.StatusCode != http.StatusTooManyRequests {
			return fmt.Errorf("%w: %v", ErrPermanent, err)
		}
		return err
	}
	return nil
}
