package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/leonardotrapani/callscribe/internal/conversation"
)

const (
	DefaultTimeout = 30 * time.Second
	maxErrorBody   = 512
)

type processRequest struct {
	ConversationText string `json:"conversation_text"`
}

type processResponse struct {
	Response string `json:"response"`
}

// HTTPDispatcher posts each batch as JSON to the processing endpoint.
type HTTPDispatcher struct {
	endpoint string
	client   *http.Client
	logger   *log.Logger
}

func NewHTTPDispatcher(endpoint string, timeout time.Duration, logger *log.Logger) *HTTPDispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = log.Default()
	}
	return &HTTPDispatcher{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.WithPrefix("dispatch"),
	}
}

func (d *HTTPDispatcher) Dispatch(ctx context.Context, batch conversation.Batch) (Result, error) {
	body, err := json.Marshal(processRequest{ConversationText: batch.Text()})
	if err != nil {
		return Result{}, &DispatchError{Err: fmt.Errorf("encode request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, &DispatchError{Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	d.logger.Debug("posting batch", "batch", batch.ID, "lines", batch.Len(), "endpoint", d.endpoint)
	resp, err := d.client.Do(req)
	if err != nil {
		return Result{}, &DispatchError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return Result{}, &DispatchError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var out processResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, &DispatchError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return Result{Response: out.Response}, nil
}
