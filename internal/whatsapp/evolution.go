package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/odontosorriso/scheduling-agent/pkg/logging"
)

var evolutionTracer = otel.Tracer("odontosorriso.internal.whatsapp.evolution")

// EvolutionClient talks to a self-hosted Evolution API instance.
type EvolutionClient struct {
	baseURL    string
	apiKey     string
	instance   string
	httpClient *http.Client
	logger     *logging.Logger
}

func NewEvolutionClient(baseURL, apiKey, instance string, logger *logging.Logger) *EvolutionClient {
	if logger == nil {
		logger = logging.Default()
	}
	return &EvolutionClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		instance: instance,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

type sendTextRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

type sendTextResponse struct {
	Key struct {
		ID string `json:"id"`
	} `json:"key"`
}

// SendText posts a text message. Transient failures are retried up to three
// times; 4xx responses other than 429 are not.
func (c *EvolutionClient) SendText(ctx context.Context, to, text string) error {
	if strings.TrimSpace(to) == "" {
		return errors.New("whatsapp: recipient required")
	}
	if strings.TrimSpace(text) == "" {
		return errors.New("whatsapp: text required")
	}

	ctx, span := evolutionTracer.Start(ctx, "whatsapp.evolution.send")
	defer span.End()
	span.SetAttributes(attribute.Int("whatsapp.text_length", len(text)))

	payload, err := json.Marshal(sendTextRequest{Number: strings.TrimPrefix(to, "+"), Text: text})
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("%s/message/sendText/%s", c.baseURL, c.instance)
	log := c.logger.WithPhone(to)
	log.Info("evolution send message", "text_length", len(text))

	var lastErr error
retry:
	for attempt := 1; attempt <= 3; attempt++ {
		var status int
		var body []byte
		status, body, lastErr = c.do(ctx, http.MethodPost, endpoint, payload)
		if lastErr == nil && status >= 200 && status < 300 {
			var parsed sendTextResponse
			_ = json.Unmarshal(body, &parsed)
			log.Info("evolution message sent", "provider_message_id", parsed.Key.ID)
			return nil
		}
		if lastErr == nil {
			lastErr = fmt.Errorf("whatsapp: evolution send failed: status %d: %s", status, strings.TrimSpace(string(body)))
			if status >= 400 && status < 500 && status != http.StatusTooManyRequests {
				break retry
			}
		}
		if attempt < 3 {
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				break retry
			case <-time.After(time.Duration(200+rand.Intn(300)) * time.Millisecond):
			}
		}
	}

	span.RecordError(lastErr)
	log.Error("evolution send error", "error", lastErr)
	return lastErr
}

// ConnectionState reports the instance connection state, e.g. "open".
func (c *EvolutionClient) ConnectionState(ctx context.Context) (string, error) {
	endpoint := fmt.Sprintf("%s/instance/connectionState/%s", c.baseURL, c.instance)
	status, body, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		return "", fmt.Errorf("whatsapp: connection state: status %d", status)
	}
	var parsed struct {
		Instance struct {
			State string `json:"state"`
		} `json:"instance"`
		State string `json:"state"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("whatsapp: decode connection state: %w", err)
	}
	if parsed.Instance.State != "" {
		return parsed.Instance.State, nil
	}
	return parsed.State, nil
}

func (c *EvolutionClient) do(ctx context.Context, method, endpoint string, payload []byte) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("apikey", c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	return resp.StatusCode, body, nil
}
