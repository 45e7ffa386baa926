// Package producer provides the HTTP client for the remote media producer
// that receives the RTP stream and relays queue updates to listeners.
package producer

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/chanson/internal/app/notification"
	"github.com/osa030/chanson/internal/domain/stream"
)

// ErrGatewayFailure is returned when the producer cannot be reached or
// answers with a non-2xx status.
var ErrGatewayFailure = errors.New("producer gateway failure")

// maxErrorBody limits how much of an error response is kept in the error.
const maxErrorBody = 512

// Config represents producer client configuration.
type Config struct {
	BaseURL string
	RTPHost string        // host the stream process sends RTP to
	Timeout time.Duration // per-request timeout
}

// Client is a Producer Gateway client.
type Client struct {
	baseURL    string
	rtpHost    string
	httpClient *http.Client
}

// startResponse is the body returned by POST /startProducer.
type startResponse struct {
	RTPPort  int `json:"rtpPort"`
	RTCPPort int `json:"rtcpPort"`
}

// New creates a new producer client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("producer base URL is required")
	}
	if cfg.RTPHost == "" {
		return nil, errors.New("producer RTP host is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		rtpHost:    cfg.RTPHost,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// StartProduction asks the producer to open a stream and returns where to send it.
func (c *Client) StartProduction(ctx context.Context) (stream.Endpoint, error) {
	body, err := c.do(ctx, http.MethodPost, "/startProducer", nil)
	if err != nil {
		return stream.Endpoint{}, err
	}

	var resp startResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return stream.Endpoint{}, errors.Mark(errors.Wrap(err, "failed to parse startProducer response"), ErrGatewayFailure)
	}

	endpoint := stream.Endpoint{
		Host:     c.rtpHost,
		RTPPort:  resp.RTPPort,
		RTCPPort: resp.RTCPPort,
	}
	if !endpoint.Valid() {
		return stream.Endpoint{}, errors.Wrapf(ErrGatewayFailure, "invalid ports from producer: rtp=%d, rtcp=%d", resp.RTPPort, resp.RTCPPort)
	}

	zlog.Debug().Msgf("producer started: rtp_port=%d, rtcp_port=%d", endpoint.RTPPort, endpoint.RTCPPort)
	return endpoint, nil
}

// StopProduction asks the producer to close the current stream.
func (c *Client) StopProduction(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/stopProducer", nil)
	return err
}

// UpdateQueue pushes the current queue to the producer. It implements notification.Sink.
func (c *Client) UpdateQueue(ctx context.Context, items []notification.Item) error {
	if items == nil {
		items = []notification.Item{}
	}
	payload, err := json.Marshal(items)
	if err != nil {
		return errors.Wrap(err, "failed to encode queue")
	}
	_, err = c.do(ctx, http.MethodPost, "/updateQueue", payload)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "failed to send request: %s %s", method, path), ErrGatewayFailure)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "failed to read response body"), ErrGatewayFailure)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(body))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return nil, errors.Wrapf(ErrGatewayFailure, "%s %s returned status %d: %s", method, path, resp.StatusCode, msg)
	}

	return body, nil
}
