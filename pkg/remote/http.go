package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
)

// Client talks JSON over HTTP to a backend store using fasthttp. Transport
// failures and 5xx responses are reported as ErrRemoteUnavailable so the
// coordinator treats them as retryable.
type Client struct {
	base    string
	timeout time.Duration
	maxBody int64
	http    *fasthttp.Client
}

// NewClient builds a client for the given base URL, e.g.
// "http://backend:9000". timeout bounds a single attempt.
func NewClient(base string, timeout time.Duration, maxBody int64) *Client {
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return &Client{
		base:    strings.TrimRight(base, "/"),
		timeout: timeout,
		maxBody: maxBody,
		http: &fasthttp.Client{
			MaxResponseBodySize: int(maxBody),
		},
	}
}

// Push implements Pusher via POST /v1/messages.
func (c *Client) Push(ctx context.Context, msg models.Message) (Ack, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return Ack{}, fmt.Errorf("marshal message: %w", err)
	}
	status, _, err := c.do(ctx, fasthttp.MethodPost, c.base+"/v1/messages", body)
	if err != nil {
		return Ack{}, err
	}
	if status != fasthttp.StatusOK && status != fasthttp.StatusCreated {
		if status >= 500 {
			return Ack{}, fmt.Errorf("%w: push status %d", ErrRemoteUnavailable, status)
		}
		return Ack{}, fmt.Errorf("push rejected: status %d", status)
	}
	return Ack{ID: msg.ID}, nil
}

// Pull implements Puller via GET /v1/threads/{id}/messages?since_ts=N.
func (c *Client) Pull(ctx context.Context, threadID string, sinceTS int64) ([]models.Message, error) {
	url := c.base + "/v1/threads/" + threadID + "/messages?since_ts=" + strconv.FormatInt(sinceTS, 10)
	status, body, err := c.do(ctx, fasthttp.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if status == fasthttp.StatusNotFound {
		// unknown thread on the backend is an empty result, not an error
		return nil, nil
	}
	if status != fasthttp.StatusOK {
		if status >= 500 {
			return nil, fmt.Errorf("%w: pull status %d", ErrRemoteUnavailable, status)
		}
		return nil, fmt.Errorf("pull rejected: status %d", status)
	}
	var msgs []models.Message
	if err := json.Unmarshal(body, &msgs); err != nil {
		return nil, fmt.Errorf("decode pull response: %w", err)
	}
	return msgs, nil
}

func (c *Client) do(ctx context.Context, method, url string, body []byte) (int, []byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.Header.SetMethod(method)
	req.SetRequestURI(url)
	if body != nil {
		req.Header.SetContentType("application/json")
		req.SetBody(body)
	}

	timeout := c.timeout
	if dl, ok := ctx.Deadline(); ok {
		if until := time.Until(dl); until < timeout || timeout == 0 {
			timeout = until
		}
	}
	if timeout <= 0 {
		return 0, nil, fmt.Errorf("%w: %v", ErrRemoteUnavailable, context.DeadlineExceeded)
	}
	if err := c.http.DoTimeout(req, resp, timeout); err != nil {
		logger.Debug("remote_request_failed", "method", method, "url", url, "error", err)
		return 0, nil, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	out := append([]byte(nil), resp.Body()...)
	return resp.StatusCode(), out, nil
}
