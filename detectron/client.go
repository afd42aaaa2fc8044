package detectron

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	http "github.com/valyala/fasthttp"
)

// StatusError is a non-200 reply of the framework service.
type StatusError struct {
	Path    string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: framework returned %d: %s", e.Path, e.Code, e.Message)
}

// Client talks to the framework service over HTTP.
type Client struct {
	BaseURL string
	// Timeout bounds every request; zero leaves only the context deadline.
	Timeout time.Duration
	HTTP    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Timeout: timeout,
		HTTP: &http.Client{
			MaxResponseBodySize: 256 << 20,
		},
	}
}

type configBody struct {
	Config string `json:"config"`
}

func encodeConfig(cfg *Config) (configBody, error) {
	data, err := cfg.Dump()
	if err != nil {
		return configBody{}, err
	}
	return configBody{Config: string(data)}, nil
}

func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

func (c *Client) RegisterCOCO(ctx context.Context, ds Dataset) error {
	return c.do(ctx, http.MethodPost, "/datasets", ds, nil)
}

func (c *Client) Train(ctx context.Context, cfg *Config, checkpoint string, resume bool) (*Model, error) {
	cb, err := encodeConfig(cfg)
	if err != nil {
		return nil, err
	}
	req := struct {
		configBody
		Checkpoint string `json:"checkpoint"`
		Resume     bool   `json:"resume"`
	}{cb, checkpoint, resume}

	var ret Model
	if err := c.do(ctx, http.MethodPost, "/train", req, &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

func (c *Client) Evaluate(ctx context.Context, cfg *Config, weights, dataset string) (Metrics, error) {
	cb, err := encodeConfig(cfg)
	if err != nil {
		return nil, err
	}
	req := struct {
		configBody
		Weights string `json:"weights"`
		Dataset string `json:"dataset"`
	}{cb, weights, dataset}

	var ret struct {
		Results Metrics `json:"results"`
	}
	if err := c.do(ctx, http.MethodPost, "/evaluate", req, &ret); err != nil {
		return nil, err
	}
	return ret.Results, nil
}

func (c *Client) Predict(ctx context.Context, cfg *Config, image []byte) ([]Instance, error) {
	cb, err := encodeConfig(cfg)
	if err != nil {
		return nil, err
	}
	req := struct {
		configBody
		Image []byte `json:"image"`
	}{cb, image}

	var ret struct {
		Instances []Instance `json:"instances"`
	}
	if err := c.do(ctx, http.MethodPost, "/predict", req, &ret); err != nil {
		return nil, err
	}
	return ret.Instances, nil
}

func (c *Client) deadline(ctx context.Context) (time.Time, bool) {
	d, ok := ctx.Deadline()
	if c.Timeout > 0 {
		if t := time.Now().Add(c.Timeout); !ok || t.Before(d) {
			return t, true
		}
	}
	return d, ok
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	req := http.AcquireRequest()
	defer http.ReleaseRequest(req)
	resp := http.AcquireResponse()
	defer http.ReleaseResponse(resp)

	req.SetRequestURI(c.BaseURL + path)
	req.Header.SetMethod(method)
	if in != nil {
		body, err := json.Marshal(in)
		if err != nil {
			return err
		}
		req.Header.SetContentType("application/json")
		req.SetBody(body)
	}

	var err error
	if d, ok := c.deadline(ctx); ok {
		err = c.HTTP.DoDeadline(req, resp, d)
	} else {
		err = c.HTTP.Do(req, resp)
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	if code := resp.StatusCode(); code != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(resp.Body()))
		if json.Unmarshal(resp.Body(), &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &StatusError{Path: path, Code: code, Message: msg}
	}

	if out != nil {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return fmt.Errorf("%s: decode reply: %w", path, err)
		}
	}
	return nil
}
