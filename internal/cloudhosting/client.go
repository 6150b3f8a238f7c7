// Package cloudhosting is a client for the cloud hosting instance API.
package cloudhosting

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/decom/internal/signer"
)

// DefaultEndpoint is the only endpoint the signing scheme is defined for.
const DefaultEndpoint = "https://api.cloudhosting.biglobe.ne.jp/api/"

// API actions
const (
	ActionDescribeInstances  = "DescribeInstances"
	ActionStopInstances      = "StopInstances"
	ActionTerminateInstances = "TerminateInstances"
)

// Query parameter names
const (
	ParamAction           = "Action"
	ParamAccessKeyID      = "AccessKeyId"
	ParamInstanceID       = "InstanceId.1"
	ParamSignatureMethod  = "SignatureMethod"
	ParamSignatureVersion = "SignatureVersion"
	ParamVersion          = "Version"
)

// maxBodyBytes bounds how much of a response is read.
const maxBodyBytes = 10 << 20

// Recorder receives per-call measurements. Implemented by internal/metrics.
type Recorder interface {
	RecordAPICall(ctx context.Context, action, status string, d time.Duration)
}

// Config holds client settings.
type Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Timeout         time.Duration
	HTTPClient      *http.Client
	Recorder        Recorder
}

// Client issues signed GET requests. Safe for concurrent use.
type Client struct {
	endpoint    *url.URL
	accessKeyID string
	signer      *signer.Signer
	http        *http.Client
	recorder    Recorder
	tracer      trace.Tracer
}

// Response is the raw outcome of a call that reached the provider.
type Response struct {
	Action     string
	StatusCode int
	Body       []byte
}

// New creates a client for cfg.Endpoint (DefaultEndpoint when empty).
func New(cfg Config) (*Client, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("endpoint %q has no host", endpoint)
	}
	path := u.Path
	if path == "" {
		path = "/"
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	return &Client{
		endpoint:    u,
		accessKeyID: cfg.AccessKeyID,
		signer:      signer.New(u.Host, path, cfg.SecretAccessKey),
		http:        httpClient,
		recorder:    cfg.Recorder,
		tracer:      otel.Tracer("github.com/yairfalse/decom/internal/cloudhosting"),
	}, nil
}

// params builds a fresh parameter set for one call.
func (c *Client) params(action, instanceID string) map[string]string {
	p := map[string]string{
		ParamSignatureMethod:  "HmacSHA1",
		ParamSignatureVersion: "2",
		ParamVersion:          "1.0",
		ParamAccessKeyID:      c.accessKeyID,
		ParamAction:           action,
	}
	if instanceID != "" {
		p[ParamInstanceID] = instanceID
	}
	return p
}

// Call signs and sends one request. Only failures to obtain a response are
// returned as errors; HTTP status and body are left to the caller.
func (c *Client) Call(ctx context.Context, action, instanceID string) (*Response, error) {
	ctx, span := c.tracer.Start(ctx, "cloudhosting."+action,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("cloudhosting.action", action),
			attribute.String("cloudhosting.instance_id", instanceID),
		))
	defer span.End()

	start := time.Now()
	resp, err := c.do(ctx, action, instanceID)

	status := "error"
	if resp != nil {
		status = strconv.Itoa(resp.StatusCode)
		span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	}
	if c.recorder != nil {
		c.recorder.RecordAPICall(ctx, action, status, time.Since(start))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return resp, err
}

func (c *Client) do(ctx context.Context, action, instanceID string) (*Response, error) {
	p := c.params(action, instanceID)
	sig := c.signer.Sign(p)

	q := url.Values{}
	for k, v := range p {
		q.Set(k, v)
	}
	q.Set(signer.SignatureKey, sig)

	u := *c.endpoint
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &TransportError{Action: action, Err: err}
	}

	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Action: action, Err: err}
	}
	defer func() { _ = httpResp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	if err != nil {
		return nil, &TransportError{Action: action, Err: fmt.Errorf("read body: %w", err)}
	}

	return &Response{Action: action, StatusCode: httpResp.StatusCode, Body: body}, nil
}

func providerError(resp *Response, instanceID string) *ProviderError {
	code, msg, ok := parseProviderError(resp.Body)
	if !ok {
		return nil
	}
	return &ProviderError{
		Action:     resp.Action,
		Code:       code,
		Message:    msg,
		InstanceID: instanceID,
		StatusCode: resp.StatusCode,
	}
}

// Describe lists instances, scoped to instanceID when it is not empty.
func (c *Client) Describe(ctx context.Context, instanceID string) ([]Instance, error) {
	resp, err := c.Call(ctx, ActionDescribeInstances, instanceID)
	if err != nil {
		return nil, err
	}
	if pe := providerError(resp, instanceID); pe != nil {
		return nil, pe
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &TransportError{Action: resp.Action, StatusCode: resp.StatusCode}
	}

	instances, err := parseInstances(resp.Body)
	if err != nil {
		return nil, &ParseError{Action: resp.Action, Err: err}
	}
	return instances, nil
}

// Stop requests that instanceID be stopped.
func (c *Client) Stop(ctx context.Context, instanceID string) (bool, error) {
	return c.mutate(ctx, ActionStopInstances, instanceID)
}

// Terminate requests deletion of instanceID. A true result means the request
// was accepted, not that the instance is gone.
func (c *Client) Terminate(ctx context.Context, instanceID string) (bool, error) {
	return c.mutate(ctx, ActionTerminateInstances, instanceID)
}

// mutate returns accepted == (status 200). A rejection carrying an error
// document is returned as a *ProviderError alongside false.
func (c *Client) mutate(ctx context.Context, action, instanceID string) (bool, error) {
	resp, err := c.Call(ctx, action, instanceID)
	if err != nil {
		return false, err
	}
	if resp.StatusCode == http.StatusOK {
		return true, nil
	}
	if pe := providerError(resp, instanceID); pe != nil {
		return false, pe
	}
	return false, nil
}
