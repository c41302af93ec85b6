// Package transport turns a templated request specification plus a runtime
// context into exactly one authenticated HTTP exchange. Transient network
// failures are retried with bounded exponential backoff; HTTP-level error
// statuses are never retried here and surface as a StatusError.
package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	jsoniter "github.com/json-iterator/go"

	"github.com/feedpoint/harvester/internal/config"
	"github.com/feedpoint/harvester/internal/templating"
)

const retryAttempts = 5

// Backoff bounds between attempts. Vars so tests can collapse the waits.
var (
	retryWaitMin = 1 * time.Second
	retryWaitMax = 10 * time.Second
)

// Response is the raw result of one HTTP exchange. The body is fully read so
// downstream mapping and metadata extraction can each parse it independently.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	URL        string
}

// StatusError reports a non-2xx/3xx response status. It is a hard failure:
// the transport does not retry it and the pipeline aborts the current run.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http status %d from %s", e.StatusCode, e.URL)
}

// Send resolves the request template against the context, applies
// authentication, and executes the call with the retry policy. On a
// non-2xx/3xx status the Response is returned together with a *StatusError so
// the caller can still log the exchange.
func Send(spec config.Request, auth config.Auth, runCtx map[string]interface{}) (*Response, error) {
	rawURL, err := templating.RenderString(spec.URL, runCtx)
	if err != nil {
		return nil, err
	}
	headers, err := templating.RenderStringMap(spec.Headers, runCtx)
	if err != nil {
		return nil, err
	}
	params, err := renderParams(spec.Params, runCtx)
	if err != nil {
		return nil, err
	}

	var body []byte
	if spec.Body != nil {
		rendered, err := templating.Render(spec.Body, runCtx)
		if err != nil {
			return nil, err
		}
		body, err = jsoniter.Marshal(rendered)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
	}

	var rawBody interface{}
	if body != nil {
		rawBody = body
	}
	req, err := retryablehttp.NewRequest(spec.Method, rawURL, rawBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for name, value := range headers {
		req.Header.Set(name, value)
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	query := req.URL.Query()
	for name, value := range params {
		query.Set(name, value)
	}
	applyAuth(req, auth, query)
	req.URL.RawQuery = query.Encode()

	httpResp, err := newClient(spec.TimeoutSeconds).Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute %s %s: %w", spec.Method, req.URL.Redacted(), err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       respBody,
		URL:        req.URL.String(),
	}

	logExchange(runCtx, spec.Method, resp, headers, params, body)

	if httpResp.StatusCode >= 400 {
		return resp, &StatusError{StatusCode: httpResp.StatusCode, URL: req.URL.String()}
	}
	return resp, nil
}

func newClient(timeoutSeconds float64) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = retryAttempts - 1
	client.RetryWaitMin = retryWaitMin
	client.RetryWaitMax = retryWaitMax
	client.Logger = nil
	client.CheckRetry = retryTransientOnly
	client.HTTPClient.Timeout = time.Duration(timeoutSeconds * float64(time.Second))
	return client
}

// retryTransientOnly retries connection failures, timeouts and protocol
// violations. A delivered response is final whatever its status code.
func retryTransientOnly(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return true, nil
	}
	return false, nil
}

func renderParams(params map[string]interface{}, runCtx map[string]interface{}) (map[string]string, error) {
	out := make(map[string]string, len(params))
	for name, value := range params {
		rendered, err := templating.Render(value, runCtx)
		if err != nil {
			return nil, err
		}
		out[name] = fmt.Sprint(rendered)
	}
	return out, nil
}

func applyAuth(req *retryablehttp.Request, auth config.Auth, query url.Values) {
	switch auth.Type {
	case config.AuthBasic:
		if auth.Username != "" && auth.Password != "" {
			req.SetBasicAuth(auth.Username, auth.Password)
		}
	case config.AuthBearer:
		if auth.Token != "" {
			req.Header.Set("Authorization", "Bearer "+auth.Token)
		}
	case config.AuthAPIKey:
		if auth.Header != "" && auth.Value != "" {
			req.Header.Set(auth.Header, auth.Value)
		} else if auth.QueryParam != "" && auth.Value != "" {
			query.Set(auth.QueryParam, auth.Value)
		}
	}
}
