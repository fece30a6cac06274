package httpjson

import (
    "bytes"
    "context"
    "crypto/tls"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "net/http"
    "time"

    "github.com/amirimatin/go-raftstore/pkg/transport"
)

// Client is a thin HTTP client for the management API with simple retry and
// backoff.
type Client struct {
    httpc  *http.Client
    scheme string
}

// NewClient constructs a new Client with the given timeout.
func NewClient(timeout time.Duration) *Client {
    if timeout <= 0 { timeout = 3 * time.Second }
    return &Client{httpc: &http.Client{Timeout: timeout}, scheme: "http"}
}

// UseTLS switches the client to HTTPS with cfg.
func (c *Client) UseTLS(cfg *tls.Config) *Client {
    c.httpc.Transport = &http.Transport{TLSClientConfig: cfg}
    c.scheme = "https"
    return c
}

func (c *Client) GetStatus(ctx context.Context, addr string) (transport.Status, error) {
    var out transport.Status
    err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s://%s/status", c.scheme, addr), nil, func(code int, b []byte) error {
        if code != http.StatusOK {
            return fmt.Errorf("status %d: %s", code, string(bytes.TrimSpace(b)))
        }
        return json.Unmarshal(b, &out)
    })
    return out, err
}

func (c *Client) PostConfigure(ctx context.Context, addr string, req transport.ConfigureRequest) (transport.ConfigureResponse, error) {
    var out transport.ConfigureResponse
    body, err := json.Marshal(req)
    if err != nil { return out, err }
    err = c.do(ctx, http.MethodPost, fmt.Sprintf("%s://%s/configure", c.scheme, addr), body, func(code int, b []byte) error {
        _ = json.Unmarshal(b, &out)
        if code == http.StatusOK { return nil }
        if out.Error != "" { return errors.New(out.Error) }
        return fmt.Errorf("configure status %d: %s", code, string(bytes.TrimSpace(b)))
    })
    return out, err
}

// do issues the request up to three times, backing off between attempts.
// Transport errors and non-nil results of handle are retried.
func (c *Client) do(ctx context.Context, method, url string, body []byte, handle func(code int, b []byte) error) error {
    var lastErr error
    for attempt := 0; attempt < 3; attempt++ {
        req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
        if err != nil { return err }
        if body != nil { req.Header.Set("Content-Type", "application/json") }
        resp, err := c.httpc.Do(req)
        if err != nil {
            lastErr = err
        } else {
            b, rerr := io.ReadAll(resp.Body)
            resp.Body.Close()
            if rerr != nil {
                lastErr = rerr
            } else if lastErr = handle(resp.StatusCode, b); lastErr == nil {
                return nil
            }
        }
        // backoff unless context is done
        select {
        case <-ctx.Done():
            if lastErr == nil { lastErr = ctx.Err() }
            return lastErr
        case <-time.After(time.Duration(100*(1<<attempt)) * time.Millisecond):
        }
    }
    return lastErr
}

var _ transport.RPCClient = (*Client)(nil)
