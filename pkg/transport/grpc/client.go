package grpc

import (
    "context"
    "crypto/tls"
    "errors"
    "sync"
    "time"

    "google.golang.org/grpc"
    "google.golang.org/grpc/backoff"
    "google.golang.org/grpc/credentials"
    "google.golang.org/grpc/credentials/insecure"
    "google.golang.org/grpc/keepalive"

    "github.com/amirimatin/go-raftstore/pkg/transport"
)

// Client calls the management service, reusing connections per address.
type Client struct {
    timeout time.Duration
    tlsCfg  *tls.Config

    once sync.Once
    cm   *ConnManager
}

// NewClient constructs a client; each call is bounded by timeout.
func NewClient(timeout time.Duration) *Client {
    if timeout <= 0 { timeout = 3 * time.Second }
    return &Client{timeout: timeout}
}

// UseTLS sets the TLS config for the client. Call before the first request.
func (c *Client) UseTLS(cfg *tls.Config) *Client { c.tlsCfg = cfg; return c }

func (c *Client) dialCtx(ctx context.Context, target string) (*grpc.ClientConn, error) {
    opts := []grpc.DialOption{
        grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{}), grpc.CallContentSubtype("json")),
        grpc.WithConnectParams(grpc.ConnectParams{Backoff: backoff.DefaultConfig, MinConnectTimeout: 500 * time.Millisecond}),
        grpc.WithKeepaliveParams(keepalive.ClientParameters{Time: 20 * time.Second, Timeout: 5 * time.Second, PermitWithoutStream: true}),
        grpc.WithBlock(),
    }
    if c.tlsCfg != nil {
        opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(c.tlsCfg)))
    } else {
        opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
    }
    return grpc.DialContext(ctx, target, opts...)
}

func (c *Client) conns() *ConnManager {
    c.once.Do(func() { c.cm = NewConnManager(30*time.Second, c.dialCtx) })
    return c.cm
}

func (c *Client) invoke(ctx context.Context, addr, method string, in, out interface{}) error {
    cctx, cancel := context.WithTimeout(ctx, c.timeout)
    defer cancel()
    cc, rel, err := c.conns().Get(cctx, addr)
    if err != nil { return err }
    defer rel()
    return cc.Invoke(cctx, method, in, out)
}

func (c *Client) GetStatus(ctx context.Context, addr string) (transport.Status, error) {
    var out transport.Status
    err := c.invoke(ctx, addr, methodGetStatus, &empty{}, &out)
    return out, err
}

// PostConfigure returns the response together with its error text as an
// error when the request was not accepted.
func (c *Client) PostConfigure(ctx context.Context, addr string, req transport.ConfigureRequest) (transport.ConfigureResponse, error) {
    var out transport.ConfigureResponse
    if err := c.invoke(ctx, addr, methodConfigure, &req, &out); err != nil { return out, err }
    if !out.Accepted {
        if out.Error != "" { return out, errors.New(out.Error) }
        return out, errors.New("configure rejected")
    }
    return out, nil
}

// Close releases cached connections.
func (c *Client) Close() { c.conns().Close() }

var _ transport.RPCClient = (*Client)(nil)
