package server

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/hupe1980/compcache"
	"github.com/hupe1980/compcache/model"
)

// Client talks the frame protocol to a running server. It is not safe
// for concurrent use; build wrappers open one client per request or
// guard it themselves.
type Client struct {
	conn net.Conn
}

// Dial connects to a server at addr.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer

	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("server: dial %s: %w", addr, err)
	}

	return &Client{conn: conn}, nil
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) roundTrip(ctx context.Context, req *Request) (*Response, error) {
	if deadline, ok := ctx.Deadline(); ok {
		if err := c.conn.SetDeadline(deadline); err != nil {
			return nil, err
		}
	}

	if err := writeFrame(c.conn, req); err != nil {
		return nil, err
	}

	var resp Response
	if err := readFrame(c.conn, &resp); err != nil {
		return nil, err
	}

	if resp.Error != "" {
		return nil, errors.New(resp.Error)
	}

	return &resp, nil
}

// Compile submits an invocation and returns the compile reply.
func (c *Client) Compile(ctx context.Context, in model.Invocation) (*CompileReply, error) {
	resp, err := c.roundTrip(ctx, &Request{Kind: KindCompile, Invocation: &in})
	if err != nil {
		return nil, err
	}

	if resp.Compile == nil {
		return nil, errors.New("server: compile response without payload")
	}

	return resp.Compile, nil
}

// Stats fetches the server's counters.
func (c *Client) Stats(ctx context.Context) (*compcache.StatsSnapshot, error) {
	resp, err := c.roundTrip(ctx, &Request{Kind: KindStats})
	if err != nil {
		return nil, err
	}

	if resp.Stats == nil {
		return nil, errors.New("server: stats response without payload")
	}

	return resp.Stats, nil
}

// ZeroStats resets the server's counters and returns the zeroed view.
func (c *Client) ZeroStats(ctx context.Context) (*compcache.StatsSnapshot, error) {
	resp, err := c.roundTrip(ctx, &Request{Kind: KindZeroStats})
	if err != nil {
		return nil, err
	}

	if resp.Stats == nil {
		return nil, errors.New("server: stats response without payload")
	}

	return resp.Stats, nil
}

// Shutdown asks the server to stop. The server finishes in-flight
// requests before exiting.
func (c *Client) Shutdown(ctx context.Context) error {
	_, err := c.roundTrip(ctx, &Request{Kind: KindShutdown})
	return err
}
