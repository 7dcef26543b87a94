package imapclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Pool is a fixed-size set of already-authenticated IMAP sessions.
// Checkout blocks when every session is in use; a worker that cannot
// obtain one must wait rather than open an unbounded extra connection,
// matching the server-side connection caps most IMAP providers enforce.
type Pool struct {
	sessions chan *Client
	all      []*Client
	logger   *slog.Logger
}

// NewPool dials and authenticates size sessions against cfg and returns
// a Pool ready for Acquire/Release. If any session fails to come up,
// the sessions already opened are logged out before the error returns.
func NewPool(ctx context.Context, cfg Config, size int) (*Pool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("imapclient: pool size must be positive, got %d", size)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pool{
		sessions: make(chan *Client, size),
		all:      make([]*Client, 0, size),
		logger:   logger,
	}

	for i := 0; i < size; i++ {
		c, err := Dial(ctx, cfg)
		if err != nil {
			p.closeAll(ctx)
			return nil, fmt.Errorf("imapclient: pool session %d: %w", i, err)
		}
		if err := c.Login(ctx); err != nil {
			_ = c.conn.Close()
			p.closeAll(ctx)
			return nil, fmt.Errorf("imapclient: pool session %d login: %w", i, err)
		}
		p.all = append(p.all, c)
		p.sessions <- c
	}
	return p, nil
}

// Acquire blocks until a session is available or ctx is done.
func (p *Pool) Acquire(ctx context.Context) (*Client, error) {
	select {
	case c := <-p.sessions:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns a session to the pool for reuse.
func (p *Pool) Release(c *Client) {
	p.sessions <- c
}

// Size reports the pool's fixed capacity.
func (p *Pool) Size() int {
	return len(p.all)
}

// Close logs out every session the pool owns. It continues through
// individual logout failures so that one wedged connection does not
// prevent the rest from being torn down cleanly, and joins all errors
// encountered.
func (p *Pool) Close(ctx context.Context) error {
	return p.closeAll(ctx)
}

func (p *Pool) closeAll(ctx context.Context) error {
	var errs []error
	for _, c := range p.all {
		if err := c.Logout(ctx); err != nil {
			p.logger.Warn("imap session logout failed", "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
