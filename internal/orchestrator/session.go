package orchestrator

import (
	"context"

	"github.com/mailkeep/imap2gmail/internal/imapclient"
)

// imapSession is the narrow slice of *imapclient.Client the orchestrator
// drives. Declaring it locally (rather than importing imapclient.Client
// directly everywhere) lets tests substitute a fake session with no real
// network I/O; *imapclient.Client already implements this interface, so
// production code needs no adapter on the Client side.
type imapSession interface {
	List(ctx context.Context) ([]string, error)
	Select(ctx context.Context, mailbox string) (imapclient.SelectInfo, error)
	UIDSearch(ctx context.Context, query string, startUID uint32) ([]uint32, error)
	UIDFetchRFC822(ctx context.Context, uid uint32) ([]byte, error)
}

// sessionPool is the checkout/return discipline the orchestrator needs
// from a pool of IMAP sessions.
type sessionPool interface {
	Acquire(ctx context.Context) (imapSession, error)
	Release(imapSession)
	Size() int
	Close(ctx context.Context) error
}

// poolAdapter wraps a concrete *imapclient.Pool so it satisfies
// sessionPool. The only work it does is widen/narrow between
// *imapclient.Client and the imapSession interface; imapclient is not
// changed to know about this package.
type poolAdapter struct {
	pool *imapclient.Pool
}

// newPoolAdapter returns a sessionPool backed by pool.
func newPoolAdapter(pool *imapclient.Pool) sessionPool {
	return &poolAdapter{pool: pool}
}

func (a *poolAdapter) Acquire(ctx context.Context) (imapSession, error) {
	c, err := a.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (a *poolAdapter) Release(s imapSession) {
	a.pool.Release(s.(*imapclient.Client))
}

func (a *poolAdapter) Size() int { return a.pool.Size() }

func (a *poolAdapter) Close(ctx context.Context) error { return a.pool.Close(ctx) }

var _ sessionPool = (*poolAdapter)(nil)
