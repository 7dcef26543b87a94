// Package imapclient wraps github.com/emersion/go-imap/v2's imapclient
// in a single authenticated IMAP session: connect, TLS, authenticate
// with username + app password (falling back to AUTHENTICATE PLAIN via
// go-sasl when the server advertises LOGINDISABLED), and the handful of
// commands the migration pipeline needs (LIST, SELECT, UID SEARCH, UID
// FETCH). Each Client allows only one in-flight command at a time
// (single-flight, matching the original tool's asyncio.Lock-guarded
// session).
package imapclient

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	imap "github.com/emersion/go-imap/v2"
	goimapclient "github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"
)

// DefaultCommandTimeout is the value Dial stores in Config.CommandTimeout
// when none is given. Neither Client nor the orchestrator applies it as
// a deadline: IMAP commands run without a per-command timeout.
const DefaultCommandTimeout = 120 * time.Second

// AuthError indicates the server rejected LOGIN or AUTHENTICATE PLAIN.
type AuthError struct {
	Detail string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("imap auth failed: %s", e.Detail)
}

// CommandError indicates a command other than LOGIN failed.
type CommandError struct {
	Command string
	Detail  string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("imap command %q failed: %s", e.Command, e.Detail)
}

// Config describes how to connect and authenticate a Client.
type Config struct {
	Host           string
	Port           int
	SSL            bool
	Username       string
	AppPassword    string
	CommandTimeout time.Duration
	Logger         *slog.Logger
}

// SelectInfo is the subset of a SELECT response the orchestrator needs
// to maintain its per-folder UID checkpoint.
type SelectInfo struct {
	UIDValidity uint32
	UIDNext     uint32
	NumMessages uint32
}

// Client is a single authenticated IMAP session, backed by
// *imapclient.Client from emersion/go-imap/v2.
type Client struct {
	cfg    Config
	conn   *goimapclient.Client
	mu     sync.Mutex
	logger *slog.Logger
}

// Dial opens a connection (TLS when cfg.SSL is set, plain text
// otherwise) to the server configured in cfg. It does not log in.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = DefaultCommandTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	opts := &goimapclient.Options{}

	var conn *goimapclient.Client
	var err error
	if cfg.SSL {
		conn, err = goimapclient.DialTLS(addr, opts)
	} else {
		conn, err = goimapclient.DialInsecure(addr, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("imapclient: dial %s: %w", addr, err)
	}

	return &Client{cfg: cfg, conn: conn, logger: logger}, nil
}

// Login authenticates with username + app password. When the server
// advertises LOGINDISABLED (common once STARTTLS/implicit TLS is
// already in place but LOGIN is still blocked pre-auth) it falls back
// to AUTHENTICATE PLAIN via go-sasl instead.
func (c *Client) Login(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if c.conn.Caps().Has(imap.CapLoginDisabled) {
		saslClient := sasl.NewPlainClient("", c.cfg.Username, c.cfg.AppPassword)
		if err := c.conn.Authenticate(saslClient); err != nil {
			return &AuthError{Detail: err.Error()}
		}
		return nil
	}
	if err := c.conn.Login(c.cfg.Username, c.cfg.AppPassword).Wait(); err != nil {
		return &AuthError{Detail: err.Error()}
	}
	return nil
}

// Logout sends LOGOUT and closes the underlying connection regardless
// of whether the server replies cleanly.
func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.conn.Logout().Wait()
	closeErr := c.conn.Close()
	if err != nil {
		return err
	}
	return closeErr
}

// List returns the mailbox names visible under the LIST "" "*"
// wildcard, skipping \Noselect entries.
func (c *Client) List(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	items, err := c.conn.List("", "*", nil).Collect()
	if err != nil {
		return nil, &CommandError{Command: "LIST", Detail: err.Error()}
	}

	names := make([]string, 0, len(items))
	for _, item := range items {
		if hasAttr(item.Attrs, imap.MailboxAttrNoSelect) {
			continue
		}
		names = append(names, item.Mailbox)
	}
	return names, nil
}

func hasAttr(attrs []imap.MailboxAttr, attr imap.MailboxAttr) bool {
	for _, a := range attrs {
		if a == attr {
			return true
		}
	}
	return false
}

// Select runs SELECT on mailbox and returns its UIDVALIDITY/UIDNEXT/
// message count.
func (c *Client) Select(ctx context.Context, mailbox string) (SelectInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx.Err() != nil {
		return SelectInfo{}, ctx.Err()
	}

	data, err := c.conn.Select(mailbox, nil).Wait()
	if err != nil {
		return SelectInfo{}, &CommandError{Command: "SELECT " + mailbox, Detail: err.Error()}
	}
	return SelectInfo{
		UIDValidity: data.UIDValidity,
		UIDNext:     uint32(data.UIDNext),
		NumMessages: data.NumMessages,
	}, nil
}

// UIDSearch runs UID SEARCH against the currently selected mailbox for
// query (see ParseSearchQuery) and returns the matching UIDs that are
// at least startUID, preserving server order. The UID floor is applied
// client-side rather than folded into the search criteria, since the
// criteria already has to carry the configured query and stacking two
// independent restrictions this way keeps both simple to get right.
func (c *Client) UIDSearch(ctx context.Context, query string, startUID uint32) ([]uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	criteria := ParseSearchQuery(query)
	data, err := c.conn.UIDSearch(criteria, &imap.SearchOptions{ReturnAll: true}).Wait()
	if err != nil {
		return nil, &CommandError{Command: "UID SEARCH", Detail: err.Error()}
	}

	uidSet, ok := data.All.(imap.UIDSet)
	if !ok {
		return nil, nil
	}
	nums, _ := uidSet.Nums()

	uids := make([]uint32, 0, len(nums))
	for _, n := range nums {
		if n >= startUID {
			uids = append(uids, n)
		}
	}
	return uids, nil
}

// UIDFetchRFC822 fetches the full raw RFC822 content of the message
// with the given UID in the currently selected mailbox.
func (c *Client) UIDFetchRFC822(ctx context.Context, uid uint32) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var uidSet imap.UIDSet
	uidSet.AddNum(imap.UID(uid))

	fetchOpts := &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{{}}, // empty section = entire message
	}
	msgs, err := c.conn.Fetch(uidSet, fetchOpts).Collect()
	if err != nil {
		return nil, &CommandError{Command: "UID FETCH", Detail: err.Error()}
	}
	for _, msgBuf := range msgs {
		if uint32(msgBuf.UID) != uid {
			continue
		}
		if len(msgBuf.BodySection) == 0 {
			return nil, &CommandError{Command: "UID FETCH", Detail: "response had no body section"}
		}
		return msgBuf.BodySection[0].Bytes, nil
	}
	return nil, &CommandError{Command: "UID FETCH", Detail: fmt.Sprintf("uid %d not found", uid)}
}
