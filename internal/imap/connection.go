// Package imap holds the IMAP protocol helpers used by the session pool,
// the mailbox synchronizer and the watcher.
package imap

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-imap/client"
	"github.com/vdavid/vmail/mailcore/internal/mailerr"
)

// dialTimeout bounds the TCP (and TLS) handshake.
const dialTimeout = 5 * time.Second

// Connect dials the IMAP server and logs in.
// useTLS selects implicit TLS; plain connections are used by tests and local setups.
// Network failures are returned as ConnectionError, rejected credentials as
// AuthenticationError.
func Connect(ctx context.Context, addr string, useTLS bool, username, password string) (*client.Client, error) {
	dialer := &net.Dialer{Timeout: dialTimeout}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.Deadline = deadline
	}

	var (
		c   *client.Client
		err error
	)
	if useTLS {
		c, err = client.DialWithDialerTLS(dialer, addr, nil)
	} else {
		c, err = client.DialWithDialer(dialer, addr)
	}
	if err != nil {
		return nil, mailerr.Connection("dial "+addr, err)
	}

	err = WithContext(ctx, c, func() error {
		return c.Login(username, password)
	})
	if err != nil {
		_ = c.Logout()
		if IsConnectionError(err) || ctx.Err() != nil {
			return nil, mailerr.Connection("login", err)
		}
		return nil, mailerr.Authentication("login", err)
	}

	return c, nil
}

// WithContext runs fn, which must issue commands on c, and aborts it when ctx
// is done by terminating the connection. After an abort the client is unusable
// and ctx.Err() is returned.
func WithContext(ctx context.Context, c *client.Client, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		_ = c.Terminate()
		<-done
		return ctx.Err()
	}
}

// Close logs out, falling back to closing the socket when the server does not answer.
func Close(c *client.Client) {
	if c == nil {
		return
	}
	if err := c.Logout(); err != nil {
		_ = c.Terminate()
	}
}

// Ping issues a NOOP and reports whether the connection is still usable.
func Ping(c *client.Client) error {
	if err := c.Noop(); err != nil {
		return fmt.Errorf("failed to ping IMAP server: %w", err)
	}
	return nil
}
