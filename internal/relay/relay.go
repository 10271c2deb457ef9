// Package relay talks to the owner's SMTP relay.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/vdavid/vmail/mailcore/internal/mailerr"
)

// localName is sent in EHLO.
const localName = "mailcore"

// Dial connects to the relay and authenticates with PLAIN when the server
// offers AUTH and a username is given.
func Dial(ctx context.Context, addr string, useTLS bool, username, password string) (*smtp.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		c   *smtp.Client
		err error
	)
	if useTLS {
		c, err = smtp.DialTLS(addr, nil)
	} else {
		c, err = smtp.Dial(addr)
	}
	if err != nil {
		return nil, mailerr.Connection("dial relay "+addr, err)
	}

	if err := c.Hello(localName); err != nil {
		_ = c.Close()
		return nil, Classify(err)
	}

	if username != "" {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(sasl.NewPlainClient("", username, password)); err != nil {
				_ = c.Close()
				return nil, authError(err)
			}
		}
	}

	return c, nil
}

// Deliver relays raw to rcpts. On failure the transaction is reset so the
// connection can be reused, and the error is classified.
func Deliver(c *smtp.Client, from string, rcpts []string, raw []byte) error {
	if err := deliver(c, from, rcpts, raw); err != nil {
		_ = c.Reset()
		return err
	}
	return nil
}

func deliver(c *smtp.Client, from string, rcpts []string, raw []byte) error {
	if err := c.Mail(from, nil); err != nil {
		return Classify(err)
	}

	for _, rcpt := range rcpts {
		if err := c.Rcpt(rcpt, nil); err != nil {
			var smtpErr *smtp.SMTPError
			if errors.As(err, &smtpErr) && smtpErr.Code >= 500 {
				return mailerr.Delivery(fmt.Sprintf("recipient %s rejected: %s", rcpt, smtpErr.Message), err)
			}
			return Classify(err)
		}
	}

	w, err := c.Data()
	if err != nil {
		return Classify(err)
	}
	if _, err := w.Write(raw); err != nil {
		_ = w.Close()
		return Classify(err)
	}
	if err := w.Close(); err != nil {
		return Classify(err)
	}

	return nil
}

// Classify maps a relay error onto the mail error taxonomy: 5xx replies are
// permanent delivery failures, 4xx replies and network errors are transient.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var classified *mailerr.Error
	if errors.As(err, &classified) {
		return err
	}

	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		if smtpErr.Code >= 500 {
			return mailerr.Delivery(smtpReason(smtpErr), err)
		}
		return mailerr.Connection("relay", err)
	}

	// Network errors, EOF and broken pipes: the connection is unusable.
	return mailerr.Connection("relay", err)
}

func authError(err error) error {
	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) && smtpErr.Code < 500 {
		return mailerr.Connection("relay auth", err)
	}
	if !errors.As(err, &smtpErr) {
		var netErr net.Error
		if errors.As(err, &netErr) {
			return mailerr.Connection("relay auth", err)
		}
	}
	return mailerr.Delivery("relay authentication failed", mailerr.Authentication("relay auth", err))
}

func smtpReason(err *smtp.SMTPError) string {
	msg := strings.TrimSpace(err.Message)
	if msg == "" {
		return fmt.Sprintf("relay rejected message with code %d", err.Code)
	}
	return fmt.Sprintf("%d %s", err.Code, msg)
}

// Probe reports whether the relay connection still answers.
func Probe(c *smtp.Client) error {
	if err := c.Noop(); err != nil {
		return Classify(err)
	}
	return nil
}

// Close ends the SMTP session, falling back to closing the socket.
func Close(c *smtp.Client) {
	if c == nil {
		return
	}
	if err := c.Quit(); err != nil {
		_ = c.Close()
	}
}
