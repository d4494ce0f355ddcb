// Package mail delivers purpose tokens to account owners.
//
// Delivery is asynchronous: purpose token issuance writes an outbox event in
// the same transaction as the token, and the Dispatcher drains the outbox
// through a Mailer.
package mail

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
)

// Delivery asks the mail collaborator to send token to Address. The core
// never formats the message body.
type Delivery struct {
	Address string
	Token   string
	Purpose string
}

// Mailer sends one delivery.
type Mailer interface {
	Deliver(ctx context.Context, delivery Delivery) error
}

// LogMailer writes deliveries to the process log. Tokens are masked unless
// RevealTokens is set, which is only meant for local development.
type LogMailer struct {
	RevealTokens bool
	Logf         func(format string, args ...any)
}

// Deliver logs the delivery.
func (m LogMailer) Deliver(ctx context.Context, delivery Delivery) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(delivery.Address) == "" {
		return Permanent(fmt.Errorf("delivery address is required"))
	}
	logf := m.Logf
	if logf == nil {
		logf = log.Printf
	}
	token := maskToken(delivery.Token)
	if m.RevealTokens {
		token = delivery.Token
	}
	logf("mail: deliver %s token %s to %s", delivery.Purpose, token, delivery.Address)
	return nil
}

func maskToken(token string) string {
	if len(token) <= 6 {
		return "******"
	}
	return token[:6] + "..."
}

type permanentError struct {
	cause error
}

func (e permanentError) Error() string {
	if e.cause == nil {
		return "permanent error"
	}
	return e.cause.Error()
}

func (e permanentError) Unwrap() error {
	return e.cause
}

// Permanent marks an error as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{cause: err}
}

// IsPermanent reports whether err was explicitly marked as non-retryable.
func IsPermanent(err error) bool {
	var target permanentError
	return errors.As(err, &target)
}
