package accounts

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Message is an outgoing notification
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// MessageComposer renders the notifications sent by the services
type MessageComposer interface {
	ReviewRequest(account *Account, reviewURL string) Message
	Approved(account *Account, loginURL string) Message
	ResetRequested(account *Account, link string, expiresAt time.Time) Message
}

// DefaultComposer writes short plain text messages
type DefaultComposer struct {
	SiteName string
}

func (c DefaultComposer) site() string {
	if c.SiteName == "" {
		return "Accounts"
	}
	return c.SiteName
}

func (c DefaultComposer) ReviewRequest(account *Account, reviewURL string) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "A new account is waiting for approval.\n\n")
	fmt.Fprintf(&b, "Username: %s\nEmail: %s\nName: %s\nCompany: %s\nRole: %s\n",
		account.Username, account.Email, account.DisplayName, account.CompanyName, account.Role)
	if reviewURL != "" {
		fmt.Fprintf(&b, "\nReview it at %s\n", reviewURL)
	}
	return Message{
		Subject: fmt.Sprintf("[%s] New registration: %s", c.site(), account.Username),
		Body:    b.String(),
	}
}

func (c DefaultComposer) Approved(account *Account, loginURL string) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\nYour account has been approved.\n\n", account.DisplayName)
	fmt.Fprintf(&b, "Username: %s\nEmail: %s\n", account.Username, account.Email)
	if loginURL != "" {
		fmt.Fprintf(&b, "\nSign in at %s\n", loginURL)
	}
	return Message{
		To:      account.Email,
		Subject: fmt.Sprintf("[%s] Your account is active", c.site()),
		Body:    b.String(),
	}
}

func (c DefaultComposer) ResetRequested(account *Account, link string, expiresAt time.Time) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\nSomeone asked to reset the password of your account.\n", account.DisplayName)
	fmt.Fprintf(&b, "Follow this link to choose a new one:\n\n%s\n\n", link)
	fmt.Fprintf(&b, "The link expires at %s. If you did not ask for it you can ignore this message.\n",
		expiresAt.UTC().Format(time.RFC1123))
	return Message{
		To:      account.Email,
		Subject: fmt.Sprintf("[%s] Password reset", c.site()),
		Body:    b.String(),
	}
}

// dispatch sends msg and reports a wrapped NotificationFailure without
// failing the caller
func dispatch(ctx context.Context, notifier Notifier, logger Logger, msg Message) error {
	if msg.To == "" {
		return nil
	}
	if err := notifier.Send(ctx, msg.To, msg.Subject, msg.Body); err != nil {
		nerr := notificationError(err, msg.To, msg.Subject)
		logger.Warn("notification failed", "to", msg.To, "subject", msg.Subject, "error", err)
		return nerr
	}
	return nil
}
