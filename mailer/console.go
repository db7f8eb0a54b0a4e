package mailer

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/goliatone/go-print"

	"github.com/goliatone/go-accounts"
)

// ConsoleNotifier writes messages to a writer instead of sending them.
// Used in development and tests.
type ConsoleNotifier struct {
	mu  sync.Mutex
	out io.Writer
}

var _ accounts.Notifier = (*ConsoleNotifier)(nil)

func NewConsoleNotifier(out io.Writer) *ConsoleNotifier {
	if out == nil {
		out = os.Stdout
	}
	return &ConsoleNotifier{out: out}
}

func (c *ConsoleNotifier) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := fmt.Fprintln(c.out, print.MaybePrettyJSON(accounts.Message{
		To:      to,
		Subject: subject,
		Body:    body,
	}))
	return err
}
