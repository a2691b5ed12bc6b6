// Package mail is the mailbox port: fetching inbound messages, sending
// threaded replies, and flagging what has been handled.
package mail

import (
	"context"

	"github.com/plouffe/rdv/internal/core"
)

// Port is the mailbox capability the engine depends on.
type Port interface {
	// Fetch loads the message with the given Message-ID from the inbox and
	// normalizes it, including deriving the mail thread it belongs to.
	Fetch(ctx context.Context, messageID string) (core.Message, error)

	// Reply sends body back to the sender of orig, threaded into the same
	// conversation via In-Reply-To and References.
	Reply(ctx context.Context, orig core.Message, body string) error

	// Notify sends a standalone message to the operator's notify address.
	// It is a no-op when no notify address is configured.
	Notify(ctx context.Context, subject, body string) error

	// MarkHandled flags the message so a crashed run does not process it
	// twice on restart.
	MarkHandled(ctx context.Context, messageID string) error
}
