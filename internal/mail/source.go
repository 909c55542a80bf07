package mail

import (
	"context"

	"github.com/receiptmatch/reconciler/internal/notification"
)

// Source is the mailbox the poller reads notifications from.
//
// Implementations return an error wrapping domain.ErrNotAuthenticated when
// they hold no usable credentials and domain.ErrUpstreamUnavailable when the
// provider cannot be reached.
type Source interface {
	// ListCandidateMessages returns the ids of messages matching the
	// provider-specific query.
	ListCandidateMessages(ctx context.Context, query string) ([]string, error)
	// GetMessageContent fetches one message.
	GetMessageContent(ctx context.Context, id string) (*notification.Message, error)
}
