// Package fetcher retrieves new inbound emails over IMAP or the Gmail API.
// Either implementation yields Email values with a stable Message-ID the
// dedupe ledger can key on; everything downstream is source-agnostic.
package fetcher

import (
	"context"
)

// Email is one fetched inbound email.
type Email struct {
	// MessageID is the RFC 5322 Message-ID (IMAP) or the Gmail message id.
	// It is the dedupe key for source=email deliveries.
	MessageID string
	From      string
	Subject   string
	Body      string
}

// EmailFetcher fetches new inbound emails.
type EmailFetcher interface {
	FetchNewEmails(ctx context.Context) ([]Email, error)
	Close() error
}
