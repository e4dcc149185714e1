package fetcher

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message"
	"github.com/sirupsen/logrus"

	"casetrack-go/internal/config"
)

// IMAPFetcher implements EmailFetcher over an IMAP connection. Each fetch
// pulls UNSEEN messages and marks them seen; the dedupe ledger is the real
// guard against reprocessing, the seen flag just keeps searches small.
type IMAPFetcher struct {
	client *client.Client
}

// NewIMAPFetcher connects and logs in to the configured IMAP server.
func NewIMAPFetcher(cfg *config.EmailConfig) (*IMAPFetcher, error) {
	c, err := client.DialTLS(fmt.Sprintf("%s:%d", cfg.IMAPHost, cfg.IMAPPort), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}

	if err := c.Login(cfg.IMAPUser, cfg.IMAPPassword); err != nil {
		c.Logout()
		return nil, fmt.Errorf("failed to login to IMAP server: %w", err)
	}

	return &IMAPFetcher{client: c}, nil
}

// FetchNewEmails returns every unseen message in INBOX.
func (f *IMAPFetcher) FetchNewEmails(ctx context.Context) ([]Email, error) {
	if _, err := f.client.Select("INBOX", false); err != nil {
		return nil, fmt.Errorf("failed to select INBOX: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}

	uids, err := f.client.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	section := &imap.BodySectionName{}
	items := []imap.FetchItem{imap.FetchEnvelope, section.FetchItem()}

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- f.client.Fetch(seqset, items, messages)
	}()

	var emails []Email
	for msg := range messages {
		email, err := f.parseMessage(msg, section)
		if err != nil {
			logrus.Warnf("Failed to parse IMAP message: %v", err)
			continue
		}
		if email.MessageID == "" {
			logrus.Warn("Skipping IMAP message without Message-ID header")
			continue
		}
		emails = append(emails, email)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	// Mark the batch seen so the next search does not return it again.
	flags := []interface{}{imap.SeenFlag}
	if err := f.client.Store(seqset, imap.FormatFlagsOp(imap.AddFlags, true), flags, nil); err != nil {
		logrus.Warnf("Failed to mark messages seen: %v", err)
	}

	return emails, nil
}

func (f *IMAPFetcher) parseMessage(msg *imap.Message, section *imap.BodySectionName) (Email, error) {
	email := Email{}

	if msg.Envelope != nil {
		email.MessageID = strings.Trim(msg.Envelope.MessageId, "<>")
		email.Subject = msg.Envelope.Subject
		if len(msg.Envelope.From) > 0 {
			email.From = strings.ToLower(msg.Envelope.From[0].Address())
		}
	}

	r := msg.GetBody(section)
	if r == nil {
		return email, fmt.Errorf("message has no body section")
	}

	entity, err := message.Read(r)
	if err != nil {
		return email, fmt.Errorf("failed to read message: %w", err)
	}

	body, err := extractTextBody(entity)
	if err != nil {
		return email, err
	}
	email.Body = body
	return email, nil
}

// extractTextBody walks a MIME entity, preferring text/plain parts and
// falling back to stripped text/html.
func extractTextBody(entity *message.Entity) (string, error) {
	if mr := entity.MultipartReader(); mr != nil {
		var htmlFallback string
		for {
			p, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				return "", fmt.Errorf("failed to read part: %w", err)
			}

			content, err := io.ReadAll(p.Body)
			if err != nil {
				return "", fmt.Errorf("failed to read part body: %w", err)
			}

			contentType := p.Header.Get("Content-Type")
			if strings.Contains(contentType, "text/plain") {
				return string(content), nil
			}
			if strings.Contains(contentType, "text/html") && htmlFallback == "" {
				htmlFallback = stripHTMLTags(string(content))
			}
		}
		return htmlFallback, nil
	}

	content, err := io.ReadAll(entity.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read message body: %w", err)
	}
	if strings.Contains(entity.Header.Get("Content-Type"), "text/html") {
		return stripHTMLTags(string(content)), nil
	}
	return string(content), nil
}

// Close logs out of the IMAP session.
func (f *IMAPFetcher) Close() error {
	return f.client.Logout()
}
