package fetcher

import (
	"context"
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"casetrack-go/internal/config"
)

var htmlTagPattern = regexp.MustCompile(`<[^>]*>`)

// GmailAPIFetcher implements EmailFetcher using the Gmail API, for
// deployments where IMAP is disabled on the account. It keeps a fetch
// watermark to bound the query; reprocessing across restarts is harmless
// because the dedupe ledger drops already-applied message ids.
type GmailAPIFetcher struct {
	service   *gmail.Service
	userEmail string
	lastCheck time.Time
}

// NewGmailAPIFetcher creates a Gmail API fetcher from OAuth2 credentials.
func NewGmailAPIFetcher(cfg *config.EmailConfig) (*GmailAPIFetcher, error) {
	ctx := context.Background()

	oauth2Config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       []string{gmail.GmailReadonlyScope},
		Endpoint:     google.Endpoint,
	}
	token := &oauth2.Token{RefreshToken: cfg.RefreshToken}
	tokenSource := oauth2Config.TokenSource(ctx, token)

	service, err := gmail.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	return &GmailAPIFetcher{
		service:   service,
		userEmail: cfg.UserEmail,
		lastCheck: time.Now().Add(-24 * time.Hour),
	}, nil
}

// FetchNewEmails lists messages received since the last fetch.
func (f *GmailAPIFetcher) FetchNewEmails(ctx context.Context) ([]Email, error) {
	query := fmt.Sprintf("after:%d", f.lastCheck.Unix())

	response, err := f.service.Users.Messages.List(f.userEmail).Q(query).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	var emails []Email
	for _, msg := range response.Messages {
		full, err := f.service.Users.Messages.Get(f.userEmail, msg.Id).Format("full").Do()
		if err != nil {
			logrus.Warnf("Failed to get message %s: %v", msg.Id, err)
			continue
		}
		emails = append(emails, f.parseMessage(full))
	}

	f.lastCheck = time.Now()
	return emails, nil
}

func (f *GmailAPIFetcher) parseMessage(msg *gmail.Message) Email {
	email := Email{MessageID: msg.Id}

	for _, header := range msg.Payload.Headers {
		switch header.Name {
		case "Subject":
			email.Subject = header.Value
		case "From":
			email.From = strings.ToLower(parseAddress(header.Value))
		case "Message-ID":
			// Prefer the RFC Message-ID so retried deliveries across
			// transports share a dedupe key.
			if id := strings.Trim(header.Value, "<>"); id != "" {
				email.MessageID = id
			}
		}
	}

	plain, html := collectBodies(msg.Payload)
	if plain != "" {
		email.Body = plain
	} else {
		email.Body = stripHTMLTags(html)
	}
	return email
}

func collectBodies(part *gmail.MessagePart) (plain, html string) {
	if part.Body != nil && part.Body.Data != "" {
		if data, err := base64.URLEncoding.DecodeString(part.Body.Data); err == nil {
			switch part.MimeType {
			case "text/plain":
				plain = string(data)
			case "text/html":
				html = string(data)
			}
		}
	}
	for _, sub := range part.Parts {
		p, h := collectBodies(sub)
		if plain == "" {
			plain = p
		}
		if html == "" {
			html = h
		}
	}
	return plain, html
}

// parseAddress extracts the bare address from a From header like
// "Name <user@example.com>".
func parseAddress(from string) string {
	if start := strings.Index(from, "<"); start >= 0 {
		if end := strings.Index(from[start:], ">"); end > 0 {
			return from[start+1 : start+end]
		}
	}
	return strings.TrimSpace(from)
}

func stripHTMLTags(html string) string {
	replacements := []struct{ from, to string }{
		{"<br>", "\n"}, {"<br/>", "\n"}, {"<br />", "\n"},
		{"<p>", "\n"}, {"</p>", "\n"},
		{"&nbsp;", " "}, {"&amp;", "&"}, {"&lt;", "<"}, {"&gt;", ">"}, {"&quot;", "\""},
	}
	text := html
	for _, r := range replacements {
		text = strings.ReplaceAll(text, r.from, r.to)
	}
	text = htmlTagPattern.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// Close is a no-op for the Gmail API.
func (f *GmailAPIFetcher) Close() error {
	return nil
}
