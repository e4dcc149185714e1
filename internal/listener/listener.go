package listener

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"casetrack-go/internal/fetcher"
	"casetrack-go/internal/model"
	"casetrack-go/internal/notify"
	"casetrack-go/internal/service"
)

// EmailListener polls a mailbox and feeds each new email through the
// case service. One listener runs per process; polling is sequential so
// emails from the same customer are applied in mailbox order.
type EmailListener struct {
	fetcher  fetcher.EmailFetcher
	service  *service.CaseService
	notifier *notify.Notifier
	interval time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(f fetcher.EmailFetcher, svc *service.CaseService, n *notify.Notifier, interval time.Duration) *EmailListener {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &EmailListener{
		fetcher:  f,
		service:  svc,
		notifier: n,
		interval: interval,
	}
}

// Start launches the polling loop. It returns immediately.
func (l *EmailListener) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		logrus.Warn("Email listener already running")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.done = make(chan struct{})
	l.running = true

	go l.run(ctx)
	logrus.Infof("Email listener started, polling every %s", l.interval)
}

// Stop cancels the polling loop and waits for the current poll to finish.
func (l *EmailListener) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	cancel := l.cancel
	done := l.done
	l.mu.Unlock()

	cancel()
	<-done

	if err := l.fetcher.Close(); err != nil {
		logrus.Warnf("Failed to close email fetcher: %v", err)
	}
	logrus.Info("Email listener stopped")
}

func (l *EmailListener) IsRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

func (l *EmailListener) run(ctx context.Context) {
	defer close(l.done)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.poll(ctx)
		}
	}
}

func (l *EmailListener) poll(ctx context.Context) {
	emails, err := l.fetcher.FetchNewEmails(ctx)
	if err != nil {
		logrus.Errorf("Failed to fetch emails: %v", err)
		return
	}
	if len(emails) == 0 {
		return
	}
	logrus.Infof("Fetched %d new emails", len(emails))

	for _, email := range emails {
		select {
		case <-ctx.Done():
			return
		default:
		}
		l.handle(email)
	}
}

func (l *EmailListener) handle(email fetcher.Email) {
	if email.MessageID == "" || email.From == "" {
		logrus.Warn("Skipping email without message id or sender")
		return
	}

	// The subject travels with the body so case references placed there
	// are visible to closure handling.
	body := email.Body
	if subject := strings.TrimSpace(email.Subject); subject != "" {
		body = subject + "\n\n" + body
	}

	intents, err := l.service.HandleInbound(model.InboundMessage{
		ExternalID: email.MessageID,
		Source:     model.SourceEmail,
		Sender:     email.From,
		Body:       body,
		ReceivedAt: time.Now().UTC(),
	})
	if err != nil {
		logrus.Errorf("Failed to process email %s from %s: %v", email.MessageID, email.From, err)
		return
	}
	l.notifier.Dispatch(intents)
}
