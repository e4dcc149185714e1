package service

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"casetrack-go/internal/config"
	"casetrack-go/internal/database"
	"casetrack-go/internal/model"
	"casetrack-go/internal/repository"
	"casetrack-go/internal/rules"
)

type fixture struct {
	svc  *CaseService
	repo *repository.Repository
	now  time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "casetrack_test.db")
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	cfg := config.RulesConfig{
		EscalationHours:      48,
		MaxFollowups:         3,
		AlertIntervalMinutes: 60,
		UrgentKeywords:       []string{"urgent", "immediately", "emergency", "critical"},
		ClosurePhrases: []string{
			"i'm closing this case.",
			"i am closing this case.",
			"closing this case.",
			"case closed.",
			"i'll close this case.",
		},
		AdminEmails:   []string{"admin@example.com"},
		AdminChatIDs:  []string{"UADMIN"},
		MaxBodyLength: 10000,
	}

	f := &fixture{
		repo: repository.New(db),
		now:  time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	f.repo.Now = func() time.Time { return f.now }

	engine := rules.NewEngine(cfg)
	engine.Now = func() time.Time { return f.now }

	f.svc = NewCaseService(f.repo, engine, nil)
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

var msgSeq int

func inboundFrom(sender, body string) model.InboundMessage {
	msgSeq++
	return model.InboundMessage{
		ExternalID: fmt.Sprintf("msg-%d", msgSeq),
		Source:     model.SourceEmail,
		Sender:     sender,
		Body:       body,
	}
}

func intentKinds(intents []model.NotificationIntent) []string {
	var kinds []string
	for _, i := range intents {
		kinds = append(kinds, i.Kind)
	}
	return kinds
}

func TestFirstMessageCreatesCase(t *testing.T) {
	f := newFixture(t)

	intents, err := f.svc.HandleInbound(inboundFrom("alice@example.com", "my printer broke"))
	require.NoError(t, err)
	require.Len(t, intents, 1)
	assert.Equal(t, model.IntentNewMessage, intents[0].Kind)
	assert.Equal(t, "alice@example.com", intents[0].CustomerIdentifier)
	assert.Contains(t, intents[0].Text, "alice")

	open, err := f.repo.OpenCases()
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, 1, open[0].MessageCount)
	assert.False(t, open[0].Escalated)
}

func TestDuplicateDeliveryIsNoOp(t *testing.T) {
	f := newFixture(t)

	in := inboundFrom("alice@example.com", "hello")
	intents, err := f.svc.HandleInbound(in)
	require.NoError(t, err)
	assert.Len(t, intents, 1)

	// Redelivery of the same external id changes nothing.
	intents, err = f.svc.HandleInbound(in)
	require.NoError(t, err)
	assert.Empty(t, intents)

	open, err := f.repo.OpenCases()
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, 1, open[0].MessageCount)
}

func TestValidationRejects(t *testing.T) {
	f := newFixture(t)

	cases := []model.InboundMessage{
		{Source: model.SourceEmail, Sender: "a@b.com", Body: "hi"},
		{ExternalID: "x", Source: model.SourceEmail, Body: "hi"},
		{ExternalID: "x", Source: "carrier-pigeon", Sender: "a@b.com", Body: "hi"},
		{ExternalID: "x", Source: model.SourceEmail, Sender: "a@b.com", Body: "\x00\x01"},
	}
	for _, in := range cases {
		_, err := f.svc.HandleInbound(in)
		assert.ErrorIs(t, err, ErrValidation)
	}

	// Rejected deliveries are not recorded, so a corrected retry succeeds.
	intents, err := f.svc.HandleInbound(model.InboundMessage{
		ExternalID: "x", Source: model.SourceEmail, Sender: "a@b.com", Body: "hi",
	})
	require.NoError(t, err)
	assert.Len(t, intents, 1)
}

func TestUrgentKeywordEscalatesImmediately(t *testing.T) {
	f := newFixture(t)

	intents, err := f.svc.HandleInbound(inboundFrom("alice@example.com", "this is URGENT"))
	require.NoError(t, err)
	assert.Equal(t, []string{model.IntentEscalationAlert, model.IntentNewMessage}, intentKinds(intents))

	open, err := f.repo.OpenCases()
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.True(t, open[0].Escalated)
	assert.NotNil(t, open[0].EscalatedAt)
}

func TestFollowupRunEscalates(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 3; i++ {
		f.advance(time.Minute)
		intents, err := f.svc.HandleInbound(inboundFrom("alice@example.com", fmt.Sprintf("checking in %d", i)))
		require.NoError(t, err)
		assert.Equal(t, []string{model.IntentNewMessage}, intentKinds(intents), "message %d must not escalate", i)
	}

	// The fourth consecutive customer message crosses the limit.
	f.advance(time.Minute)
	intents, err := f.svc.HandleInbound(inboundFrom("alice@example.com", "still waiting"))
	require.NoError(t, err)
	assert.Equal(t, []string{model.IntentEscalationAlert, model.IntentNewMessage}, intentKinds(intents))
}

func TestAdminReplyResetsFollowupRun(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 3; i++ {
		f.advance(time.Minute)
		_, err := f.svc.HandleInbound(inboundFrom("alice@example.com", fmt.Sprintf("ping %d", i)))
		require.NoError(t, err)
	}

	open, err := f.repo.OpenCases()
	require.NoError(t, err)
	require.Len(t, open, 1)
	caseID := open[0].CaseID

	f.advance(time.Minute)
	intents, err := f.svc.HandleInbound(inboundFrom("admin@example.com", "Looking into it, ref "+caseID))
	require.NoError(t, err)
	assert.Equal(t, []string{model.IntentNewMessage}, intentKinds(intents))

	// Customer's next message starts a fresh run of one.
	f.advance(time.Minute)
	intents, err = f.svc.HandleInbound(inboundFrom("alice@example.com", "thanks, any news?"))
	require.NoError(t, err)
	assert.Equal(t, []string{model.IntentNewMessage}, intentKinds(intents))
}

func TestInactivityEscalatesOnNextMessage(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.HandleInbound(inboundFrom("alice@example.com", "initial report"))
	require.NoError(t, err)

	// Silence beyond the window; the arrival itself triggers the check
	// against the pre-append timestamp.
	f.advance(49 * time.Hour)
	intents, err := f.svc.HandleInbound(inboundFrom("alice@example.com", "any update?"))
	require.NoError(t, err)
	assert.Equal(t, []string{model.IntentEscalationAlert, model.IntentNewMessage}, intentKinds(intents))
}

func TestAlertGateSuppressesRepeatAlerts(t *testing.T) {
	f := newFixture(t)

	intents, err := f.svc.HandleInbound(inboundFrom("alice@example.com", "urgent: server down"))
	require.NoError(t, err)
	assert.Equal(t, []string{model.IntentEscalationAlert, model.IntentNewMessage}, intentKinds(intents))

	// Another urgent message inside the interval alerts nobody twice.
	f.advance(10 * time.Minute)
	intents, err = f.svc.HandleInbound(inboundFrom("alice@example.com", "urgent: still down"))
	require.NoError(t, err)
	assert.Equal(t, []string{model.IntentNewMessage}, intentKinds(intents))

	// Past the interval the alert fires again.
	f.advance(61 * time.Minute)
	intents, err = f.svc.HandleInbound(inboundFrom("alice@example.com", "urgent: help"))
	require.NoError(t, err)
	assert.Equal(t, []string{model.IntentEscalationAlert, model.IntentNewMessage}, intentKinds(intents))
}

func TestAdminClosureByCaseRef(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.HandleInbound(inboundFrom("alice@example.com", "broken again"))
	require.NoError(t, err)

	open, err := f.repo.OpenCases()
	require.NoError(t, err)
	require.Len(t, open, 1)
	caseID := open[0].CaseID

	f.advance(time.Hour)
	intents, err := f.svc.HandleInbound(inboundFrom("admin@example.com", "Fixed. Case closed. "+caseID))
	require.NoError(t, err)
	require.Len(t, intents, 1)
	assert.Equal(t, model.IntentClosureLog, intents[0].Kind)
	assert.Equal(t, caseID, intents[0].CaseID)
	assert.Contains(t, intents[0].Text, caseID)

	open, err = f.repo.OpenCases()
	require.NoError(t, err)
	assert.Empty(t, open)

	// Customer's next contact opens a brand-new case.
	f.advance(time.Hour)
	_, err = f.svc.HandleInbound(inboundFrom("alice@example.com", "it broke again"))
	require.NoError(t, err)

	open, err = f.repo.OpenCases()
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.NotEqual(t, caseID, open[0].CaseID)
	assert.Equal(t, 1, open[0].MessageCount)
}

func TestAmbiguousClosureIsIgnored(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.HandleInbound(inboundFrom("alice@example.com", "help"))
	require.NoError(t, err)

	// No case reference anywhere: the closure is dropped, not guessed.
	intents, err := f.svc.HandleInbound(inboundFrom("admin@example.com", "I'm closing this case."))
	require.NoError(t, err)
	assert.Empty(t, intents)

	open, err := f.repo.OpenCases()
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestClosureOfClosedCaseIsNoOp(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.HandleInbound(inboundFrom("alice@example.com", "help"))
	require.NoError(t, err)
	open, err := f.repo.OpenCases()
	require.NoError(t, err)
	caseID := open[0].CaseID

	_, err = f.svc.HandleInbound(inboundFrom("admin@example.com", "Case closed. "+caseID))
	require.NoError(t, err)

	intents, err := f.svc.HandleInbound(inboundFrom("admin@example.com", "Case closed. "+caseID))
	require.NoError(t, err)
	assert.Empty(t, intents)
}

func TestClosureViaListenerCaseRef(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.HandleInbound(inboundFrom("alice@example.com", "help"))
	require.NoError(t, err)
	open, err := f.repo.OpenCases()
	require.NoError(t, err)
	caseID := open[0].CaseID

	msgSeq++
	intents, err := f.svc.HandleInbound(model.InboundMessage{
		ExternalID: fmt.Sprintf("msg-%d", msgSeq),
		Source:     model.SourceChat,
		Sender:     "UADMIN",
		Body:       "Case closed.",
		CaseRef:    caseID,
	})
	require.NoError(t, err)
	require.Len(t, intents, 1)
	assert.Equal(t, model.IntentClosureLog, intents[0].Kind)
}

func TestEscalatedCaseClosureStillWorks(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.HandleInbound(inboundFrom("alice@example.com", "urgent!"))
	require.NoError(t, err)
	open, err := f.repo.OpenCases()
	require.NoError(t, err)
	require.True(t, open[0].Escalated)

	intents, err := f.svc.HandleInbound(inboundFrom("admin@example.com", "Case closed. "+open[0].CaseID))
	require.NoError(t, err)
	require.Len(t, intents, 1)
	assert.Equal(t, model.IntentClosureLog, intents[0].Kind)
}

func TestSweepEscalatesSilentCases(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.HandleInbound(inboundFrom("alice@example.com", "initial"))
	require.NoError(t, err)
	f.advance(time.Minute)
	_, err = f.svc.HandleInbound(inboundFrom("bob@example.com", "also initial"))
	require.NoError(t, err)

	// Nothing stale yet.
	intents, err := f.svc.RunEscalationSweep()
	require.NoError(t, err)
	assert.Empty(t, intents)

	f.advance(49 * time.Hour)
	intents, err = f.svc.RunEscalationSweep()
	require.NoError(t, err)
	assert.Len(t, intents, 2)
	for _, intent := range intents {
		assert.Equal(t, model.IntentEscalationAlert, intent.Kind)
	}

	// An immediate second sweep is gated.
	intents, err = f.svc.RunEscalationSweep()
	require.NoError(t, err)
	assert.Empty(t, intents)

	// Past the alert interval, still-open cases re-alert.
	f.advance(61 * time.Minute)
	intents, err = f.svc.RunEscalationSweep()
	require.NoError(t, err)
	assert.Len(t, intents, 2)
}

func TestSweepSkipsClosedCases(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.HandleInbound(inboundFrom("alice@example.com", "initial"))
	require.NoError(t, err)
	open, err := f.repo.OpenCases()
	require.NoError(t, err)
	_, err = f.svc.HandleInbound(inboundFrom("admin@example.com", "Case closed. "+open[0].CaseID))
	require.NoError(t, err)

	f.advance(72 * time.Hour)
	intents, err := f.svc.RunEscalationSweep()
	require.NoError(t, err)
	assert.Empty(t, intents)
}

func TestFullLifecycle(t *testing.T) {
	f := newFixture(t)

	// First contact opens a case.
	intents, err := f.svc.HandleInbound(inboundFrom("alice@example.com", "Hi, need help"))
	require.NoError(t, err)
	assert.Equal(t, []string{model.IntentNewMessage}, intentKinds(intents))

	open, err := f.repo.OpenCases()
	require.NoError(t, err)
	require.Len(t, open, 1)
	firstCase := open[0].CaseID
	assert.Equal(t, 1, open[0].MessageCount)
	assert.False(t, open[0].Escalated)

	// Urgent follow-up escalates the same case.
	f.advance(time.Minute)
	intents, err = f.svc.HandleInbound(inboundFrom("alice@example.com", "urgent issue"))
	require.NoError(t, err)
	assert.Equal(t, []string{model.IntentEscalationAlert, model.IntentNewMessage}, intentKinds(intents))

	open, err = f.repo.OpenCases()
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, firstCase, open[0].CaseID)
	assert.Equal(t, 2, open[0].MessageCount)
	assert.True(t, open[0].Escalated)

	// Admin closes it.
	f.advance(time.Minute)
	intents, err = f.svc.HandleInbound(inboundFrom("admin@example.com", "I'm closing this case. "+firstCase))
	require.NoError(t, err)
	assert.Equal(t, []string{model.IntentClosureLog}, intentKinds(intents))

	closed, err := f.repo.FindCaseByID(firstCase)
	require.NoError(t, err)
	assert.Equal(t, model.StatusClosed, closed.Status)
	assert.NotNil(t, closed.ClosedAt)

	// Same customer's next contact opens a distinct case.
	f.advance(time.Minute)
	_, err = f.svc.HandleInbound(inboundFrom("alice@example.com", "new problem"))
	require.NoError(t, err)

	open, err = f.repo.OpenCases()
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.NotEqual(t, firstCase, open[0].CaseID)
}

func TestEmailSenderIsNormalized(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.HandleInbound(inboundFrom("Alice@Example.COM", "hello"))
	require.NoError(t, err)
	_, err = f.svc.HandleInbound(inboundFrom("alice@example.com", "hello again"))
	require.NoError(t, err)

	open, err := f.repo.OpenCases()
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "alice@example.com", open[0].CustomerIdentifier)
	assert.Equal(t, 2, open[0].MessageCount)
}
