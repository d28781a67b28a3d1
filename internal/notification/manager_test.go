package notification

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquasentinel/complaint-engine/internal/config"
	"github.com/aquasentinel/complaint-engine/internal/database"
)

type fakeNotificationStore struct {
	mu        sync.Mutex
	created   []*database.Notification
	sent      []string
	failed    map[string]string
	retryable []*database.Notification
}

func newFakeNotificationStore() *fakeNotificationStore {
	return &fakeNotificationStore{failed: map[string]string{}}
}

func (f *fakeNotificationStore) Create(_ context.Context, n *database.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *n
	f.created = append(f.created, &copied)
	return nil
}

func (f *fakeNotificationStore) MarkSent(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, id)
	return nil
}

func (f *fakeNotificationStore) MarkFailed(_ context.Context, id, deliveryErr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[id] = deliveryErr
	return nil
}

// ListRetryable mirrors the repository contract: failed and pending rows
// under the retry cap are both recoverable.
func (f *fakeNotificationStore) ListRetryable(_ context.Context, maxRetries, limit int) ([]*database.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*database.Notification
	for _, n := range f.retryable {
		if n.Retries >= maxRetries {
			continue
		}
		if n.Status != database.NotificationPending && n.Status != database.NotificationFailed {
			continue
		}
		out = append(out, n)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeNotificationStore) byChannel(channel string) []*database.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*database.Notification
	for _, n := range f.created {
		if n.Channel == channel {
			out = append(out, n)
		}
	}
	return out
}

type fakeDirectory struct {
	officers map[string]*database.Officer
	byRole   map[database.Role][]*database.Officer
}

func (f *fakeDirectory) GetByID(_ context.Context, id string) (*database.Officer, error) {
	o, ok := f.officers[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return o, nil
}

func (f *fakeDirectory) ListActiveByRole(_ context.Context, role database.Role) ([]*database.Officer, error) {
	return f.byRole[role], nil
}

type fakeClient struct {
	failures int
	calls    int
	err      error
}

func (f *fakeClient) Send(context.Context, *database.Notification) error {
	f.calls++
	if f.calls <= f.failures {
		if f.err != nil {
			return f.err
		}
		return errors.New("transient send failure")
	}
	return nil
}

func testManagerConfig() config.NotificationsConfig {
	return config.NotificationsConfig{
		Workers: 1,
		Email: config.EmailConfig{
			Enabled:    true,
			MaxRetries: 2,
			RetryDelay: time.Millisecond,
		},
		SMS: config.SMSConfig{Enabled: false},
		Webhook: config.WebhookConfig{
			Enabled:    true,
			MaxRetries: 1,
			RetryDelay: time.Millisecond,
		},
	}
}

func testOfficer() *database.Officer {
	return &database.Officer{
		ID:     "officer-1",
		Email:  "officer@example.com",
		Phone:  "+911234567890",
		Role:   database.RoleOfficer,
		Active: true,
	}
}

func newTestManager(t *testing.T, store *fakeNotificationStore, directory *fakeDirectory) *Manager {
	t.Helper()
	m, err := NewManager(testManagerConfig(), store, directory, nil, slog.Default())
	require.NoError(t, err)
	// Swap the transports for fakes so nothing leaves the test.
	m.clients[ChannelEmail] = &fakeClient{}
	m.clients[ChannelWebhook] = &fakeClient{}
	return m
}

func assignedComplaint() *database.Complaint {
	officerID := "officer-1"
	deadline := time.Date(2026, 3, 13, 12, 0, 0, 0, time.UTC)
	return &database.Complaint{
		ID:                "c-1",
		ComplaintNumber:   "AQS-20260310-00042",
		SubmitterID:       "citizen-1",
		Status:            database.StatusAssigned,
		ViolationType:     database.ViolationConstruction,
		SeverityScore:     82,
		PriorityBand:      database.BandCritical,
		AssignedOfficerID: &officerID,
		SLADeadline:       &deadline,
	}
}

func TestManager_Emit(t *testing.T) {
	t.Run("submitted notifies the citizen in app immediately", func(t *testing.T) {
		store := newFakeNotificationStore()
		m := newTestManager(t, store, &fakeDirectory{})

		m.Emit(context.Background(), "submitted", assignedComplaint())

		inApp := store.byChannel(ChannelInApp)
		require.Len(t, inApp, 1)
		assert.Equal(t, database.RoleCitizen, inApp[0].RecipientRole)
		assert.Equal(t, "citizen-1", *inApp[0].RecipientID)
		assert.Contains(t, inApp[0].Body, "AQS-20260310-00042")
		// In-app rows are sent the moment they exist.
		assert.Equal(t, []string{inApp[0].ID}, store.sent)
	})

	t.Run("assigned notifies citizen and officer", func(t *testing.T) {
		store := newFakeNotificationStore()
		directory := &fakeDirectory{officers: map[string]*database.Officer{"officer-1": testOfficer()}}
		m := newTestManager(t, store, directory)

		m.Emit(context.Background(), "assigned", assignedComplaint())

		inApp := store.byChannel(ChannelInApp)
		require.Len(t, inApp, 2)

		emails := store.byChannel(ChannelEmail)
		require.Len(t, emails, 1)
		assert.Equal(t, "officer@example.com", emails[0].Recipient)
		assert.Contains(t, emails[0].Body, "2026-03-13T12:00:00Z")
	})

	t.Run("officer without an email address gets no email row", func(t *testing.T) {
		store := newFakeNotificationStore()
		officer := testOfficer()
		officer.Email = ""
		directory := &fakeDirectory{officers: map[string]*database.Officer{"officer-1": officer}}
		m := newTestManager(t, store, directory)

		m.Emit(context.Background(), "assigned", assignedComplaint())

		assert.Empty(t, store.byChannel(ChannelEmail))
		assert.Len(t, store.byChannel(ChannelInApp), 2)
	})

	t.Run("pending dispatch notifies every active supervisor", func(t *testing.T) {
		store := newFakeNotificationStore()
		directory := &fakeDirectory{byRole: map[database.Role][]*database.Officer{
			database.RoleSupervisor: {
				{ID: "sup-1", Role: database.RoleSupervisor, Email: "sup1@example.com"},
				{ID: "sup-2", Role: database.RoleSupervisor, Email: "sup2@example.com"},
			},
		}}
		m := newTestManager(t, store, directory)

		c := assignedComplaint()
		c.Status = database.StatusAIProcessed
		c.AssignedOfficerID = nil
		m.Emit(context.Background(), "pending_dispatch", c)

		inApp := store.byChannel(ChannelInApp)
		require.Len(t, inApp, 2)
		assert.Equal(t, database.RoleSupervisor, inApp[0].RecipientRole)
	})

	t.Run("every event records a webhook row when the channel is enabled", func(t *testing.T) {
		store := newFakeNotificationStore()
		m := newTestManager(t, store, &fakeDirectory{})

		m.Emit(context.Background(), "resolved", assignedComplaint())

		hooks := store.byChannel(ChannelWebhook)
		require.Len(t, hooks, 1)
		assert.Equal(t, database.RoleSystem, hooks[0].RecipientRole)
		assert.Equal(t, "resolved", hooks[0].EventKind)
	})
}

func TestManager_EscalationRaised(t *testing.T) {
	record := &database.EscalationRecord{
		ComplaintID:  "c-1",
		FromLevel:    0,
		ToLevel:      1,
		Reason:       "SLA deadline within 24h0m0s",
		NotifiedRole: database.RoleOfficer,
		CreatedAt:    time.Date(2026, 3, 12, 12, 0, 0, 0, time.UTC),
	}

	t.Run("warning goes to the assigned officer over every channel", func(t *testing.T) {
		store := newFakeNotificationStore()
		directory := &fakeDirectory{officers: map[string]*database.Officer{"officer-1": testOfficer()}}
		m := newTestManager(t, store, directory)

		m.EscalationRaised(context.Background(), assignedComplaint(), record, "sla_warning")

		require.Len(t, store.byChannel(ChannelInApp), 1)
		emails := store.byChannel(ChannelEmail)
		require.Len(t, emails, 1)
		assert.Contains(t, emails[0].Subject, "AQS-20260310-00042")
		assert.Contains(t, emails[0].Body, "critical")
		// SMS is disabled; the row is never created.
		assert.Empty(t, store.byChannel(ChannelSMS))
	})

	t.Run("supervisor escalation fans out to the role", func(t *testing.T) {
		store := newFakeNotificationStore()
		directory := &fakeDirectory{byRole: map[database.Role][]*database.Officer{
			database.RoleSupervisor: {{ID: "sup-1", Role: database.RoleSupervisor, Email: "sup1@example.com"}},
		}}
		m := newTestManager(t, store, directory)

		supRecord := *record
		supRecord.ToLevel = 2
		supRecord.NotifiedRole = database.RoleSupervisor
		m.EscalationRaised(context.Background(), assignedComplaint(), &supRecord, "supervisor_escalation")

		require.Len(t, store.byChannel(ChannelInApp), 1)
		emails := store.byChannel(ChannelEmail)
		require.Len(t, emails, 1)
		assert.Contains(t, emails[0].Subject, "past SLA deadline")
		assert.Contains(t, emails[0].Body, "level 2")
	})
}

func TestManager_Deliver(t *testing.T) {
	notif := func() *database.Notification {
		return &database.Notification{
			ID:        "n-1",
			Channel:   ChannelEmail,
			Recipient: "officer@example.com",
			Subject:   "subject",
			Body:      "body",
		}
	}

	t.Run("marks sent on first success", func(t *testing.T) {
		store := newFakeNotificationStore()
		m := newTestManager(t, store, &fakeDirectory{})
		client := &fakeClient{}
		m.clients[ChannelEmail] = client

		m.deliver(context.Background(), notif())

		assert.Equal(t, 1, client.calls)
		assert.Equal(t, []string{"n-1"}, store.sent)
		assert.Empty(t, store.failed)
	})

	t.Run("retries transient failures within the budget", func(t *testing.T) {
		store := newFakeNotificationStore()
		m := newTestManager(t, store, &fakeDirectory{})
		client := &fakeClient{failures: 2}
		m.clients[ChannelEmail] = client

		m.deliver(context.Background(), notif())

		// MaxRetries 2 allows three attempts in total.
		assert.Equal(t, 3, client.calls)
		assert.Equal(t, []string{"n-1"}, store.sent)
	})

	t.Run("marks failed when the budget is exhausted", func(t *testing.T) {
		store := newFakeNotificationStore()
		m := newTestManager(t, store, &fakeDirectory{})
		client := &fakeClient{failures: 10, err: errors.New("mailbox unavailable")}
		m.clients[ChannelEmail] = client

		m.deliver(context.Background(), notif())

		assert.Equal(t, 3, client.calls)
		assert.Empty(t, store.sent)
		assert.Equal(t, "mailbox unavailable", store.failed["n-1"])
	})
}

func TestManager_RequeuePending(t *testing.T) {
	store := newFakeNotificationStore()
	store.retryable = []*database.Notification{
		// Recorded before a crash or dropped on queue overflow, never delivered.
		{ID: "n-1", Channel: ChannelEmail, Recipient: "officer@example.com", Status: database.NotificationPending},
		{ID: "n-2", Channel: ChannelEmail, Recipient: "officer@example.com", Status: database.NotificationFailed, Retries: 1},
		{ID: "n-3", Channel: ChannelInApp, Status: database.NotificationPending},
		// Exhausted rows stay failed.
		{ID: "n-4", Channel: ChannelEmail, Recipient: "officer@example.com", Status: database.NotificationFailed, Retries: 2},
	}
	m := newTestManager(t, store, &fakeDirectory{})
	client := &fakeClient{}
	m.clients[ChannelEmail] = client

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)

	assert.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.sent) == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	m.Stop()

	store.mu.Lock()
	defer store.mu.Unlock()
	// Both the stranded pending row and the retryable failed row got delivered.
	assert.ElementsMatch(t, []string{"n-1", "n-2"}, store.sent)
	// In-app rows never travel through the delivery queue, and rows at the
	// retry cap are left alone.
	assert.Equal(t, 2, client.calls)
}
