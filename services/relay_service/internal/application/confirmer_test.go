package application

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/EthanQC/chat-relay/services/relay_service/internal/domain/entity"
)

func newTestConfirmer(t *testing.T, delay time.Duration) (*DeliveryConfirmer, *fakeTransport) {
	tr := newFakeTransport()
	tr.Open("sender")
	tr.AddToGroup("sender", entity.UserGroup("alice"))
	d := NewDeliveryConfirmer(tr, delay, zaptest.NewLogger(t))
	t.Cleanup(d.Stop)
	return d, tr
}

func TestConfirmerRescheduleReplaces(t *testing.T) {
	d, tr := newTestConfirmer(t, 40*time.Millisecond)

	d.Schedule("m1", "c1", "alice")
	d.Schedule("m1", "c1", "alice")
	require.Equal(t, 1, d.Pending())

	require.Eventually(t, func() bool { return d.Pending() == 0 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	require.Len(t, tr.Frames("sender", entity.EventMessageStatus), 1)
}

func TestConfirmerCancel(t *testing.T) {
	d, tr := newTestConfirmer(t, 100*time.Millisecond)

	d.Schedule("m1", "c1", "alice")
	d.Schedule("m2", "c1", "bob")
	d.Schedule("m3", "c2", "alice")
	d.Schedule("m4", "c3", "bob")

	require.True(t, d.Cancel("m4"))
	require.False(t, d.Cancel("m4"))
	require.Equal(t, 2, d.CancelConversation("c1"))
	require.Equal(t, 1, d.CancelSender("alice"))
	require.Zero(t, d.CancelSender("alice"))
	require.Zero(t, d.Pending())

	time.Sleep(150 * time.Millisecond)
	require.Empty(t, tr.Frames("sender"))
}

func TestConfirmerStopIgnoresLaterSchedules(t *testing.T) {
	d, tr := newTestConfirmer(t, 20*time.Millisecond)

	d.Schedule("m1", "c1", "alice")
	d.Stop()
	d.Schedule("m2", "c1", "alice")
	require.Zero(t, d.Pending())

	time.Sleep(50 * time.Millisecond)
	require.Empty(t, tr.Frames("sender"))
}
