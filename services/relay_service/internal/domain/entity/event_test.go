package entity

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseInbound_Join(t *testing.T) {
	ev, err := ParseInbound(EventJoin, json.RawMessage(`"u1"`))
	require.NoError(t, err)
	require.Equal(t, &JoinEvent{UserID: "u1"}, ev)

	ev, err = ParseInbound(EventJoin, json.RawMessage(` {"userId":"u2"}`))
	require.NoError(t, err)
	require.Equal(t, UserID("u2"), ev.(*JoinEvent).UserID)

	for _, raw := range []string{``, `""`, `null`, `42`, `{}`} {
		_, err := ParseInbound(EventJoin, json.RawMessage(raw))
		require.ErrorIs(t, err, ErrMalformedEvent, "payload %q", raw)
	}
}

func TestParseInbound_Valid(t *testing.T) {
	cases := []struct {
		kind EventKind
		raw  string
		want InboundEvent
	}{
		{
			EventJoinConversation,
			`{"conversationId":"c1","userId":"u1"}`,
			&JoinConversationEvent{ConversationID: "c1", UserID: "u1"},
		},
		{
			EventLeaveConversation,
			`{"conversationId":"c1"}`,
			&LeaveConversationEvent{ConversationID: "c1"},
		},
		{
			EventSendMessage,
			`{"recipientId":"u2","message":"hi","senderId":"u1","messageId":"m1","conversationId":"c1"}`,
			&SendMessageEvent{RecipientID: "u2", Message: stringPtr("hi"), SenderID: "u1", MessageID: "m1", ConversationID: "c1"},
		},
		{
			EventMessageRead,
			`{"messageId":"m1","conversationId":"c1","readerId":"u2"}`,
			&MessageReadEvent{MessageID: "m1", ConversationID: "c1", ReaderID: "u2"},
		},
		{
			EventConversationDeleted,
			`{"conversationId":"c1","deletedBy":"u1","otherUserId":"u2"}`,
			&ConversationDeletedEvent{ConversationID: "c1", DeletedBy: "u1", OtherUserID: "u2"},
		},
		{
			EventInvitationSent,
			`{"recipientId":"u2","senderId":"u1","invitationId":"i1"}`,
			&InvitationSentEvent{RecipientID: "u2", SenderID: "u1", InvitationID: "i1"},
		},
		{
			EventInvitationResponded,
			`{"invitationId":"i1","senderId":"u1","recipientId":"u2","status":"rejected"}`,
			&InvitationRespondedEvent{InvitationID: "i1", SenderID: "u1", RecipientID: "u2", Status: InvitationRejected},
		},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			ev, err := ParseInbound(tc.kind, json.RawMessage(tc.raw))
			require.NoError(t, err)
			require.Equal(t, tc.want, ev)
			require.Equal(t, tc.kind, ev.Kind())
		})
	}
}

func TestParseInbound_TypingFalseIsPresent(t *testing.T) {
	ev, err := ParseInbound(EventTyping, json.RawMessage(`{"isTyping":false,"senderId":"u1","conversationId":"c1"}`))
	require.NoError(t, err)
	typing := ev.(*TypingEvent)
	require.NotNil(t, typing.IsTyping)
	require.False(t, *typing.IsTyping)

	_, err = ParseInbound(EventTyping, json.RawMessage(`{"senderId":"u1","conversationId":"c1"}`))
	require.ErrorIs(t, err, ErrMalformedEvent)
}

func stringPtr(s string) *string { return &s }

func TestParseInbound_EmptyMessageIsPresent(t *testing.T) {
	ev, err := ParseInbound(EventSendMessage,
		json.RawMessage(`{"recipientId":"u2","message":"","senderId":"u1","messageId":"m1","conversationId":"c1"}`))
	require.NoError(t, err)
	msg := ev.(*SendMessageEvent)
	require.NotNil(t, msg.Message)
	require.Empty(t, *msg.Message)

	_, err = ParseInbound(EventSendMessage,
		json.RawMessage(`{"recipientId":"u2","message":null,"senderId":"u1","messageId":"m1","conversationId":"c1"}`))
	require.ErrorIs(t, err, ErrMalformedEvent)
}

func TestParseInbound_Rejects(t *testing.T) {
	cases := map[EventKind]string{
		EventJoinConversation:    `{"userId":"u1"}`,
		EventSendMessage:         `{"senderId":"u1","messageId":"m1","conversationId":"c1","recipientId":"u2"}`,
		EventMessageRead:         `{"messageId":"m1"}`,
		EventConversationDeleted: `{"conversationId":"c1","deletedBy":"u1"}`,
		EventInvitationSent:      `{"recipientId":"u2","senderId":"u1"}`,
		EventInvitationResponded: `{"invitationId":"i1","senderId":"u1","recipientId":"u2","status":"maybe"}`,
	}
	for kind, raw := range cases {
		t.Run(string(kind), func(t *testing.T) {
			_, err := ParseInbound(kind, json.RawMessage(raw))
			require.ErrorIs(t, err, ErrMalformedEvent)
		})
	}

	_, err := ParseInbound(EventSendMessage, json.RawMessage(`not json`))
	require.ErrorIs(t, err, ErrMalformedEvent)

	_, err = ParseInbound("shout", json.RawMessage(`{}`))
	require.ErrorIs(t, err, ErrUnknownEvent)
}

func TestGroupsAndTime(t *testing.T) {
	require.Equal(t, "user_u1", UserGroup("u1"))
	require.Equal(t, "conversation_c1", ConversationGroup("c1"))

	at := time.Date(2024, 5, 1, 12, 30, 15, 123456789, time.FixedZone("CEST", 2*3600))
	require.Equal(t, "2024-05-01T10:30:15.123Z", FormatTime(at))
}
