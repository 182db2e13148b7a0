package ws

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/EthanQC/chat-relay/services/relay_service/internal/domain/entity"
)

// detached 客户端只用来测试 hub 的记录，不挂 socket
func detachedClient(id entity.ConnectionID, buffer int) *Client {
	return &Client{
		id:   id,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

func drain(t *testing.T, c *Client) []Frame {
	t.Helper()
	var frames []Frame
	for {
		select {
		case raw := <-c.send:
			var f Frame
			require.NoError(t, json.Unmarshal(raw, &f))
			frames = append(frames, f)
		default:
			return frames
		}
	}
}

func TestHubGroups(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t))
	a, b, c := detachedClient("a", 8), detachedClient("b", 8), detachedClient("c", 8)
	h.Add(a)
	h.Add(b)
	h.Add(c)

	h.AddToGroup("a", "conversation_1")
	h.AddToGroup("b", "conversation_1")
	h.AddToGroup("b", "conversation_1")
	h.AddToGroup("ghost", "conversation_1")

	require.NoError(t, h.EmitToGroup("conversation_1", entity.EventUserTyping, entity.UserTypingPayload{UserID: "u", IsTyping: true}))
	require.Len(t, drain(t, a), 1)
	got := drain(t, b)
	require.Len(t, got, 1)
	require.Equal(t, entity.EventUserTyping, got[0].Event)
	require.JSONEq(t, `{"userId":"u","isTyping":true}`, string(got[0].Data))
	require.Empty(t, drain(t, c))

	h.RemoveFromGroup("a", "conversation_1")
	h.RemoveFromGroup("c", "conversation_1")
	require.NoError(t, h.EmitToGroup("conversation_1", entity.EventUserTyping, nil))
	require.Empty(t, drain(t, a))
	require.Len(t, drain(t, b), 1)

	require.NoError(t, h.EmitToGroup("nobody", entity.EventUserTyping, nil))
}

func TestHubBroadcastExceptAndUnicast(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t))
	a1, a2, b := detachedClient("a1", 8), detachedClient("a2", 8), detachedClient("b", 8)
	h.Add(a1)
	h.Add(a2)
	h.Add(b)
	h.AddToGroup("a1", "user_a")
	h.AddToGroup("a2", "user_a")

	require.NoError(t, h.BroadcastExcept("user_a", entity.EventUserStatus, entity.UserStatusPayload{UserID: "a"}))
	require.Empty(t, drain(t, a1))
	require.Empty(t, drain(t, a2))
	require.Len(t, drain(t, b), 1)

	require.NoError(t, h.EmitToConnection("a2", entity.EventConversationJoined, entity.ConversationJoinedPayload{ConversationID: "c"}))
	require.Empty(t, drain(t, a1))
	require.Len(t, drain(t, a2), 1)
	require.NoError(t, h.EmitToConnection("ghost", entity.EventConversationJoined, nil))
}

func TestHubRemoveTearsDownGroups(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t))
	a, b := detachedClient("a", 8), detachedClient("b", 8)
	h.Add(a)
	h.Add(b)
	h.AddToGroup("a", "user_a")
	h.AddToGroup("a", "conversation_1")
	h.AddToGroup("b", "conversation_1")

	h.Remove("a")
	require.Equal(t, 1, h.Count())
	require.NoError(t, h.EmitToGroup("conversation_1", entity.EventUserTyping, nil))
	require.Empty(t, drain(t, a))
	require.Len(t, drain(t, b), 1)

	// user_a 只有 a 一个成员
	h.mu.RLock()
	_, ok := h.groups["user_a"]
	h.mu.RUnlock()
	require.False(t, ok)
}

func TestHubClosesSlowClient(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t))
	slow := detachedClient("slow", 1)
	h.Add(slow)

	require.NoError(t, h.EmitToConnection("slow", entity.EventUserTyping, nil))
	require.False(t, slow.IsClosed())
	require.NoError(t, h.EmitToConnection("slow", entity.EventUserTyping, nil))
	require.True(t, slow.IsClosed())
	require.ErrorIs(t, slow.Send([]byte("x")), errClientClosed)
}
