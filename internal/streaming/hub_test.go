package streaming

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeConn struct {
	mu   sync.Mutex
	sent []ServerMessage
	fail bool
}

func (f *fakeConn) WriteJSON(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("broken pipe")
	}
	f.sent = append(f.sent, v.(ServerMessage))
	return nil
}

func (f *fakeConn) messages() []ServerMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ServerMessage, len(f.sent))
	copy(out, f.sent)
	return out
}

func TestHubBroadcastReachesAllWatchers(t *testing.T) {
	hub := NewHub(zap.NewNop())
	c1, c2 := &fakeConn{}, &fakeConn{}
	cl1, cl2 := NewClient(c1, "u1"), NewClient(c2, "u2")
	hub.Register("wf", cl1)
	hub.Register("wf", cl2)

	hub.Broadcast("wf", NewMessage(MessageProgressUpdate, map[string]int{"pct": 40}))

	require.Len(t, c1.messages(), 1)
	require.Len(t, c2.messages(), 1)
	assert.Equal(t, MessageProgressUpdate, c1.messages()[0].Type)
	assert.False(t, c1.messages()[0].Timestamp.IsZero())
}

func TestHubBroadcastIsScopedToWorkflow(t *testing.T) {
	hub := NewHub(zap.NewNop())
	watching, other := &fakeConn{}, &fakeConn{}
	hub.Register("wf-a", NewClient(watching, ""))
	hub.Register("wf-b", NewClient(other, ""))

	hub.Broadcast("wf-a", NewMessage(MessagePong, nil))

	assert.Len(t, watching.messages(), 1)
	assert.Empty(t, other.messages())
}

func TestHubPrunesFailedSocketsAndContinues(t *testing.T) {
	hub := NewHub(zap.NewNop())
	bad, good := &fakeConn{fail: true}, &fakeConn{}
	badClient := NewClient(bad, "")
	hub.Register("wf", badClient)
	hub.Register("wf", NewClient(good, ""))

	hub.Broadcast("wf", NewMessage(MessageProgressUpdate, nil))

	// the healthy watcher still got the message
	assert.Len(t, good.messages(), 1)
	// the broken one is gone
	assert.Equal(t, map[string]int{"wf": 1}, hub.Stats())

	// a second broadcast does not attempt the pruned socket again
	hub.Broadcast("wf", NewMessage(MessageProgressUpdate, nil))
	assert.Len(t, good.messages(), 2)
}

func TestHubUnregisterIsIdempotent(t *testing.T) {
	hub := NewHub(zap.NewNop())
	client := NewClient(&fakeConn{}, "")
	hub.Register("wf", client)

	hub.Unregister("wf", client)
	hub.Unregister("wf", client)

	assert.Empty(t, hub.Stats())
	assert.Equal(t, 0, hub.TotalConnections())
}

func TestHubStats(t *testing.T) {
	hub := NewHub(zap.NewNop())
	hub.Register("wf-a", NewClient(&fakeConn{}, ""))
	hub.Register("wf-a", NewClient(&fakeConn{}, ""))
	hub.Register("wf-b", NewClient(&fakeConn{}, ""))

	assert.Equal(t, map[string]int{"wf-a": 2, "wf-b": 1}, hub.Stats())
	assert.Equal(t, 3, hub.TotalConnections())
}

func TestBroadcastToUnknownWorkflowIsNoop(t *testing.T) {
	hub := NewHub(zap.NewNop())
	hub.Broadcast("ghost", NewMessage(MessageProgressUpdate, nil))
	assert.Empty(t, hub.Stats())
}
