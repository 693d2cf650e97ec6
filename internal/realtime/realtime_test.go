package realtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFanoutReachesEveryBroadcaster(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	f := Fanout{a, b, Nop{}}

	f.EmitToTenant(context.Background(), "t1", EventQueueUpdated, QueueUpdated{ConversationID: "c1", Position: 2})
	f.EmitToAgent(context.Background(), "a1", EventNewAssignment, NewAssignment{ConversationID: "c1"})
	f.EmitToVisitor(context.Background(), "v1", EventQueuePosition, QueuePosition{Position: 2})

	for _, r := range []*Recorder{a, b} {
		events := r.Events()
		require.Len(t, events, 3)
		assert.Equal(t, ScopeTenant, events[0].Scope)
		assert.Equal(t, ScopeAgent, events[1].Scope)
		assert.Equal(t, "v1", events[2].Target)
	}
	assert.Len(t, a.Find(EventQueuePosition), 1)
}

func TestRoutingKey(t *testing.T) {
	assert.Equal(t, "visitor.c9.new_message", RoutingKey(ScopeVisitor, "c9", EventNewMessage))
}
