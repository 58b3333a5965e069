package manager

import (
	"fmt"
	"time"

	"github.com/srg/bluest/node"
)

// EventType classifies manager events.
type EventType int

const (
	EventDiscoveryStarted EventType = iota
	EventDiscoveryStopped
	// EventNodeDiscovered is emitted for a node seen for the first time or
	// back in range after being Lost or Unreachable.
	EventNodeDiscovered
	// EventNodeUpdated is emitted for every other advertisement.
	EventNodeUpdated
	// EventNodeLost is emitted when an Idle node stops advertising.
	EventNodeLost
	// EventNodeRemoved is emitted when a node leaves the manager.
	EventNodeRemoved
)

var eventTypeNames = [...]string{
	EventDiscoveryStarted: "discovery started",
	EventDiscoveryStopped: "discovery stopped",
	EventNodeDiscovered:   "node discovered",
	EventNodeUpdated:      "node updated",
	EventNodeLost:         "node lost",
	EventNodeRemoved:      "node removed",
}

func (t EventType) String() string {
	if t >= 0 && int(t) < len(eventTypeNames) {
		return eventTypeNames[t]
	}
	return fmt.Sprintf("EventType(%d)", int(t))
}

// Event is one discovery notification. Node is nil for discovery changes.
type Event struct {
	Type EventType
	Node *node.Node
	At   time.Time
}

func (e Event) String() string {
	if e.Node == nil {
		return e.Type.String()
	}
	return e.Type.String() + ": " + e.Node.FriendlyName()
}

// Listener receives manager events on the manager's dispatch lane.
type Listener interface {
	OnEvent(m *Manager, e Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(m *Manager, e Event)

func (fn ListenerFunc) OnEvent(m *Manager, e Event) { fn(m, e) }
