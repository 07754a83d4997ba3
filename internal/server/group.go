// Package server coordinates member registration, message broadcast, and
// connection cleanup for one delivery group via the Group type.
package server

import (
	"encoding/json"
	"log"
	"strings"
	"sync"
)

// Group is the registry for one delivery domain. It maps live connections to
// usernames, enforces case-insensitive username uniqueness, and fans
// messages out to every member. All operations are safe for concurrent use.
type Group struct {
	name    string
	mu      sync.Mutex
	members map[Conn]string
	order   []Conn
}

// NewGroup creates an empty group with the given name. The name only appears
// in log lines.
func NewGroup(name string) *Group {
	return &Group{
		name:    name,
		members: make(map[Conn]string),
	}
}

// Name returns the group's log name.
func (g *Group) Name() string {
	return g.name
}

// Register inserts conn under username unless another member already holds a
// name equal under case-insensitive comparison. It returns false on
// collision, in which case the caller must reject the handshake.
func (g *Group) Register(conn Conn, username string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, existing := range g.members {
		if strings.EqualFold(existing, username) {
			return false
		}
	}

	g.members[conn] = username
	g.order = append(g.order, conn)
	return true
}

// Unregister removes conn and returns the username it held. It is
// idempotent: a second call for the same conn reports false, which lets a
// session finalization racing a broadcast-side removal stay silent.
func (g *Group) Unregister(conn Conn) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	username, ok := g.members[conn]
	if !ok {
		return "", false
	}

	delete(g.members, conn)
	for i, c := range g.order {
		if c == conn {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	return username, true
}

// Usernames returns the current member names in registration order.
func (g *Group) Usernames() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	names := make([]string, 0, len(g.order))
	for _, conn := range g.order {
		names = append(names, g.members[conn])
	}
	return names
}

// Count returns the number of registered members.
func (g *Group) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return len(g.members)
}

// Broadcast serializes msg once and writes it to every member except
// exclude. The member list is snapshotted under the lock and the writes
// happen after releasing it, so one slow peer never stalls registration. A
// member whose write fails is removed and closed, and delivery to the rest
// continues.
func (g *Group) Broadcast(msg any, exclude Conn) {
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Error encoding broadcast for group %s: %v", g.name, err)
		return
	}

	var failed []Conn
	for _, conn := range g.snapshot() {
		if conn == exclude {
			continue
		}
		if err := conn.WriteLine(payload); err != nil {
			if !isExpectedCloseError(err) {
				log.Printf("Error writing to %s in group %s: %v", conn.RemoteAddr(), g.name, err)
			}
			failed = append(failed, conn)
		}
	}

	g.removeFailed(failed)
}

func (g *Group) snapshot() []Conn {
	g.mu.Lock()
	defer g.mu.Unlock()

	conns := make([]Conn, len(g.order))
	copy(conns, g.order)
	return conns
}

// removeFailed treats members that failed a write as implicitly
// disconnected. Closing the conn unblocks the victim's read loop; its own
// finalization then finds the registry entry already gone.
func (g *Group) removeFailed(failed []Conn) {
	for _, conn := range failed {
		if username, ok := g.Unregister(conn); ok {
			log.Printf("Removed %s from group %s after write failure", username, g.name)
		}
		_ = conn.Close()
	}
}
