// Package server drives the per-connection session state machine: handshake,
// message loop, timeouts, and exactly-once cleanup.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"sync"
	"time"
)

// Relay bundles the shared state every session consults: the two group
// registries, the username validator, and the rate limiter. One Relay is
// built at startup and injected into the TCP listener and the WebSocket
// gateway, so both transports feed the same groups.
type Relay struct {
	Encrypted   *Group
	Unencrypted *Group
	Validator   *UsernameValidator
	Limiter     *RateLimiter

	HandshakeTimeout time.Duration
	IdleTimeout      time.Duration
}

// NewRelay creates the shared relay core from cfg.
func NewRelay(cfg *Config) *Relay {
	return &Relay{
		Encrypted:        NewGroup("encrypted"),
		Unencrypted:      NewGroup("unencrypted"),
		Validator:        NewUsernameValidator(cfg.MaxUsernameLength),
		Limiter:          NewRateLimiter(cfg.RateLimit, cfg.RateWindow()),
		HandshakeTimeout: cfg.HandshakeTimeout(),
		IdleTimeout:      cfg.IdleTimeout(),
	}
}

func (r *Relay) group(encrypted bool) *Group {
	if encrypted {
		return r.Encrypted
	}
	return r.Unencrypted
}

// NewSession creates a session serving conn. The caller runs it with Run.
func (r *Relay) NewSession(conn Conn) *Session {
	return &Session{relay: r, conn: conn}
}

// Session is the state machine for one client connection. It owns all reads
// and direct replies on its conn; broadcast writes from other sessions are
// serialized by the conn itself.
type Session struct {
	relay *Relay
	conn  Conn

	// username and group are set exactly once, on handshake success.
	username string
	group    *Group

	finalizeOnce sync.Once
}

// Run drives the session to completion: handshake, then the message loop.
// Cleanup runs exactly once on every exit path, including panics in the
// loop, via the deferred finalize.
func (s *Session) Run() {
	defer s.finalize()

	if !s.handshake() {
		return
	}
	s.messageLoop()
}

// handshake reads and validates the first frame. It returns true once the
// session is registered in its group and announced; any failure leaves the
// session unregistered and reports false.
func (s *Session) handshake() bool {
	line, err := s.conn.ReadLine(time.Now().Add(s.relay.HandshakeTimeout))
	if err != nil {
		s.logReadError("", err)
		return false
	}

	var hs Handshake
	if err := json.Unmarshal(line, &hs); err != nil {
		log.Printf("Malformed handshake from %s: %v", s.conn.RemoteAddr(), err)
		return false
	}
	if hs.Username == nil {
		log.Printf("Handshake from %s missing username", s.conn.RemoteAddr())
		return false
	}

	username, err := s.relay.Validator.Validate(*hs.Username)
	if err != nil {
		s.send(systemText(err.Error()))
		return false
	}

	encrypted := hs.Encrypted == nil || *hs.Encrypted
	group := s.relay.group(encrypted)
	if !group.Register(s.conn, username) {
		s.send(systemText("Username already in use"))
		return false
	}

	s.username = username
	s.group = group

	s.send(systemText("Connected as " + username))
	group.Broadcast(systemText(username+" joined"), s.conn)
	group.Broadcast(presenceMessage(group.Usernames()), nil)

	log.Printf("%s joined group %s from %s", username, group.Name(), s.conn.RemoteAddr())
	return true
}

// messageLoop relays chat frames until the peer disconnects or stays silent
// past the idle timeout. A malformed frame never closes an established
// session; it is dropped and the loop continues.
func (s *Session) messageLoop() {
	for {
		line, err := s.conn.ReadLine(time.Now().Add(s.relay.IdleTimeout))
		if err != nil {
			s.logReadError(s.username, err)
			return
		}

		var msg ChatMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			log.Printf("Ignoring malformed message from %s: %v", s.username, err)
			continue
		}

		if !s.relay.Limiter.Allow(s.username, time.Now()) {
			log.Printf("Rate limit exceeded for %s; dropping message", s.username)
			s.send(systemText("Rate limit exceeded, message dropped"))
			continue
		}

		// Re-serialize to normalize the frame; the payload string itself is
		// relayed untouched.
		s.group.Broadcast(msg, s.conn)
	}
}

// finalize tears the session down exactly once, no matter which transition
// triggered it. A departure is only announced if this session still held its
// registry entry; a broadcast-side removal racing us keeps the group from
// hearing about the same peer twice.
func (s *Session) finalize() {
	s.finalizeOnce.Do(func() {
		if s.group != nil {
			if username, ok := s.group.Unregister(s.conn); ok {
				s.relay.Limiter.Forget(username)
				s.group.Broadcast(systemText(username+" left"), nil)
				s.group.Broadcast(presenceMessage(s.group.Usernames()), nil)
				log.Printf("%s left group %s", username, s.group.Name())
			}
		}
		_ = s.conn.Close()
	})
}

// send writes one system message directly to this session's peer. Write
// failures are logged and otherwise ignored; the read side will observe the
// dead connection and end the session.
func (s *Session) send(msg SystemMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Error encoding system message for %s: %v", s.conn.RemoteAddr(), err)
		return
	}
	if err := s.conn.WriteLine(payload); err != nil && !isExpectedCloseError(err) {
		log.Printf("Error writing to %s: %v", s.conn.RemoteAddr(), err)
	}
}

func (s *Session) logReadError(who string, err error) {
	if who == "" {
		who = s.conn.RemoteAddr()
	}
	var netErr net.Error
	switch {
	case errors.Is(err, io.EOF):
		log.Printf("Client %s disconnected", who)
	case errors.As(err, &netErr) && netErr.Timeout():
		log.Printf("Client %s timed out", who)
	case isExpectedCloseError(err):
		log.Printf("Client %s connection closed", who)
	default:
		log.Printf("Read error from %s: %v", who, err)
	}
}
