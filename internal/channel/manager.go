// Package channel owns the WebSocket connection lifecycle for a game
// session: dialing, bounded reconnection, and the event subscription
// registry. All registry mutation and event dispatch run on a single
// goroutine, so releasing a subscription guarantees its handler never
// fires again.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/diceaviator/gamelink/internal/protocol"
)

var (
	// ErrAlreadyConnected is returned by Connect while a connection is
	// live or being established.
	ErrAlreadyConnected = errors.New("channel: already connected or connecting")

	// ErrClosed is returned once the manager has been closed.
	ErrClosed = errors.New("channel: manager closed")
)

const maxReconnectBackoff = 30 * time.Second

// Identity parameterizes the connection with the opaque client identifier
// and session hash provided by deployment configuration.
type Identity struct {
	ClientID    string
	SessionHash string
}

// Config holds transport tunables for the managed connection.
type Config struct {
	Endpoint             string
	HandshakeTimeout     time.Duration
	WriteTimeout         time.Duration
	PongTimeout          time.Duration
	PingInterval         time.Duration
	MaxMessageSize       int64
	MaxReconnectAttempts int
	ReconnectWait        time.Duration
	SendBuffer           int
}

// DefaultConfig returns the default transport configuration for the given
// endpoint URL.
func DefaultConfig(endpoint string) Config {
	return Config{
		Endpoint:             endpoint,
		HandshakeTimeout:     10 * time.Second,
		WriteTimeout:         10 * time.Second,
		PongTimeout:          60 * time.Second,
		PingInterval:         30 * time.Second,
		MaxMessageSize:       64 * 1024,
		MaxReconnectAttempts: 5,
		ReconnectWait:        2 * time.Second,
		SendBuffer:           64,
	}
}

// Handler receives the encrypted data string of a subscribed event.
// Handlers run on the dispatch goroutine and must not block; they must also
// not call Subscribe or Unsubscribe reentrantly.
type Handler func(data string)

// Token identifies a subscription for release.
type Token struct {
	id uuid.UUID
}

// Manager maintains at most one live connection per session.
type Manager struct {
	cfg    Config
	clock  clockwork.Clock
	dialer *websocket.Dialer

	inbox chan command
	done  chan struct{}
	once  sync.Once

	state atomic.Int32
}

type command interface{ isCommand() }

type connectCmd struct {
	identity Identity
	reply    chan error
}
type disconnectCmd struct{ reply chan struct{} }
type emitCmd struct{ env protocol.Envelope }
type subscribeCmd struct {
	event string
	h     Handler
	reply chan Token
}
type unsubscribeCmd struct {
	token Token
	reply chan struct{}
}
type stateSubCmd struct {
	ch    chan StateChange
	reply chan Token
}
type dialDoneMsg struct {
	gen  int
	conn *websocket.Conn
	err  error
}
type connLostMsg struct {
	gen int
	err error
}
type inboundMsg struct {
	gen int
	env protocol.Envelope
}
type retryMsg struct{ gen int }
type closeCmd struct{ reply chan struct{} }

func (connectCmd) isCommand()     {}
func (disconnectCmd) isCommand()  {}
func (emitCmd) isCommand()        {}
func (subscribeCmd) isCommand()   {}
func (unsubscribeCmd) isCommand() {}
func (stateSubCmd) isCommand()    {}
func (dialDoneMsg) isCommand()    {}
func (connLostMsg) isCommand()    {}
func (inboundMsg) isCommand()     {}
func (retryMsg) isCommand()       {}
func (closeCmd) isCommand()       {}

// NewManager creates a manager and starts its run loop. Close releases it.
func NewManager(cfg Config, clock clockwork.Clock) *Manager {
	m := &Manager{
		cfg:   cfg,
		clock: clock,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		inbox: make(chan command, 64),
		done:  make(chan struct{}),
	}
	go m.loop()
	return m
}

// State returns the current connection state.
func (m *Manager) State() ConnectionState {
	return ConnectionState(m.state.Load())
}

// Connect initiates a connection for the given identity. The attempt is
// asynchronous; progress is observable through StateChanges.
func (m *Manager) Connect(identity Identity) error {
	reply := make(chan error, 1)
	if !m.send(connectCmd{identity: identity, reply: reply}) {
		return ErrClosed
	}
	return <-reply
}

// Disconnect tears down the connection and stops any pending retries. The
// manager can connect again afterwards.
func (m *Manager) Disconnect() {
	reply := make(chan struct{}, 1)
	if m.send(disconnectCmd{reply: reply}) {
		<-reply
	}
}

// Emit sends an event with an already-encrypted payload. Emissions before
// the connection is established are dropped with a warning; no delivery
// guarantee is promised.
func (m *Manager) Emit(event, data string) {
	m.send(emitCmd{env: protocol.Envelope{Event: event, Data: data}})
}

// Subscribe registers a handler for an inbound event and returns its
// release token.
func (m *Manager) Subscribe(event string, h Handler) (Token, error) {
	reply := make(chan Token, 1)
	if !m.send(subscribeCmd{event: event, h: h, reply: reply}) {
		return Token{}, ErrClosed
	}
	return <-reply, nil
}

// Unsubscribe releases a subscription. When it returns, the handler is
// guaranteed not to fire again, including for messages received but not yet
// dispatched.
func (m *Manager) Unsubscribe(tok Token) {
	reply := make(chan struct{}, 1)
	if m.send(unsubscribeCmd{token: tok, reply: reply}) {
		<-reply
	}
}

// StateChanges registers a buffered observer for connection state
// transitions. Slow observers miss updates rather than stall the manager.
func (m *Manager) StateChanges(buffer int) (<-chan StateChange, Token, error) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan StateChange, buffer)
	reply := make(chan Token, 1)
	if !m.send(stateSubCmd{ch: ch, reply: reply}) {
		return nil, Token{}, ErrClosed
	}
	return ch, <-reply, nil
}

// Close shuts down the manager and its connection. The manager cannot be
// reused afterwards.
func (m *Manager) Close() {
	m.once.Do(func() {
		reply := make(chan struct{}, 1)
		select {
		case m.inbox <- closeCmd{reply: reply}:
			<-reply
		case <-m.done:
		}
	})
}

func (m *Manager) send(cmd command) bool {
	select {
	case m.inbox <- cmd:
		return true
	case <-m.done:
		return false
	}
}

// loopState is owned by the run loop; nothing outside it may touch these.
type loopState struct {
	state     ConnectionState
	identity  Identity
	subs      map[string]map[uuid.UUID]Handler
	tokens    map[uuid.UUID]string
	stateSubs map[uuid.UUID]chan StateChange

	gen      int
	conn     *websocket.Conn
	stopConn context.CancelFunc
	sendCh   chan protocol.Envelope

	attempts      int
	wantConnected bool
}

func (m *Manager) loop() {
	ls := &loopState{
		state:     StateDisconnected,
		subs:      make(map[string]map[uuid.UUID]Handler),
		tokens:    make(map[uuid.UUID]string),
		stateSubs: make(map[uuid.UUID]chan StateChange),
	}

	for cmd := range m.inbox {
		switch c := cmd.(type) {
		case connectCmd:
			if ls.state != StateDisconnected {
				c.reply <- ErrAlreadyConnected
				break
			}
			ls.identity = c.identity
			ls.wantConnected = true
			ls.attempts = 0
			m.transition(ls, StateConnecting, nil, false)
			m.startDial(ls)
			c.reply <- nil

		case disconnectCmd:
			ls.wantConnected = false
			m.teardownConn(ls)
			if ls.state != StateDisconnected {
				m.transition(ls, StateDisconnected, nil, false)
			}
			c.reply <- struct{}{}

		case emitCmd:
			if ls.state != StateConnected {
				log.Warn().
					Str("event", c.env.Event).
					Str("state", ls.state.String()).
					Msg("dropping emit before connection established")
				break
			}
			select {
			case ls.sendCh <- c.env:
			default:
				log.Warn().Str("event", c.env.Event).Msg("send buffer full, dropping emit")
			}

		case subscribeCmd:
			tok := Token{id: uuid.New()}
			if ls.subs[c.event] == nil {
				ls.subs[c.event] = make(map[uuid.UUID]Handler)
			}
			ls.subs[c.event][tok.id] = c.h
			ls.tokens[tok.id] = c.event
			c.reply <- tok

		case unsubscribeCmd:
			if event, ok := ls.tokens[c.token.id]; ok {
				delete(ls.tokens, c.token.id)
				delete(ls.subs[event], c.token.id)
				if len(ls.subs[event]) == 0 {
					delete(ls.subs, event)
				}
			}
			delete(ls.stateSubs, c.token.id)
			c.reply <- struct{}{}

		case stateSubCmd:
			tok := Token{id: uuid.New()}
			ls.stateSubs[tok.id] = c.ch
			c.reply <- tok

		case dialDoneMsg:
			if c.gen != ls.gen {
				if c.conn != nil {
					c.conn.Close() // stale dial from a torn-down attempt
				}
				break
			}
			if c.err != nil {
				m.handleConnFailure(ls, fmt.Errorf("dial %s: %w", m.cfg.Endpoint, c.err))
				break
			}
			if !ls.wantConnected {
				c.conn.Close()
				break
			}
			m.adoptConn(ls, c.conn)

		case connLostMsg:
			if c.gen != ls.gen {
				break
			}
			m.teardownConn(ls)
			if !ls.wantConnected {
				m.transition(ls, StateDisconnected, c.err, false)
				break
			}
			m.handleConnFailure(ls, c.err)

		case inboundMsg:
			if c.gen != ls.gen {
				break
			}
			for _, h := range ls.subs[c.env.Event] {
				h(c.env.Data)
			}

		case retryMsg:
			if c.gen != ls.gen || !ls.wantConnected || ls.state != StateErrored {
				break
			}
			m.transition(ls, StateConnecting, nil, false)
			m.startDial(ls)

		case closeCmd:
			ls.wantConnected = false
			m.teardownConn(ls)
			m.transition(ls, StateDisconnected, nil, false)
			close(m.done)
			c.reply <- struct{}{}
			return
		}
	}
}

// startDial kicks off an asynchronous dial under a fresh generation.
func (m *Manager) startDial(ls *loopState) {
	ls.gen++
	gen := ls.gen

	u, err := url.Parse(m.cfg.Endpoint)
	if err != nil {
		go m.post(dialDoneMsg{gen: gen, err: fmt.Errorf("parse endpoint: %w", err)})
		return
	}
	q := u.Query()
	q.Set("clientId", ls.identity.ClientID)
	q.Set("hash", ls.identity.SessionHash)
	u.RawQuery = q.Encode()
	target := u.String()

	go func() {
		conn, _, err := m.dialer.Dial(target, nil)
		m.post(dialDoneMsg{gen: gen, conn: conn, err: err})
	}()
}

// adoptConn installs an established connection and starts its pumps.
func (m *Manager) adoptConn(ls *loopState, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(context.Background())
	ls.conn = conn
	ls.stopConn = cancel
	ls.sendCh = make(chan protocol.Envelope, m.cfg.SendBuffer)
	ls.attempts = 0

	conn.SetReadLimit(m.cfg.MaxMessageSize)

	go m.readPump(conn, ls.gen)
	go m.writePump(ctx, conn, ls.sendCh)

	m.transition(ls, StateConnected, nil, false)
}

// teardownConn closes the live connection, if any, and invalidates its
// generation so in-flight transport messages are ignored.
func (m *Manager) teardownConn(ls *loopState) {
	if ls.conn == nil {
		ls.gen++
		return
	}
	ls.stopConn()
	ls.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	ls.conn.Close()
	ls.conn = nil
	ls.stopConn = nil
	ls.sendCh = nil
	ls.gen++
}

// handleConnFailure retries with backoff up to the configured attempt
// bound, then settles in StateDisconnected with the terminal signal.
func (m *Manager) handleConnFailure(ls *loopState, cause error) {
	ls.attempts++
	if ls.attempts > m.cfg.MaxReconnectAttempts {
		log.Error().
			Err(cause).
			Int("attempts", ls.attempts-1).
			Msg("reconnection attempts exhausted")
		ls.wantConnected = false
		m.transition(ls, StateDisconnected, cause, true)
		return
	}

	wait := backoff(m.cfg.ReconnectWait, ls.attempts)
	log.Warn().
		Err(cause).
		Int("attempt", ls.attempts).
		Dur("retry_in", wait).
		Msg("connection failed, retrying")
	m.transition(ls, StateErrored, cause, false)

	gen := ls.gen
	timer := m.clock.NewTimer(wait)
	go func() {
		defer timer.Stop()
		select {
		case <-timer.Chan():
			m.post(retryMsg{gen: gen})
		case <-m.done:
		}
	}()
}

func backoff(base time.Duration, attempt int) time.Duration {
	wait := base << (attempt - 1)
	if wait > maxReconnectBackoff || wait <= 0 {
		return maxReconnectBackoff
	}
	return wait
}

func (m *Manager) transition(ls *loopState, next ConnectionState, cause error, terminal bool) {
	prev := ls.state
	ls.state = next
	m.state.Store(int32(next))

	log.Info().
		Str("from", prev.String()).
		Str("to", next.String()).
		Bool("terminal", terminal).
		Msg("connection state changed")

	change := StateChange{Previous: prev, Current: next, Err: cause, Terminal: terminal}
	for id, ch := range ls.stateSubs {
		select {
		case ch <- change:
		default:
			log.Debug().Str("observer", id.String()).Msg("state observer full, dropping update")
		}
	}
}

// post delivers a transport-side message to the loop unless the manager is
// shutting down.
func (m *Manager) post(cmd command) {
	select {
	case m.inbox <- cmd:
	case <-m.done:
	}
}

// readPump reads frames off the connection and forwards envelopes to the
// loop for dispatch. Frames that are not valid envelopes are dropped.
func (m *Manager) readPump(conn *websocket.Conn, gen int) {
	conn.SetReadDeadline(time.Now().Add(m.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(m.cfg.PongTimeout))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			m.post(connLostMsg{gen: gen, err: err})
			return
		}
		conn.SetReadDeadline(time.Now().Add(m.cfg.PongTimeout))

		var env protocol.Envelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
			log.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}
		m.post(inboundMsg{gen: gen, env: env})
	}
}

// writePump serializes writes and keeps the connection alive with pings.
func (m *Manager) writePump(ctx context.Context, conn *websocket.Conn, sendCh <-chan protocol.Envelope) {
	ticker := m.clock.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case env := <-sendCh:
			raw, err := env.Marshal()
			if err != nil {
				log.Error().Err(err).Str("event", env.Event).Msg("failed to marshal envelope")
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				log.Error().Err(err).Str("event", env.Event).Msg("failed to write frame")
				return
			}

		case <-ticker.Chan():
			conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
