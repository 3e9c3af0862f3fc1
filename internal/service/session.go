package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ICShapy/shapy/internal/audit"
	"github.com/ICShapy/shapy/internal/domain"
	"github.com/ICShapy/shapy/pkg/log"
	"github.com/ICShapy/shapy/pkg/pubsub"
)

// refreshDivisor sets the lock refresh interval as a fraction of the TTL.
const refreshDivisor = 3

// State is the lifecycle stage of a session.
type State int

const (
	StateConnecting State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	default:
		return "closed"
	}
}

// OpenParams identifies a new session.
type OpenParams struct {
	SessionID string
	SceneID   string
	UserID    string // empty for anonymous
}

// Session is the server side of one editing connection. Handle and Close
// are called from the connection's read goroutine; the relay runs on its own.
type Session struct {
	ID      string
	SceneID string
	UserID  string

	engine    *Engine
	transport Transport
	access    domain.Access
	sub       pubsub.Subscription
	logger    zerolog.Logger

	mu     sync.Mutex
	state  State
	joined bool
	held   []string
	isHeld map[string]struct{}

	ready     chan struct{} // closed once private replies are queued
	stop      chan struct{} // closed by Close
	relayDone chan struct{}
	keepalive sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// Open runs the connect transition. Sessions without access are closed with
// 1008 and ErrAccessDenied is returned. On any other error the session has
// already been cleaned up and the caller only needs to drop the connection.
func (e *Engine) Open(ctx context.Context, p OpenParams, t Transport) (*Session, error) {
	s := &Session{
		ID:        p.SessionID,
		SceneID:   p.SceneID,
		UserID:    p.UserID,
		engine:    e,
		transport: t,
		isHeld:    make(map[string]struct{}),
		ready:     make(chan struct{}),
		stop:      make(chan struct{}),
		relayDone: make(chan struct{}),
	}
	ctx = log.WithSession(ctx, p.SceneID, p.SessionID, p.UserID)
	s.logger = log.Ctx(ctx)

	access, err := e.gate.ResolveAccess(ctx, p.SceneID, p.UserID)
	if err != nil {
		s.markClosed()
		return nil, fmt.Errorf("failed to resolve access: %w", err)
	}
	s.access = access

	if !access.CanRead() {
		s.markClosed()
		audit.Log(ctx, audit.ActionDenied, p.UserID, p.SceneID, "scene connection denied")
		if err := t.Close(ClosePolicyViolation, "access denied"); err != nil {
			s.logger.Debug().Err(err).Msg("failed to close denied connection")
		}
		return nil, ErrAccessDenied
	}

	sub, err := e.broadcast.Subscribe(ctx, p.SceneID)
	if err != nil {
		s.markClosed()
		return nil, err
	}
	s.sub = sub
	go s.relay()

	if err := s.activate(ctx); err != nil {
		if cerr := s.Close(ctx); cerr != nil {
			err = errors.Join(err, cerr)
		}
		return nil, err
	}
	return s, nil
}

// activate joins the scene if writable and sends the private replies.
func (s *Session) activate(ctx context.Context) error {
	e := s.engine

	var scene *domain.Scene
	var err error
	if s.access.CanWrite() {
		scene, err = e.scenes.Mutate(ctx, s.SceneID, func(sc *domain.Scene) {
			sc.AddUser(s.UserID)
		})
		if err != nil {
			return fmt.Errorf("failed to join scene: %w", err)
		}
		s.mu.Lock()
		s.joined = true
		s.mu.Unlock()

		if _, err := e.broadcast.Publish(ctx, s.SceneID, domain.NewJoinMessage(s.UserID)); err != nil {
			return err
		}
		audit.Log(ctx, audit.ActionJoin, s.UserID, s.SceneID, "user joined scene")
	} else {
		scene, err = e.scenes.Get(ctx, s.SceneID)
		if err != nil {
			return fmt.Errorf("failed to load scene: %w", err)
		}
		audit.Log(ctx, audit.ActionView, s.UserID, s.SceneID, "viewer connected to scene")
	}

	if err := s.sendPrivate(domain.NewMetaMessage(scene)); err != nil {
		return err
	}

	if s.access.CanWrite() {
		locks, err := e.locks.Holders(ctx, s.SceneID)
		if err != nil {
			return err
		}
		for _, l := range locks {
			if err := s.sendPrivate(domain.NewLockMessage([]string{l.ObjectID}, l.Holder)); err != nil {
				return err
			}
		}
	}

	s.mu.Lock()
	s.state = StateActive
	s.mu.Unlock()
	close(s.ready)

	if ttl := e.locks.TTL(); ttl > 0 && s.access.CanWrite() {
		s.keepalive.Add(1)
		go s.refreshLocks(max(ttl/refreshDivisor, time.Millisecond))
	}

	s.logger.Info().
		Str(log.FieldAccess, s.access.String()).
		Int("users", len(scene.Users)).
		Msg("session active")
	return nil
}

// Access returns the level resolved at connect time.
func (s *Session) Access() domain.Access {
	return s.access
}

// State returns the current lifecycle stage.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// HeldObjects returns the objects this session has locked, in grant order.
func (s *Session) HeldObjects() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.held))
	copy(out, s.held)
	return out
}

// Handle processes one client frame. A returned error is fatal for the
// session: the caller closes the connection, which runs Close.
func (s *Session) Handle(ctx context.Context, raw []byte) error {
	if s.State() != StateActive {
		return ErrSessionClosed
	}
	ctx = log.WithLogger(ctx, s.logger)

	msg, err := domain.ParseInbound(raw)
	if err != nil {
		s.logger.Warn().Err(err).Int("size", len(raw)).Msg("dropping malformed message")
		return nil
	}

	if !s.access.CanWrite() {
		s.logger.Debug().Msg("dropping message from read-only session")
		return nil
	}

	switch m := msg.(type) {
	case domain.NameRequest:
		return s.handleName(ctx, m)
	case domain.LockRequest:
		return s.handleLock(ctx, m)
	case domain.UnlockRequest:
		return s.handleUnlock(ctx, m)
	case domain.Passthrough:
		_, err := s.engine.broadcast.Publish(ctx, s.SceneID, domain.NewRawMessage(m))
		return err
	default:
		return fmt.Errorf("unhandled message %T", msg)
	}
}

func (s *Session) handleName(ctx context.Context, m domain.NameRequest) error {
	_, err := s.engine.scenes.Mutate(ctx, s.SceneID, func(sc *domain.Scene) {
		sc.Name = m.Value
	})
	if err != nil {
		return fmt.Errorf("failed to rename scene: %w", err)
	}

	if _, err := s.engine.broadcast.Publish(ctx, s.SceneID, domain.NewNameMessage(m.Value, s.UserID)); err != nil {
		return err
	}
	audit.LogWithDetail(ctx, audit.ActionRename, s.UserID, s.SceneID, m.Value, "scene renamed")
	return nil
}

func (s *Session) handleLock(ctx context.Context, m domain.LockRequest) error {
	granted := make([]string, 0, len(m.Objects))
	for _, id := range dedupe(m.Objects) {
		ok, err := s.engine.locks.TryLock(ctx, s.SceneID, id, s.UserID)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		granted = append(granted, id)
		s.addHeld(id)
	}

	if _, err := s.engine.broadcast.Publish(ctx, s.SceneID, domain.NewLockMessage(granted, s.UserID)); err != nil {
		return err
	}
	if len(granted) > 0 {
		audit.LogWithDetail(ctx, audit.ActionLock, s.UserID, s.SceneID, audit.Objects(granted), "objects locked")
	}
	return nil
}

func (s *Session) handleUnlock(ctx context.Context, m domain.UnlockRequest) error {
	released := make([]string, 0, len(m.Objects))
	for _, id := range dedupe(m.Objects) {
		if !s.holds(id) {
			continue
		}
		ok, err := s.engine.locks.Unlock(ctx, s.SceneID, id, s.UserID)
		if err != nil {
			return err
		}
		s.removeHeld(id)
		if ok {
			released = append(released, id)
		}
	}

	if _, err := s.engine.broadcast.Publish(ctx, s.SceneID, domain.NewUnlockMessage(released)); err != nil {
		return err
	}
	if len(released) > 0 {
		audit.LogWithDetail(ctx, audit.ActionUnlock, s.UserID, s.SceneID, audit.Objects(released), "objects unlocked")
	}
	return nil
}

// Close runs the teardown transition. Every step runs even if an earlier
// one fails; the failures are joined. Later calls return the first result.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.closeErr = s.close(log.WithLogger(ctx, s.logger))
	})
	return s.closeErr
}

func (s *Session) close(ctx context.Context) error {
	s.mu.Lock()
	s.state = StateClosed
	joined := s.joined
	s.joined = false
	s.mu.Unlock()
	close(s.stop)
	s.keepalive.Wait()

	s.mu.Lock()
	held := s.held
	s.held = nil
	s.isHeld = make(map[string]struct{})
	s.mu.Unlock()

	var errs []error

	if joined {
		if _, err := s.engine.scenes.Mutate(ctx, s.SceneID, func(sc *domain.Scene) {
			sc.RemoveUser(s.UserID)
		}); err != nil {
			errs = append(errs, fmt.Errorf("failed to leave scene: %w", err))
		}
		if _, err := s.engine.broadcast.Publish(ctx, s.SceneID, domain.NewLeaveMessage(s.UserID)); err != nil {
			errs = append(errs, err)
		}
		audit.Log(ctx, audit.ActionLeave, s.UserID, s.SceneID, "user left scene")
	}

	if len(held) > 0 {
		if err := s.engine.locks.ReleaseAll(ctx, s.SceneID, held, s.UserID); err != nil {
			errs = append(errs, err)
		} else {
			audit.LogWithDetail(ctx, audit.ActionRelease, s.UserID, s.SceneID, audit.Objects(held), "locks released on disconnect")
		}
	}

	if s.sub != nil {
		if err := s.sub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to unsubscribe: %w", err))
		}
		select {
		case <-s.relayDone:
		case <-ctx.Done():
			errs = append(errs, ctx.Err())
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		s.logger.Error().Err(err).Msg("session cleanup incomplete")
	} else {
		s.logger.Info().Msg("session closed")
	}
	return err
}

// relay forwards channel traffic to the client once the private replies are
// out. If the subscription ends on its own the connection is closed.
func (s *Session) relay() {
	defer close(s.relayDone)

	select {
	case <-s.ready:
	case <-s.stop:
		return
	}

	for raw := range s.sub.Messages() {
		if !s.access.CanWrite() {
			env, err := domain.PeekEnvelope(raw)
			if err != nil {
				s.logger.Warn().Err(err).Msg("dropping undecodable broadcast")
				continue
			}
			if env.Type == domain.MsgTypeLock || env.Type == domain.MsgTypeUnlock {
				continue
			}
		}

		if err := s.transport.Send(raw); err != nil {
			select {
			case <-s.stop:
				return
			default:
			}
			s.logger.Warn().Err(err).Msg("failed to relay broadcast, closing connection")
			_ = s.transport.Close(CloseInternalError, "failed to deliver scene updates")
			return
		}
	}

	select {
	case <-s.stop:
	default:
		s.logger.Error().Msg("scene subscription ended unexpectedly")
		_ = s.transport.Close(CloseInternalError, "scene channel lost")
	}
}

// refreshLocks extends the expiry of held locks every interval until the
// session closes. Locks that expired anyway are dropped from the held set.
func (s *Session) refreshLocks(interval time.Duration) {
	defer s.keepalive.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}

		held := s.HeldObjects()
		if len(held) == 0 {
			continue
		}

		ctx, cancel := context.WithTimeout(log.WithLogger(context.Background(), s.logger), interval)
		lost, err := s.engine.locks.Refresh(ctx, s.SceneID, held, s.UserID)
		cancel()
		if err != nil {
			select {
			case <-s.stop:
				return
			default:
			}
			s.logger.Error().Err(err).Msg("failed to refresh locks, closing connection")
			_ = s.transport.Close(CloseInternalError, "scene update failed")
			return
		}
		for _, id := range lost {
			s.removeHeld(id)
		}
		if len(lost) > 0 {
			s.logger.Warn().Strs("objects", lost).Msg("held locks expired")
		}
	}
}

func (s *Session) sendPrivate(msg domain.Outbound) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", msg.MessageType(), err)
	}
	if err := s.transport.Send(data); err != nil {
		return fmt.Errorf("failed to send %s: %w", msg.MessageType(), err)
	}
	return nil
}

func (s *Session) markClosed() {
	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
	s.closeOnce.Do(func() {})
}

func (s *Session) holds(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.isHeld[id]
	return ok
}

func (s *Session) addHeld(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.isHeld[id]; ok {
		return
	}
	s.isHeld[id] = struct{}{}
	s.held = append(s.held, id)
}

func (s *Session) removeHeld(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.isHeld[id]; !ok {
		return
	}
	delete(s.isHeld, id)
	for i, h := range s.held {
		if h == id {
			s.held = append(s.held[:i], s.held[i+1:]...)
			break
		}
	}
}

// dedupe drops repeated ids, keeping first occurrences in order.
func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
