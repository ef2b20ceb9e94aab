// Package peer drives the offer/answer/candidate exchange for one peer connection.
package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/dkeye/voicelink/internal/core"
	"github.com/dkeye/voicelink/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnectedLocal
	StateAnsweringOffer
	StateConnectedRemote
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnectedLocal:
		return "connected_local"
	case StateAnsweringOffer:
		return "answering_offer"
	case StateConnectedRemote:
		return "connected_remote"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// ConnectionFactory creates the peer connection on first signaling need.
type ConnectionFactory func() (core.PeerConnection, error)

type Stats struct {
	CandidatesAdded  int
	CandidatesFailed int
	CandidatesQueued int
}

type Option func(*Session)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.logger = l.With().Str("module", "peer").Logger() }
}

func WithSink(sink core.RemoteSink) Option {
	return func(s *Session) { s.sink = sink }
}

// Session exclusively owns one peer connection and the local stream attached to it.
type Session struct {
	signal  core.Signaler
	newConn ConnectionFactory
	acquire core.AcquireFunc
	sink    core.RemoteSink
	logger  zerolog.Logger

	mu        sync.Mutex
	state     State
	pc        core.PeerConnection
	local     core.LocalMedia
	remoteSet bool
	pending   []webrtc.ICECandidateInit
	stats     Stats
}

func NewSession(signal core.Signaler, newConn ConnectionFactory, acquire core.AcquireFunc, opts ...Option) *Session {
	s := &Session{
		signal:  signal,
		newConn: newConn,
		acquire: acquire,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// ensureConnection must be called with mu held.
func (s *Session) ensureConnection() (core.PeerConnection, error) {
	if s.pc != nil {
		return s.pc, nil
	}
	pc, err := s.newConn()
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	pc.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		s.signal.Send(domain.EventCandidate, ci)
	})
	pc.OnTrack(func(track *webrtc.TrackRemote) {
		if s.sink != nil {
			s.sink.Bind(track)
		}
	})
	pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		s.logger.Debug().Str("peer_connection_state", st.String()).Msg("connection state")
	})
	s.pc = pc
	return pc, nil
}

// attachLocal must be called with mu held.
func (s *Session) attachLocal(ctx context.Context, pc core.PeerConnection) error {
	if s.local == nil {
		local, err := s.acquire(ctx)
		if err != nil {
			return fmt.Errorf("acquire local media: %w", err)
		}
		s.local = local
	}
	return AddLocalTracksOnce(pc, s.local)
}

// AddLocalTracksOnce attaches every track of stream not already present in
// the sender set.
func AddLocalTracksOnce(pc core.PeerConnection, stream core.LocalMedia) error {
	existing := pc.SenderTracks()
	for _, track := range stream.Tracks() {
		if slices.Contains(existing, track) {
			continue
		}
		if err := pc.AddTrack(track); err != nil {
			return fmt.Errorf("add track %s: %w", track.ID(), err)
		}
		existing = append(existing, track)
	}
	return nil
}

// CreateOffer starts negotiation. Valid only from Idle; otherwise returns
// ErrAlreadyNegotiating without side effects.
func (s *Session) CreateOffer(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateIdle:
	case StateClosed:
		return domain.ErrClosed
	default:
		return fmt.Errorf("%w: state %s", domain.ErrAlreadyNegotiating, s.state)
	}

	pc, err := s.ensureConnection()
	if err != nil {
		return err
	}
	if err := s.attachLocal(ctx, pc); err != nil {
		return err
	}
	offer, err := pc.CreateOffer()
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	s.state = StateConnecting
	s.signal.Send(domain.EventOffer, offer)
	if err := pc.SetLocalDescription(offer); err != nil {
		return s.rollback(fmt.Errorf("set local description: %w", err))
	}
	s.logger.Info().Msg("offer sent")
	return nil
}

// HandleSignal routes an inbound envelope by its event tag. Negotiation
// errors are logged; the session keeps running.
func (s *Session) HandleSignal(ctx context.Context, env domain.SignalEnvelope) {
	var err error
	switch env.Event {
	case domain.EventOffer:
		err = s.handleOffer(ctx, env.Data)
	case domain.EventAnswer:
		err = s.handleAnswer(env.Data)
	case domain.EventCandidate:
		err = s.handleCandidate(env.Data)
	default:
		err = fmt.Errorf("%w: %q", domain.ErrUnknownEvent, env.Event)
	}
	if err != nil {
		s.logger.Error().Err(err).Str("event", string(env.Event)).Msg("signal handling failed")
	}
}

func (s *Session) handleOffer(ctx context.Context, data json.RawMessage) error {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(data, &offer); err != nil {
		return fmt.Errorf("bad offer payload: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return fmt.Errorf("%w: offer in state %s", domain.ErrAlreadyNegotiating, s.state)
	}
	pc, err := s.ensureConnection()
	if err != nil {
		return err
	}
	s.state = StateAnsweringOffer
	if err := pc.SetRemoteDescription(offer); err != nil {
		return s.rollback(fmt.Errorf("set remote description: %w", err))
	}
	s.remoteSet = true
	s.flushCandidates(pc)

	if err := s.attachLocal(ctx, pc); err != nil {
		return s.rollback(err)
	}
	answer, err := pc.CreateAnswer()
	if err != nil {
		return s.rollback(fmt.Errorf("create answer: %w", err))
	}
	s.signal.Send(domain.EventAnswer, answer)
	if err := pc.SetLocalDescription(answer); err != nil {
		return s.rollback(fmt.Errorf("set local description: %w", err))
	}
	s.state = StateConnectedRemote
	s.logger.Info().Msg("answer sent")
	return nil
}

// rollback returns a half-negotiated session to Idle so the next offer can
// start over. Must be called with mu held.
func (s *Session) rollback(err error) error {
	s.logger.Warn().Err(err).Str("from", s.state.String()).Msg("negotiation rolled back")
	s.state = StateIdle
	return err
}

func (s *Session) handleAnswer(data json.RawMessage) error {
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(data, &answer); err != nil {
		return fmt.Errorf("bad answer payload: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateConnecting || s.pc == nil {
		return fmt.Errorf("unexpected answer in state %s", s.state)
	}
	if err := s.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	s.remoteSet = true
	s.state = StateConnectedLocal
	s.flushCandidates(s.pc)
	s.logger.Info().Msg("answer applied")
	return nil
}

func (s *Session) handleCandidate(data json.RawMessage) error {
	var ci webrtc.ICECandidateInit
	if err := json.Unmarshal(data, &ci); err != nil {
		return fmt.Errorf("bad candidate payload: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return domain.ErrClosed
	}
	pc, err := s.ensureConnection()
	if err != nil {
		return err
	}
	if !s.remoteSet {
		s.pending = append(s.pending, ci)
		s.stats.CandidatesQueued++
		return nil
	}
	s.addCandidate(pc, ci)
	return nil
}

// flushCandidates must be called with mu held.
func (s *Session) flushCandidates(pc core.PeerConnection) {
	pending := s.pending
	s.pending = nil
	for _, ci := range pending {
		s.addCandidate(pc, ci)
	}
}

// addCandidate must be called with mu held. A failure is recorded, never propagated.
func (s *Session) addCandidate(pc core.PeerConnection, ci webrtc.ICECandidateInit) {
	if err := pc.AddICECandidate(ci); err != nil {
		s.stats.CandidatesFailed++
		s.logger.Warn().Err(err).Str("candidate", ci.Candidate).Msg("add ice candidate")
		return
	}
	s.stats.CandidatesAdded++
}

// Close tears the session down. Every step is attempted even if an earlier one fails.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return nil
	}
	s.state = StateClosed

	var errs []error
	if s.pc != nil {
		if err := s.pc.StopSenders(); err != nil {
			s.logger.Error().Err(err).Msg("stop senders")
			errs = append(errs, err)
		}
		if err := s.pc.Close(); err != nil {
			s.logger.Error().Err(err).Msg("close peer connection")
			errs = append(errs, err)
		}
		s.pc = nil
	}
	if s.local != nil {
		s.local.Stop()
		s.local = nil
	}
	if s.sink != nil {
		if err := s.sink.Close(); err != nil {
			s.logger.Error().Err(err).Msg("close sink")
			errs = append(errs, err)
		}
	}
	s.pending = nil
	s.logger.Info().Msg("session closed")
	return errors.Join(errs...)
}
