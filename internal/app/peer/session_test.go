package peer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/dkeye/voicelink/internal/core"
	"github.com/dkeye/voicelink/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	event domain.SignalEvent
	data  any
}

type fakeSignaler struct {
	mu   sync.Mutex
	sent []sent
}

func (f *fakeSignaler) Send(event domain.SignalEvent, data any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{event, data})
}

func (f *fakeSignaler) events() []domain.SignalEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.SignalEvent, 0, len(f.sent))
	for _, s := range f.sent {
		out = append(out, s.event)
	}
	return out
}

type fakePC struct {
	mu          sync.Mutex
	calls       []string
	senders     []webrtc.TrackLocal
	remoteSet   bool
	candidates  []webrtc.ICECandidateInit
	onICE       func(webrtc.ICECandidateInit)
	onTrack     func(*webrtc.TrackRemote)
	stopErr     error
	closeErr    error
	closed      bool
	rejectEmpty bool
	answerErr   error
	localErr    error
	remoteErr   error
}

func (f *fakePC) record(c string) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
}

func (f *fakePC) AddTrack(t webrtc.TrackLocal) error {
	f.record("add_track")
	f.senders = append(f.senders, t)
	return nil
}

func (f *fakePC) SenderTracks() []webrtc.TrackLocal {
	return append([]webrtc.TrackLocal(nil), f.senders...)
}

func (f *fakePC) CreateOffer() (webrtc.SessionDescription, error) {
	f.record("create_offer")
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-sdp"}, nil
}

func (f *fakePC) CreateAnswer() (webrtc.SessionDescription, error) {
	f.record("create_answer")
	if f.answerErr != nil {
		return webrtc.SessionDescription{}, f.answerErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-sdp"}, nil
}

func (f *fakePC) SetLocalDescription(webrtc.SessionDescription) error {
	f.record("set_local")
	return f.localErr
}

func (f *fakePC) SetRemoteDescription(webrtc.SessionDescription) error {
	f.record("set_remote")
	if f.remoteErr != nil {
		return f.remoteErr
	}
	f.remoteSet = true
	return nil
}

func (f *fakePC) AddICECandidate(ci webrtc.ICECandidateInit) error {
	if !f.remoteSet {
		return errors.New("remote description not set")
	}
	if f.rejectEmpty && ci.Candidate == "" {
		return errors.New("bad candidate")
	}
	f.candidates = append(f.candidates, ci)
	return nil
}

func (f *fakePC) OnICECandidate(fn func(webrtc.ICECandidateInit)) { f.onICE = fn }
func (f *fakePC) OnTrack(fn func(*webrtc.TrackRemote)) { f.onTrack = fn }
func (f *fakePC) OnConnectionStateChange(func(webrtc.PeerConnectionState)) {}

func (f *fakePC) StopSenders() error {
	f.record("stop_senders")
	return f.stopErr
}

func (f *fakePC) Close() error {
	f.record("close")
	f.closed = true
	return f.closeErr
}

type fakeMedia struct {
	tracks  []webrtc.TrackLocal
	stopped int
}

func (m *fakeMedia) Tracks() []webrtc.TrackLocal { return m.tracks }
func (m *fakeMedia) Stop() { m.stopped++ }

func newTrack(t *testing.T, id string) webrtc.TrackLocal {
	t.Helper()
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}, id, "local")
	require.NoError(t, err)
	return track
}

type harness struct {
	sig     *fakeSignaler
	pc      *fakePC
	media   *fakeMedia
	created int
	s       *Session
}

func newHarness(t *testing.T) *harness {
	h := &harness{
		sig:   &fakeSignaler{},
		pc:    &fakePC{},
		media: &fakeMedia{tracks: []webrtc.TrackLocal{newTrack(t, "audio")}},
	}
	h.s = NewSession(h.sig,
		func() (core.PeerConnection, error) {
			h.created++
			return h.pc, nil
		},
		func(context.Context) (core.LocalMedia, error) { return h.media, nil },
	)
	return h
}

func envelope(t *testing.T, event domain.SignalEvent, data any) domain.SignalEnvelope {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return domain.SignalEnvelope{RoomID: "room1", Event: event, Data: raw}
}

func TestCreateOfferSendsBeforeLocalCommit(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.s.CreateOffer(context.Background()))

	assert.Equal(t, StateConnecting, h.s.State())
	assert.Equal(t, []domain.SignalEvent{domain.EventOffer}, h.sig.events())
	assert.Equal(t, []string{"add_track", "create_offer", "set_local"}, h.pc.calls)
}

func TestSecondCreateOfferIsRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.s.CreateOffer(ctx))
	err := h.s.CreateOffer(ctx)

	require.ErrorIs(t, err, domain.ErrAlreadyNegotiating)
	assert.Len(t, h.sig.events(), 1)
	assert.Equal(t, 1, h.created)
	assert.Len(t, h.pc.senders, 1)
}

func TestAddLocalTracksOnceIsIdempotent(t *testing.T) {
	pc := &fakePC{}
	stream := &fakeMedia{tracks: []webrtc.TrackLocal{newTrack(t, "a"), newTrack(t, "v")}}

	require.NoError(t, AddLocalTracksOnce(pc, stream))
	require.NoError(t, AddLocalTracksOnce(pc, stream))

	assert.Len(t, pc.senders, 2)
}

func TestAnswerCompletesOfferSide(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.s.CreateOffer(ctx))

	h.s.HandleSignal(ctx, envelope(t, domain.EventAnswer, webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "x"}))

	assert.Equal(t, StateConnectedLocal, h.s.State())
	assert.True(t, h.pc.remoteSet)
}

func TestAnswerWithoutOfferIsIgnored(t *testing.T) {
	h := newHarness(t)

	h.s.HandleSignal(context.Background(), envelope(t, domain.EventAnswer, webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "x"}))

	assert.Equal(t, StateIdle, h.s.State())
	assert.False(t, h.pc.remoteSet)
}

func TestOfferProducesAnswer(t *testing.T) {
	h := newHarness(t)

	h.s.HandleSignal(context.Background(), envelope(t, domain.EventOffer, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "x"}))

	assert.Equal(t, StateConnectedRemote, h.s.State())
	assert.Equal(t, []domain.SignalEvent{domain.EventAnswer}, h.sig.events())
	assert.Equal(t, []string{"set_remote", "add_track", "create_answer", "set_local"}, h.pc.calls)
}

func TestCandidatesBeforeRemoteDescriptionAreQueued(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, c := range []string{"candidate:1", "candidate:2"} {
		h.s.HandleSignal(ctx, envelope(t, domain.EventCandidate, webrtc.ICECandidateInit{Candidate: c}))
	}
	assert.Empty(t, h.pc.candidates)
	assert.Equal(t, 2, h.s.Stats().CandidatesQueued)

	h.s.HandleSignal(ctx, envelope(t, domain.EventOffer, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "x"}))

	assert.Len(t, h.pc.candidates, 2)
	assert.Equal(t, 2, h.s.Stats().CandidatesAdded)
}

func TestBadCandidateIsNonFatal(t *testing.T) {
	h := newHarness(t)
	h.pc.rejectEmpty = true
	ctx := context.Background()
	h.s.HandleSignal(ctx, envelope(t, domain.EventOffer, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "x"}))

	h.s.HandleSignal(ctx, envelope(t, domain.EventCandidate, webrtc.ICECandidateInit{Candidate: ""}))
	h.s.HandleSignal(ctx, domain.SignalEnvelope{Event: domain.EventCandidate, Data: json.RawMessage(`{"candidate":`)})
	h.s.HandleSignal(ctx, envelope(t, domain.EventCandidate, webrtc.ICECandidateInit{Candidate: "candidate:ok"}))

	stats := h.s.Stats()
	assert.Equal(t, 1, stats.CandidatesFailed)
	assert.Equal(t, 1, stats.CandidatesAdded)
	assert.Equal(t, StateConnectedRemote, h.s.State())
	assert.False(t, h.pc.closed)
}

func TestGatheredCandidatesAreForwarded(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.s.CreateOffer(context.Background()))

	h.pc.onICE(webrtc.ICECandidateInit{Candidate: "candidate:local"})

	assert.Equal(t, []domain.SignalEvent{domain.EventOffer, domain.EventCandidate}, h.sig.events())
}

func TestCloseIsBestEffort(t *testing.T) {
	h := newHarness(t)
	h.pc.stopErr = errors.New("stop failed")
	require.NoError(t, h.s.CreateOffer(context.Background()))

	err := h.s.Close()

	require.Error(t, err)
	assert.True(t, h.pc.closed)
	assert.Equal(t, 1, h.media.stopped)
	assert.Equal(t, StateClosed, h.s.State())

	require.NoError(t, h.s.Close())
	assert.Equal(t, 1, h.media.stopped)
}

func TestCloseBeforeNegotiation(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.s.Close())
	assert.Equal(t, 0, h.created)
	require.ErrorIs(t, h.s.CreateOffer(context.Background()), domain.ErrClosed)
}

func TestCreateOfferRollsBackWhenLocalDescriptionFails(t *testing.T) {
	h := newHarness(t)
	h.pc.localErr = errors.New("bad sdp")
	ctx := context.Background()

	err := h.s.CreateOffer(ctx)

	require.Error(t, err)
	assert.Equal(t, StateIdle, h.s.State())

	h.pc.localErr = nil
	require.NoError(t, h.s.CreateOffer(ctx))
	assert.Equal(t, StateConnecting, h.s.State())
	assert.Equal(t, 1, h.created)
}

func TestFailedAnswerRollsBackToIdle(t *testing.T) {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "x"}
	cases := []struct {
		name  string
		setup func(h *harness)
		sent  int
	}{
		{"set remote", func(h *harness) { h.pc.remoteErr = errors.New("bad offer") }, 0},
		{"acquire", func(h *harness) {
			h.s.acquire = func(context.Context) (core.LocalMedia, error) { return nil, errors.New("no mic") }
		}, 0},
		{"create answer", func(h *harness) { h.pc.answerErr = errors.New("no codecs") }, 0},
		{"set local", func(h *harness) { h.pc.localErr = errors.New("bad sdp") }, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			acquire := h.s.acquire
			tc.setup(h)
			ctx := context.Background()

			h.s.HandleSignal(ctx, envelope(t, domain.EventOffer, offer))

			assert.Equal(t, StateIdle, h.s.State())
			assert.Len(t, h.sig.events(), tc.sent)

			h.pc.remoteErr, h.pc.answerErr, h.pc.localErr = nil, nil, nil
			h.s.acquire = acquire
			h.s.HandleSignal(ctx, envelope(t, domain.EventOffer, offer))
			assert.Equal(t, StateConnectedRemote, h.s.State(), "a later offer is still answered")
		})
	}
}
