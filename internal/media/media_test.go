package media

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/voicelink/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func opusPackets(n int) []Packet {
	out := make([]Packet, n)
	for i := range out {
		// TOC byte for a 20ms SILK frame followed by filler.
		out[i] = Packet{Data: []byte{0x08, byte(i), 0xaa, 0x55}, Duration: 20 * time.Millisecond}
	}
	return out
}

func writeOggFile(t *testing.T, packets []Packet) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "in.ogg")
	w, err := oggwriter.New(path, opusRate, opusChannels)
	require.NoError(t, err)
	c := &oggContainer{w: w}
	for _, p := range packets {
		require.NoError(t, c.WritePacket(p))
	}
	require.NoError(t, w.Close())
	return path
}

func TestOggSourceReadsPackets(t *testing.T) {
	packets := opusPackets(5)
	src, err := OpenOggFile(writeOggFile(t, packets), false)
	require.NoError(t, err)
	defer src.Close()

	for i := range packets {
		p, err := src.NextPacket()
		require.NoError(t, err, "packet %d", i)
		assert.Equal(t, packets[i].Data, p.Data)
		assert.Equal(t, 20*time.Millisecond, p.Duration)
	}
	_, err = src.NextPacket()
	assert.ErrorIs(t, err, io.EOF)
}

func TestOggSourceLoops(t *testing.T) {
	packets := opusPackets(2)
	src, err := OpenOggFile(writeOggFile(t, packets), true)
	require.NoError(t, err)
	defer src.Close()

	for i := 0; i < 5; i++ {
		p, err := src.NextPacket()
		require.NoError(t, err)
		assert.Equal(t, packets[i%2].Data, p.Data)
	}
}

func TestOpenOggFileMissing(t *testing.T) {
	_, err := OpenOggFile(filepath.Join(t.TempDir(), "nope.ogg"), false)
	require.Error(t, err)
}

type chunkCollector struct {
	mu     sync.Mutex
	chunks [][]byte
}

func (c *chunkCollector) add(b []byte) {
	c.mu.Lock()
	c.chunks = append(c.chunks, b)
	c.mu.Unlock()
}

func (c *chunkCollector) joined() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return bytes.Join(c.chunks, nil)
}

func silentStream(t *testing.T) *LocalStream {
	t.Helper()
	s, err := NewLocalStream(nil)
	require.NoError(t, err)
	t.Cleanup(s.Stop)
	return s
}

func TestOggRecorderProducesSelfContainedStream(t *testing.T) {
	stream := silentStream(t)
	rec, err := stream.NewRecorder(domain.FormatOggOpus)
	require.NoError(t, err)

	var got chunkCollector
	require.NoError(t, rec.Start(time.Hour, got.add))
	assert.True(t, rec.Active())
	packets := opusPackets(3)
	for _, p := range packets {
		stream.publish(p)
	}
	require.NoError(t, rec.Stop())
	assert.False(t, rec.Active())

	src, err := NewOggSource(bytes.NewReader(got.joined()))
	require.NoError(t, err)
	for _, want := range packets {
		p, err := src.NextPacket()
		require.NoError(t, err)
		assert.Equal(t, want.Data, p.Data)
	}
}

func TestRecorderSlicesAndRestarts(t *testing.T) {
	stream := silentStream(t)
	rec, err := stream.NewRecorder(domain.FormatOggOpus)
	require.NoError(t, err)

	var first chunkCollector
	require.NoError(t, rec.Start(10*time.Millisecond, first.add))
	stream.publish(opusPackets(1)[0])
	require.Eventually(t, func() bool { return len(first.joined()) > 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, rec.Stop())
	require.NoError(t, rec.Stop())

	stream.publish(opusPackets(1)[0])

	var second chunkCollector
	require.NoError(t, rec.Start(time.Hour, second.add))
	require.NoError(t, rec.Stop())
	_, _, err = oggreader.NewWith(bytes.NewReader(second.joined()))
	require.NoError(t, err, "every start writes fresh headers")
}

func TestWebMRecorderWritesEBMLHeader(t *testing.T) {
	stream := silentStream(t)
	rec, err := stream.NewRecorder(domain.FormatWebMOpus)
	require.NoError(t, err)

	var got chunkCollector
	require.NoError(t, rec.Start(time.Hour, got.add))
	for _, p := range opusPackets(3) {
		stream.publish(p)
	}
	require.NoError(t, rec.Stop())

	out := got.joined()
	require.GreaterOrEqual(t, len(out), 4)
	assert.Equal(t, []byte{0x1a, 0x45, 0xdf, 0xa3}, out[:4])
}

func TestRecorderRejectsUnknownFormat(t *testing.T) {
	_, err := silentStream(t).NewRecorder("audio/wav")
	require.ErrorIs(t, err, domain.ErrUnsupportedFormat)
}

func TestAnalyserTimeDomain(t *testing.T) {
	a := newLevelRing(4, zerolog.Nop())

	buf := make([]byte, 4)
	a.TimeDomain(buf)
	assert.Equal(t, []byte{128, 128, 128, 128}, buf)

	a.push([]int16{256, -256})
	a.TimeDomain(buf)
	assert.Equal(t, []byte{128, 128, 129, 127}, buf)

	a.push([]int16{1 << 14, -1 << 14, 0})
	a.TimeDomain(buf)
	assert.Equal(t, []byte{127, 192, 64, 128}, buf)
}

func TestAnalyserIgnoresUndecodablePackets(t *testing.T) {
	stream := silentStream(t)
	an, err := stream.NewAnalyser(8)
	require.NoError(t, err)
	defer an.Close()

	stream.publish(Packet{Data: nil, Duration: 20 * time.Millisecond})

	buf := make([]byte, 8)
	an.TimeDomain(buf)
	assert.Equal(t, []byte{128, 128, 128, 128, 128, 128, 128, 128}, buf)
	decoded, failed := an.(*analyser).stats()
	assert.Equal(t, 0, decoded)
	assert.Equal(t, 1, failed)
}

func TestCapabilities(t *testing.T) {
	stream := silentStream(t)
	caps := Negotiate(stream)

	assert.False(t, caps.Audio)
	assert.Equal(t, domain.DefaultFormats, caps.Formats)

	f, ok := caps.Select("audio/wav", domain.FormatOggOpus)
	require.True(t, ok)
	assert.Equal(t, domain.FormatOggOpus, f)

	_, ok = Capabilities{Audio: true}.Select(domain.DefaultFormats...)
	assert.False(t, ok)
}

func TestLocalStreamPumpsSource(t *testing.T) {
	src, err := OpenOggFile(writeOggFile(t, opusPackets(3)), true)
	require.NoError(t, err)
	stream, err := NewLocalStream(src)
	require.NoError(t, err)
	defer stream.Stop()

	assert.True(t, stream.HasAudio())
	assert.Len(t, stream.Tracks(), 1)

	var mu sync.Mutex
	var seen int
	unsubscribe := stream.subscribe(func(Packet) {
		mu.Lock()
		seen++
		mu.Unlock()
	})
	defer unsubscribe()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen > 0
	}, time.Second, 5*time.Millisecond)

	stream.Stop()
	stream.Stop()
	assert.True(t, stream.Stopped())
}

func TestDeviceReusesStreamUntilStopped(t *testing.T) {
	d := NewDevice("", false, zerolog.Nop())
	defer d.Close()

	a, err := d.Acquire(t.Context())
	require.NoError(t, err)
	b, err := d.AudioInput(t.Context())
	require.NoError(t, err)
	assert.Same(t, a.(*LocalStream), b.(*LocalStream))

	a.Stop()
	c, err := d.Acquire(t.Context())
	require.NoError(t, err)
	assert.NotSame(t, a.(*LocalStream), c.(*LocalStream))
}

func TestOggSinkCopiesPackets(t *testing.T) {
	dir := t.TempDir()
	sink := NewOggSink(dir, zerolog.Nop())
	b, err := sink.rebind(2)
	require.NoError(t, err)

	packets := []*rtp.Packet{
		{Header: rtp.Header{Timestamp: 0}, Payload: []byte{0x08, 1}},
		{Header: rtp.Header{Timestamp: 960}, Payload: []byte{0x08, 2}},
	}
	i := 0
	b.copy(func() (*rtp.Packet, error) {
		if i == len(packets) {
			return nil, io.EOF
		}
		i++
		return packets[i-1], nil
	}, zerolog.Nop())

	path := sink.Path()
	assert.Equal(t, filepath.Join(dir, "remote-1.ogg"), path)
	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	src, err := NewOggSource(f)
	require.NoError(t, err)
	for _, want := range packets {
		p, err := src.NextPacket()
		require.NoError(t, err)
		assert.Equal(t, want.Payload, p.Data)
	}
}

func TestOggSinkRebindStartsNewFile(t *testing.T) {
	sink := NewOggSink(t.TempDir(), zerolog.Nop())
	first, err := sink.rebind(2)
	require.NoError(t, err)
	_, err = sink.rebind(2)
	require.NoError(t, err)

	assert.True(t, first.closed)
	assert.Contains(t, sink.Path(), "remote-2.ogg")
	require.NoError(t, sink.Close())
}
