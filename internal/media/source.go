package media

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pion/opus/pkg/oggreader"
)

const (
	opusRate      = 48000
	opusChannels  = 2
	defaultPacket = 20 * time.Millisecond
)

// Packet is one encoded Opus packet with its playout duration.
type Packet struct {
	Data     []byte
	Duration time.Duration
}

// Source yields Opus packets in playout order. io.EOF ends the stream.
type Source interface {
	NextPacket() (Packet, error)
	Close() error
}

// OggSource reads Opus packets from an Ogg container, optionally looping.
// Packets are rebuilt from the page lacing, so a page may carry several of
// them and a long packet may continue onto the next page.
type OggSource struct {
	path   string
	loop   bool
	file   *os.File
	reader *oggreader.OggReader

	partial     []byte
	queue       [][]byte
	seenTags    bool
	lastGranule uint64
	pageDur     time.Duration
}

// OpenOggFile opens an Ogg/Opus file. With loop set the file restarts at EOF.
func OpenOggFile(path string, loop bool) (*OggSource, error) {
	s := &OggSource{path: path, loop: loop}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewOggSource reads from r once, without looping.
func NewOggSource(r io.Reader) (*OggSource, error) {
	reader, _, err := oggreader.NewWith(r)
	if err != nil {
		return nil, fmt.Errorf("read ogg headers: %w", err)
	}
	return &OggSource{reader: reader}, nil
}

func (s *OggSource) open() error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.path, err)
	}
	reader, _, err := oggreader.NewWith(f)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("read ogg headers of %s: %w", s.path, err)
	}
	s.file = f
	s.reader = reader
	s.partial = nil
	s.queue = nil
	s.seenTags = false
	s.lastGranule = 0
	return nil
}

func (s *OggSource) NextPacket() (Packet, error) {
	for len(s.queue) == 0 {
		if err := s.readPage(); err != nil {
			if !errors.Is(err, io.EOF) {
				return Packet{}, err
			}
			if !s.loop || s.file == nil {
				return Packet{}, io.EOF
			}
			_ = s.file.Close()
			if err := s.open(); err != nil {
				return Packet{}, err
			}
		}
	}
	data := s.queue[0]
	s.queue = s.queue[1:]
	return Packet{Data: data, Duration: s.duration(data)}, nil
}

// readPage queues every packet completed on the next page.
func (s *OggSource) readPage() error {
	segments, header, err := s.reader.ParseNextPage()
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return io.EOF
	}
	if err != nil {
		return fmt.Errorf("parse ogg page: %w", err)
	}

	var done [][]byte
	for _, seg := range segments {
		s.partial = append(s.partial, seg...)
		if len(seg) < 255 {
			done = append(done, s.partial)
			s.partial = nil
		}
	}
	if !s.seenTags && len(done) > 0 && bytes.HasPrefix(done[0], []byte("OpusTags")) {
		done = done[1:]
		s.seenTags = true
	}
	if len(done) == 0 {
		return nil
	}

	s.pageDur = 0
	if header.GranulePosition > s.lastGranule && s.lastGranule > 0 {
		samples := header.GranulePosition - s.lastGranule
		s.pageDur = time.Duration(samples) * time.Second / opusRate / time.Duration(len(done))
	}
	s.lastGranule = header.GranulePosition
	s.queue = append(s.queue, done...)
	return nil
}

func (s *OggSource) duration(packet []byte) time.Duration {
	if d := packetDuration(packet); d > 0 {
		return d
	}
	if s.pageDur > 0 {
		return s.pageDur
	}
	return defaultPacket
}

// packetDuration reads the playout length from the Opus TOC byte.
func packetDuration(packet []byte) time.Duration {
	if len(packet) == 0 {
		return 0
	}
	toc := packet[0]
	config := int(toc >> 3)

	var frame time.Duration
	switch {
	case config < 12:
		frame = [...]time.Duration{10, 20, 40, 60}[config%4] * time.Millisecond
	case config < 16:
		frame = [...]time.Duration{10, 20}[config%2] * time.Millisecond
	default:
		frame = [...]time.Duration{2500, 5000, 10000, 20000}[config%4] * time.Microsecond
	}

	frames := 1
	switch toc & 0x03 {
	case 1, 2:
		frames = 2
	case 3:
		if len(packet) < 2 {
			return 0
		}
		frames = int(packet[1] & 0x3f)
	}
	return frame * time.Duration(frames)
}

func (s *OggSource) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
