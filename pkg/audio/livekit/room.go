// Package livekit connects earshot to a LiveKit room.
//
// A [Room] is both an [audio.Source] and an [audio.Sink]. It captures the
// first remote audio track it is subscribed to, decoding the 48 kHz stereo
// Opus stream into fixed-size frames in the configured capture format, and
// it publishes one local Opus track on which replies are played in real time
// as 20 ms samples. When the connection drops the room re-joins with
// exponential backoff and capture resumes on the next subscribed track.
//
// Usage:
//
//	room, err := livekit.Join(ctx, livekit.Config{
//	    URL:  "ws://localhost:7880",
//	    Room: "voice-agent-test",
//	})
//	defer room.Close()
//	err = pipeline.Run(ctx, room)
package livekit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/MrWong99/earshot/pkg/audio"
)

// Defaults match a LiveKit server started with `livekit-server --dev`.
const (
	DefaultURL       = "ws://localhost:7880"
	DefaultRoom      = "voice-agent-test"
	DefaultIdentity  = "VoiceAgent"
	DefaultAPIKey    = "devkey"
	DefaultAPISecret = "secret"
	DefaultTokenTTL  = time.Hour

	defaultFrameBuffer = 256
	replyTrackName     = "agent-voice"
)

// ErrDisconnected is returned by ReadFrame and Play once the room connection
// has ended.
var ErrDisconnected = errors.New("livekit: disconnected from room")

var (
	_ audio.Source = (*Room)(nil)
	_ audio.Sink   = (*Room)(nil)
)

// Config identifies the room to join. When Token is empty a token is minted
// from APIKey and APISecret with [MintToken].
type Config struct {
	URL       string
	Room      string
	Identity  string
	APIKey    string
	APISecret string
	Token     string
	TokenTTL  time.Duration
}

func (c *Config) applyDefaults() {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.Room == "" {
		c.Room = DefaultRoom
	}
	if c.Identity == "" {
		c.Identity = DefaultIdentity
	}
	if c.APIKey == "" {
		c.APIKey = DefaultAPIKey
	}
	if c.APISecret == "" {
		c.APISecret = DefaultAPISecret
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = DefaultTokenTTL
	}
}

// Option is a functional option for configuring a Room.
type Option func(*Room)

// WithCaptureFormat sets the format and duration of captured frames.
// Defaults to audio.DefaultFormat and audio.DefaultFrameDuration.
func WithCaptureFormat(f audio.Format, d time.Duration) Option {
	return func(r *Room) {
		r.format = f
		r.frameDur = d
	}
}

// WithFrameBuffer sets how many decoded frames may wait for ReadFrame before
// new frames are dropped. Defaults to 256 (about 7.7 s at 30 ms).
func WithFrameBuffer(n int) Option {
	return func(r *Room) {
		if n > 0 {
			r.bufSize = n
		}
	}
}

// Room is a joined LiveKit room.
type Room struct {
	cfg      Config
	format   audio.Format
	frameDur time.Duration
	bufSize  int

	attempts     int
	backoff      time.Duration
	dial         func(ctx context.Context) error
	reconnecting atomic.Bool
	reconnects   atomic.Int64

	connMu      sync.Mutex
	room        *lksdk.Room
	writeSample func(media.Sample) error

	// capture side
	framer  *audio.Framer
	frames  chan audio.Frame
	mu      sync.Mutex
	active  string
	dropped atomic.Int64

	// playback side
	playMu sync.Mutex
	enc    *opusEncoder

	done     chan struct{}
	doneOnce sync.Once
}

// newRoom prepares the capture and playback state without connecting.
func newRoom(cfg Config, opts ...Option) (*Room, error) {
	cfg.applyDefaults()
	r := &Room{
		cfg:      cfg,
		format:   audio.DefaultFormat,
		frameDur: audio.DefaultFrameDuration,
		bufSize:  defaultFrameBuffer,
		attempts: DefaultReconnectAttempts,
		backoff:  DefaultReconnectBackoff,
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	enc, err := newOpusEncoder()
	if err != nil {
		return nil, err
	}
	r.enc = enc
	r.framer = audio.NewFramer(r.format, r.frameDur)
	r.frames = make(chan audio.Frame, r.bufSize)
	return r, nil
}

// Join connects to the room described by cfg and publishes the reply track.
// Capture starts as soon as a remote participant's audio track is subscribed.
// A dropped connection is re-joined as configured by [WithReconnect].
func Join(ctx context.Context, cfg Config, opts ...Option) (*Room, error) {
	r, err := newRoom(cfg, opts...)
	if err != nil {
		return nil, err
	}
	r.dial = r.connect
	if err := r.connect(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// connect joins the room with a fresh token and publishes a new reply track.
func (r *Room) connect(ctx context.Context) error {
	token := r.cfg.Token
	if token == "" {
		var err error
		token, err = MintToken(r.cfg.APIKey, r.cfg.APISecret, r.cfg.Room, r.cfg.Identity, r.cfg.TokenTTL)
		if err != nil {
			return err
		}
	}

	cb := &lksdk.RoomCallback{
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackSubscribed: r.onTrackSubscribed,
		},
		OnDisconnected: r.onDisconnected,
	}
	room, err := lksdk.ConnectToRoomWithToken(r.cfg.URL, token, cb)
	if err != nil {
		return fmt.Errorf("livekit: connect to %s: %w", r.cfg.URL, err)
	}
	if err := ctx.Err(); err != nil {
		room.Disconnect()
		return err
	}

	track, err := lksdk.NewLocalSampleTrack(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: opusSampleRate,
		Channels:  opusChannels,
	})
	if err != nil {
		room.Disconnect()
		return fmt.Errorf("livekit: create reply track: %w", err)
	}
	pub, err := room.LocalParticipant.PublishTrack(track, &lksdk.TrackPublicationOptions{Name: replyTrackName})
	if err != nil {
		room.Disconnect()
		return fmt.Errorf("livekit: publish reply track: %w", err)
	}

	r.connMu.Lock()
	select {
	case <-r.done:
		r.connMu.Unlock()
		room.Disconnect()
		return ErrDisconnected
	default:
	}
	r.room = room
	r.writeSample = func(s media.Sample) error { return track.WriteSample(s, nil) }
	r.connMu.Unlock()

	slog.Info("livekit: joined room",
		"url", r.cfg.URL,
		"room", r.cfg.Room,
		"identity", r.cfg.Identity,
		"reply_track", pub.SID(),
	)
	return nil
}

// ---- capture ----

func (r *Room) onTrackSubscribed(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
	if track.Kind() != webrtc.RTPCodecTypeAudio {
		return
	}
	r.mu.Lock()
	if r.active != "" {
		r.mu.Unlock()
		slog.Info("livekit: ignoring additional audio track",
			"participant", rp.Identity(), "track", pub.SID(), "capturing", r.active)
		return
	}
	r.active = rp.Identity()
	r.mu.Unlock()

	slog.Info("livekit: capturing audio track", "participant", rp.Identity(), "track", pub.SID())
	go r.readTrack(track, rp.Identity())
}

// readTrack pumps RTP packets from one remote track into the frame queue
// until the track ends. The next subscribed audio track then takes over.
func (r *Room) readTrack(track *webrtc.TrackRemote, participant string) {
	defer func() {
		r.mu.Lock()
		r.active = ""
		r.mu.Unlock()
	}()

	dec, err := newOpusDecoder()
	if err != nil {
		slog.Error("livekit: cannot decode track", "participant", participant, "err", err)
		return
	}
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Warn("livekit: track read failed", "participant", participant, "err", err)
			}
			slog.Info("livekit: audio track ended", "participant", participant)
			return
		}
		r.ingest(dec, pkt.Payload)
	}
}

// ingest decodes one Opus packet and queues every complete frame. When the
// reader falls behind, new frames are dropped rather than stalling RTP.
func (r *Room) ingest(dec *opusDecoder, payload []byte) {
	if len(payload) == 0 {
		return
	}
	pcm, err := dec.decode(payload)
	if err != nil {
		slog.Debug("livekit: dropping undecodable packet", "err", err)
		return
	}
	for _, f := range r.framer.Write(audio.Convert(pcm, opusFormat, r.format)) {
		select {
		case r.frames <- f:
		default:
			if n := r.dropped.Add(1); n == 1 || n%100 == 0 {
				slog.Warn("livekit: capture queue full, dropping frames", "dropped", n)
			}
		}
	}
}

// ReadFrame blocks until a decoded frame is available, ctx is cancelled or
// the room disconnects.
func (r *Room) ReadFrame(ctx context.Context) (audio.Frame, error) {
	select {
	case <-ctx.Done():
		return audio.Frame{}, ctx.Err()
	case <-r.done:
		return audio.Frame{}, ErrDisconnected
	case f := <-r.frames:
		return f, nil
	}
}

// Format returns the capture format.
func (r *Room) Format() audio.Format { return r.format }

// Dropped returns the number of frames discarded because the reader fell
// behind.
func (r *Room) Dropped() int64 { return r.dropped.Load() }

// ---- playback ----

// Play encodes clip as 20 ms Opus samples and writes them to the reply track
// at real-time pace. It returns once the last sample has been written.
func (r *Room) Play(ctx context.Context, clip audio.Clip) error {
	r.playMu.Lock()
	defer r.playMu.Unlock()

	frames := opusFrames(clip)
	if len(frames) == 0 {
		return nil
	}

	const frameDur = opusFrameSizeMs * time.Millisecond
	ticker := time.NewTicker(frameDur)
	defer ticker.Stop()

	for i, frame := range frames {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-r.done:
				return ErrDisconnected
			case <-ticker.C:
			}
		}
		packet, err := r.enc.encode(frame)
		if err != nil {
			return err
		}
		if err := r.sampleWriter()(media.Sample{Data: packet, Duration: frameDur}); err != nil {
			return fmt.Errorf("livekit: write sample: %w", err)
		}
	}
	return nil
}

// ---- lifecycle ----

func (r *Room) markDone() {
	r.doneOnce.Do(func() { close(r.done) })
}

// Close leaves the room. Pending and future ReadFrame calls return
// ErrDisconnected.
func (r *Room) Close() error {
	r.connMu.Lock()
	r.markDone()
	room := r.room
	r.room = nil
	r.connMu.Unlock()
	if room != nil {
		room.Disconnect()
	}
	return nil
}

func (r *Room) sampleWriter() func(media.Sample) error {
	r.connMu.Lock()
	defer r.connMu.Unlock()
	return r.writeSample
}
