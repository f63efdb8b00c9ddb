// Package mpdmedia implements the engine's container and renderer
// contracts on top of an MPD daemon, with reconnection handled inside the
// wrapper so callers never see a stale connection.
package mpdmedia

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/fhs/gompd/v2/mpd"
	"github.com/rs/zerolog/log"

	"github.com/halcyonmedia/halcyon-playback-backend/internal/media"
)

// Container drives MPD as the engine's decode/render collaborator. All
// engine-facing mutating calls arrive from the command queue goroutine;
// the internal lock only protects against the watcher goroutine.
type Container struct {
	mu       sync.RWMutex
	client   *mpd.Client
	watcher  *mpd.Watcher
	host     string
	port     int
	password string

	open    bool
	playing bool
	events  chan media.Event
}

// New creates an MPD container. Call Connect before use.
func New(host string, port int, password string) *Container {
	return &Container{
		host:     host,
		port:     port,
		password: password,
		events:   make(chan media.Event, 10),
	}
}

// Connect establishes the MPD connection.
func (c *Container) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked()
}

// connectLocked establishes the connection (must hold lock).
func (c *Container) connectLocked() error {
	addr := fmt.Sprintf("%s:%d", c.host, c.port)
	log.Info().Str("addr", addr).Msg("Connecting to MPD")

	client, err := mpd.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to MPD: %w", err)
	}

	if c.password != "" {
		if err := client.Command("password %s", c.password).OK(); err != nil {
			client.Close()
			return fmt.Errorf("MPD authentication failed: %w", err)
		}
	}

	c.client = client
	log.Info().Msg("Connected to MPD")
	return nil
}

// ensureConnected checks the connection and reconnects if needed.
func (c *Container) ensureConnected() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return c.connectLocked()
	}
	if err := c.client.Ping(); err != nil {
		log.Warn().Err(err).Msg("MPD connection lost, reconnecting...")
		c.client.Close()
		c.client = nil
		return c.connectLocked()
	}
	return nil
}

// Ping checks if the connection is alive.
func (c *Container) Ping() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.client == nil {
		return fmt.Errorf("not connected")
	}
	return c.client.Ping()
}

// Open loads uri into a fresh MPD queue and reads back its metadata. The
// track is left paused at position zero.
func (c *Container) Open(ctx context.Context, uri string) (*media.Info, error) {
	if err := c.ensureConnected(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.client.Clear(); err != nil {
		return nil, fmt.Errorf("clear queue: %w", err)
	}
	if err := c.client.Add(uri); err != nil {
		return nil, fmt.Errorf("add %s: %w", uri, err)
	}
	// Start decoding so MPD reports duration and audio format, then hold.
	if err := c.client.Play(0); err != nil {
		return nil, fmt.Errorf("load %s: %w", uri, err)
	}
	if err := c.client.Pause(true); err != nil {
		return nil, fmt.Errorf("pause after load: %w", err)
	}

	status, err := c.client.Status()
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	song, err := c.client.CurrentSong()
	if err != nil {
		song = mpd.Attrs{}
	}

	info := buildInfo(uri, status, song)
	c.open = true
	c.playing = false
	log.Info().
		Str("uri", uri).
		Dur("duration", info.Duration).
		Bool("realtime", info.IsRealtime).
		Msg("Media opened")
	return info, nil
}

// buildInfo converts MPD status and song attributes into the engine's
// metadata shape.
func buildInfo(uri string, status, song mpd.Attrs) *media.Info {
	info := &media.Info{
		URI:      uri,
		Metadata: make(map[string]string),
	}

	if d, err := strconv.ParseFloat(status["duration"], 64); err == nil && d > 0 {
		info.Duration = time.Duration(d * float64(time.Second))
	} else if d, err := strconv.ParseFloat(song["Time"], 64); err == nil && d > 0 {
		info.Duration = time.Duration(d * float64(time.Second))
	}

	// A stream name with no fixed duration marks realtime delivery
	// (internet radio).
	info.IsRealtime = info.Duration <= 0 && song["Name"] != ""
	info.IsSeekable = info.Duration > 0

	stream := media.StreamInfo{Type: media.TypeAudio}
	// MPD audio field: "samplerate:bits:channels" (e.g. "96000:24:2")
	if audio := status["audio"]; audio != "" {
		var rate, bits, ch int
		if n, _ := fmt.Sscanf(audio, "%d:%d:%d", &rate, &bits, &ch); n >= 2 {
			stream.SampleRate = rate
			stream.BitDepth = bits
			if n >= 3 {
				stream.Channels = ch
			} else {
				stream.Channels = 2
			}
		}
	}
	// MPD bitrate is in kbps.
	if kbps, err := strconv.Atoi(status["bitrate"]); err == nil && kbps > 0 {
		stream.BitRate = int64(kbps) * 1000
	}
	stream.CodecName = media.DescribeFormat(&stream)
	info.Streams = []media.StreamInfo{stream}
	info.FormatName = stream.CodecName

	for _, key := range []string{"Title", "Artist", "Album", "Name", "Genre", "Date"} {
		if v := song[key]; v != "" {
			info.Metadata[key] = v
		}
	}
	return info
}

// IsOpen reports whether a source is loaded.
func (c *Container) IsOpen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.open
}

// Close stops playback and clears the MPD queue. Closing an already
// closed container is a no-op.
func (c *Container) Close() error {
	if err := c.ensureConnected(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return nil
	}
	if err := c.client.Stop(); err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	if err := c.client.Clear(); err != nil {
		return fmt.Errorf("clear queue: %w", err)
	}
	c.open = false
	c.playing = false
	log.Info().Msg("Media closed")
	return nil
}

// Seek repositions the current track and returns where MPD actually
// landed.
func (c *Container) Seek(ctx context.Context, target time.Duration) (time.Duration, error) {
	if err := c.ensureConnected(); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return 0, fmt.Errorf("no media open")
	}
	if err := c.client.SeekCur(target, false); err != nil {
		return 0, fmt.Errorf("seek: %w", err)
	}

	status, err := c.client.Status()
	if err != nil {
		return target, nil
	}
	if elapsed, err := strconv.ParseFloat(status["elapsed"], 64); err == nil {
		return time.Duration(elapsed * float64(time.Second)), nil
	}
	return target, nil
}

// Events delivers end-of-stream notifications derived from the MPD player
// subsystem. StartWatcher must be running for events to flow.
func (c *Container) Events() <-chan media.Event {
	return c.events
}

// StartWatcher watches the MPD player subsystem and translates state
// edges into container events. It returns after spawning the watch
// goroutine.
func (c *Container) StartWatcher(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", c.host, c.port)
	watcher, err := mpd.NewWatcher("tcp", addr, c.password, "player")
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	c.mu.Lock()
	c.watcher = watcher
	c.mu.Unlock()

	go func() {
		defer close(c.events)
		for {
			select {
			case <-ctx.Done():
				watcher.Close()
				return
			case _, ok := <-watcher.Event:
				if !ok {
					return
				}
				c.checkEndOfStream()
			case err := <-watcher.Error:
				log.Error().Err(err).Msg("MPD watcher error")
				time.Sleep(time.Second)
			}
		}
	}()
	return nil
}

// checkEndOfStream emits EventEndOfStream when MPD stopped on its own
// while the engine believed it was playing (queue ran out).
func (c *Container) checkEndOfStream() {
	if err := c.ensureConnected(); err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	status, err := c.client.Status()
	if err != nil {
		return
	}
	stopped := status["state"] == "stop"
	if c.open && c.playing && stopped {
		c.playing = false
		select {
		case c.events <- media.Event{Kind: media.EventEndOfStream}:
		default:
		}
	}
}

// Start implements media.Renderer: resume audible output.
func (c *Container) Start(t media.Type) error {
	if t != media.TypeAudio {
		return nil
	}
	if err := c.ensureConnected(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.client.Pause(false); err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	c.playing = true
	return nil
}

// Stop implements media.Renderer: hold audible output.
func (c *Container) Stop(t media.Type) error {
	if t != media.TypeAudio {
		return nil
	}
	if err := c.ensureConnected(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return nil
	}
	if err := c.client.Pause(true); err != nil {
		return fmt.Errorf("pause: %w", err)
	}
	c.playing = false
	return nil
}

// SetSpeedRatio implements media.Renderer. MPD has no playback rate
// control; anything but 1.0 is refused so the engine reports it upward.
func (c *Container) SetSpeedRatio(ratio float64) error {
	if ratio != 1.0 {
		return fmt.Errorf("MPD does not support playback rate %v", ratio)
	}
	return nil
}

// CloseWatcher shuts down the subsystem watcher.
func (c *Container) CloseWatcher() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watcher != nil {
		c.watcher.Close()
		c.watcher = nil
	}
}
