// Package socketio provides the Socket.io server for client communication
// with the playback engine.
package socketio

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zishang520/socket.io/servers/socket/v3"
	"github.com/zishang520/socket.io/v3/pkg/types"

	"github.com/halcyonmedia/halcyon-playback-backend/internal/engine"
	"github.com/halcyonmedia/halcyon-playback-backend/internal/media"
)

// broadcastDebounceWindow collapses bursts of engine change events into a
// single push.
const broadcastDebounceWindow = 50 * time.Millisecond

// stateCompareKeys are the payload fields compared when deciding whether a
// broadcast is redundant. Seek is deliberately excluded: the frontend
// interpolates position client-side, and diffing it would broadcast on
// every clock tick.
var stateCompareKeys = []string{
	"status", "uri", "duration", "volume", "balance", "speed",
	"opening", "seeking", "buffering", "ended", "live", "canPause",
	"title", "artist", "album",
}

// Server handles Socket.io connections and events.
type Server struct {
	io  *socket.Server
	eng *engine.Engine

	mu        sync.RWMutex
	clients   map[string]*socket.Socket
	lastState map[string]interface{}

	debouncer *BroadcastDebouncer
}

// NewServer creates a new Socket.io server bound to the engine.
func NewServer(eng *engine.Engine) (*Server, error) {
	opts := socket.DefaultServerOptions()
	opts.SetPingTimeout(20 * time.Second)
	opts.SetPingInterval(25 * time.Second)
	opts.SetCors(&types.Cors{
		Origin:      "*",
		Credentials: true,
	})

	server := socket.NewServer(nil, opts)

	s := &Server{
		io:      server,
		eng:     eng,
		clients: make(map[string]*socket.Socket),
	}
	s.debouncer = NewBroadcastDebouncer(broadcastDebounceWindow, s.BroadcastState, s.BroadcastProperties)

	s.setupHandlers()
	return s, nil
}

// setupHandlers registers all Socket.io event handlers.
func (s *Server) setupHandlers() {
	s.io.On("connection", func(clients ...any) {
		client := clients[0].(*socket.Socket)
		clientID := string(client.Id())

		log.Info().Str("id", clientID).Msg("Client connected")

		s.mu.Lock()
		s.clients[clientID] = client
		s.mu.Unlock()

		// Send initial state after small delay
		go func() {
			time.Sleep(100 * time.Millisecond)
			s.pushState(client)
			s.pushProperties(client)
		}()

		client.On("disconnect", func(args ...any) {
			reason := ""
			if len(args) > 0 {
				if r, ok := args[0].(string); ok {
					reason = r
				}
			}
			log.Info().Str("id", clientID).Str("reason", reason).Msg("Client disconnected")

			s.mu.Lock()
			delete(s.clients, clientID)
			s.mu.Unlock()
		})

		client.On("getState", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("getState")
			s.pushState(client)
		})

		client.On("getProperties", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("getProperties")
			s.pushProperties(client)
		})

		client.On("play", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("play")
			s.reportCommand(client, s.eng.Play())
		})

		client.On("pause", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("pause")
			s.reportCommand(client, s.eng.Pause())
		})

		client.On("stop", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("stop")
			s.reportCommand(client, s.eng.Stop())
		})

		client.On("open", func(args ...any) {
			uri := ""
			if len(args) > 0 {
				if m, ok := args[0].(map[string]interface{}); ok {
					uri, _ = m["uri"].(string)
				}
			}
			log.Debug().Str("id", clientID).Str("uri", uri).Msg("open")
			s.reportCommand(client, s.eng.Open(uri))
		})

		client.On("close", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("close")
			s.reportCommand(client, s.eng.Close())
		})

		client.On("seek", func(args ...any) {
			if len(args) > 0 {
				if pos, ok := args[0].(float64); ok {
					log.Debug().Str("id", clientID).Float64("pos", pos).Msg("seek")
					target := time.Duration(pos * float64(time.Second))
					s.reportCommand(client, s.eng.Seek(target))
				}
			}
		})

		client.On("setPosition", func(args ...any) {
			if len(args) > 0 {
				if pos, ok := args[0].(float64); ok {
					s.eng.SetPosition(time.Duration(pos * float64(time.Second)))
				}
			}
		})

		client.On("setSpeed", func(args ...any) {
			if len(args) > 0 {
				if m, ok := args[0].(map[string]interface{}); ok {
					if v, ok := m["value"].(float64); ok {
						log.Debug().Str("id", clientID).Float64("ratio", v).Msg("setSpeed")
						s.reportCommand(client, s.eng.SetSpeedRatio(v))
					}
				}
			}
		})

		client.On("volume", func(args ...any) {
			if len(args) > 0 {
				if vol, ok := args[0].(float64); ok {
					log.Debug().Str("id", clientID).Float64("vol", vol).Msg("volume")
					s.eng.SetVolume(int(vol))
				}
			}
		})

		client.On("balance", func(args ...any) {
			if len(args) > 0 {
				if b, ok := args[0].(float64); ok {
					s.eng.SetBalance(b)
				}
			}
		})
	})
}

// reportCommand waits for the command handle off the socket goroutine and
// pushes an error event to the issuing client on failure.
func (s *Server) reportCommand(client *socket.Socket, h *engine.Handle) {
	go func() {
		<-h.Done()
		if err := h.Err(); err != nil {
			log.Warn().Stringer("kind", h.Kind()).Err(err).Msg("Command failed")
			client.Emit("pushError", map[string]interface{}{
				"command": h.Kind().String(),
				"message": err.Error(),
			})
		}
	}()
}

// buildState converts the engine's observable state into the wire payload.
func (s *Server) buildState() map[string]interface{} {
	props := s.eng.Properties()
	info := s.eng.Info()

	state := make(map[string]interface{})

	switch s.eng.State() {
	case engine.StatePlay:
		state["status"] = "play"
	case engine.StatePause:
		state["status"] = "pause"
	case engine.StateOpening:
		state["status"] = "opening"
	case engine.StateManual:
		state["status"] = "manual"
	case engine.StateStop:
		state["status"] = "stop"
	default:
		state["status"] = "closed"
	}

	state["seek"] = int(s.eng.Position() / time.Millisecond)
	state["duration"] = int(props.NaturalDuration / time.Second)
	state["volume"] = s.eng.Volume()
	state["balance"] = s.eng.Balance()
	state["speed"] = s.eng.SpeedRatio()

	state["opening"] = s.eng.Flag(engine.FlagOpening)
	state["seeking"] = s.eng.Flag(engine.FlagSeeking)
	state["buffering"] = s.eng.Flag(engine.FlagBuffering)
	state["ended"] = s.eng.Flag(engine.FlagMediaEnded)
	state["live"] = props.IsLiveStream
	state["canPause"] = props.CanPause

	state["uri"] = ""
	state["title"] = ""
	state["artist"] = ""
	state["album"] = ""
	if info != nil {
		state["uri"] = info.URI
		state["title"] = info.Metadata["Title"]
		state["artist"] = info.Metadata["Artist"]
		state["album"] = info.Metadata["Album"]
	}

	if audio := infoAudio(info); audio != nil && audio.SampleRate > 0 {
		state["samplerate"] = media.FormatSampleRate(audio.SampleRate)
		state["bitdepth"] = media.FormatBitDepth(audio.BitDepth)
		state["channels"] = audio.Channels
	}

	return state
}

func infoAudio(info *media.Info) *media.StreamInfo {
	if info == nil {
		return nil
	}
	return info.Audio()
}

// buildProperties converts the derived session properties into the wire
// payload.
func (s *Server) buildProperties() map[string]interface{} {
	props := s.eng.Properties()
	return map[string]interface{}{
		"isOpen":              props.IsOpen,
		"isPlaying":           props.IsPlaying,
		"format":              props.FormatName,
		"hasAudio":            props.HasAudio,
		"hasVideo":            props.HasVideo,
		"audioCodec":          props.AudioCodec,
		"videoCodec":          props.VideoCodec,
		"audioBitrate":        props.AudioBitRate,
		"videoBitrate":        props.VideoBitRate,
		"frameWidth":          props.FrameWidth,
		"frameHeight":         props.FrameHeight,
		"frameRate":           props.FrameRate,
		"duration":            int(props.NaturalDuration / time.Second),
		"metadata":            props.Metadata,
		"bufferCacheLength":   props.BufferCacheLength,
		"downloadCacheLength": props.DownloadCacheLength,
		"frameStepMs":         int(props.FrameStepDuration / time.Millisecond),
		"canPause":            props.CanPause,
		"isLiveStream":        props.IsLiveStream,
		"resumePositionMs":    int(props.ResumePosition / time.Millisecond),
	}
}

// saveLastState records the last broadcast payload for diffing.
func (s *Server) saveLastState(state map[string]interface{}) {
	s.mu.Lock()
	s.lastState = state
	s.mu.Unlock()
}

// isStateSame reports whether state matches the last broadcast on every
// compared key.
func (s *Server) isStateSame(state map[string]interface{}) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.lastState == nil {
		return false
	}
	for _, key := range stateCompareKeys {
		if s.lastState[key] != state[key] {
			return false
		}
	}
	return true
}

// pushState sends current state to a client.
func (s *Server) pushState(client *socket.Socket) {
	client.Emit("pushState", s.buildState())
}

// pushProperties sends current session properties to a client.
func (s *Server) pushProperties(client *socket.Socket) {
	client.Emit("pushProperties", s.buildProperties())
}

// BroadcastState sends state to all connected clients, unless nothing a
// client cares about has changed since the last broadcast.
func (s *Server) BroadcastState() {
	state := s.buildState()
	if s.isStateSame(state) {
		return
	}
	s.saveLastState(state)

	s.io.Emit("pushState", state)

	if log.Debug().Enabled() {
		data, _ := json.Marshal(state)
		s.mu.RLock()
		clientCount := len(s.clients)
		s.mu.RUnlock()
		log.Debug().RawJSON("state", data).Int("clients", clientCount).Msg("Broadcast state")
	}
}

// BroadcastProperties sends session properties to all connected clients.
func (s *Server) BroadcastProperties() {
	s.io.Emit("pushProperties", s.buildProperties())
}

// StartEngineWatcher subscribes to engine change notifications and feeds
// them into the debouncer until ctx is done.
func (s *Server) StartEngineWatcher(ctx context.Context) {
	sub := s.eng.Subscribe()

	go func() {
		defer s.eng.Unsubscribe(sub)
		log.Info().Msg("Engine watcher started")
		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("Engine watcher stopped")
				return
			case <-sub.StateChanged:
				s.debouncer.TriggerState()
			case <-sub.FlagChanged:
				s.debouncer.TriggerState()
			case <-sub.PositionChanged:
				s.debouncer.TriggerState()
			case <-sub.SettingsChanged:
				s.debouncer.TriggerState()
			case <-sub.PropertiesChanged:
				s.debouncer.TriggerProperties()
			}
		}
	}()
}

// ServeHTTP implements http.Handler for the Socket.io server.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.io.ServeHandler(nil).ServeHTTP(w, r)
}

// Close closes the Socket.io server.
func (s *Server) Close() error {
	s.debouncer.Stop()
	s.io.Close(nil)
	return nil
}
