// Package media defines the contracts between the playback engine and its
// external collaborators: the demuxer/decoder container that supplies stream
// metadata and decoded data, and the renderers that present it.
package media

import (
	"context"
	"time"
)

// Type identifies a media stream kind.
type Type int

const (
	TypeAudio Type = iota
	TypeVideo
	TypeSubtitle
)

// String returns the stream kind name.
func (t Type) String() string {
	switch t {
	case TypeAudio:
		return "audio"
	case TypeVideo:
		return "video"
	case TypeSubtitle:
		return "subtitle"
	default:
		return "unknown"
	}
}

// StreamInfo describes a single elementary stream inside an opened source.
type StreamInfo struct {
	Type       Type
	CodecName  string
	BitRate    int64   // bits per second, 0 when the container does not report it
	SampleRate int     // audio only
	BitDepth   int     // audio only
	Channels   int     // audio only
	Width      int     // video only
	Height     int     // video only
	FrameRate  float64 // video only, 0 when unknown
}

// Info is the metadata snapshot a container returns from a successful Open.
// Duration of zero combined with IsRealtime marks a live source with
// indeterminate length.
type Info struct {
	URI        string
	FormatName string
	Duration   time.Duration
	IsRealtime bool
	IsSeekable bool
	Streams    []StreamInfo
	Metadata   map[string]string
}

// Audio returns the first audio stream, or nil.
func (i *Info) Audio() *StreamInfo {
	return i.stream(TypeAudio)
}

// Video returns the first video stream, or nil.
func (i *Info) Video() *StreamInfo {
	return i.stream(TypeVideo)
}

// Has reports whether the source contains a stream of the given type.
func (i *Info) Has(t Type) bool {
	return i.stream(t) != nil
}

func (i *Info) stream(t Type) *StreamInfo {
	for idx := range i.Streams {
		if i.Streams[idx].Type == t {
			return &i.Streams[idx]
		}
	}
	return nil
}

// EventKind identifies an asynchronous container notification.
type EventKind int

const (
	// EventEndOfStream fires once when the container has delivered the last
	// frame of the source.
	EventEndOfStream EventKind = iota
	// EventBuffering carries the current decoded-data backlog level; Level
	// below 1.0 means the backlog is under the container's target threshold.
	EventBuffering
)

// Event is an asynchronous notification from the container.
type Event struct {
	Kind  EventKind
	Level float64 // EventBuffering only, 0..1
}

// Container is the demuxer/decoder collaborator. Implementations own their
// decode pipeline; the engine only sequences calls into it. All mutating
// methods are invoked from a single goroutine (the command queue drain loop)
// and never concurrently.
type Container interface {
	// Open loads the source at uri and returns its metadata.
	Open(ctx context.Context, uri string) (*Info, error)

	// Close releases the current source. Closing an already-closed
	// container is a no-op.
	Close() error

	// IsOpen reports whether a source is currently loaded.
	IsOpen() bool

	// Seek repositions the pipeline and returns the position actually
	// reached, which may differ from target (keyframe snapping, clamping).
	Seek(ctx context.Context, target time.Duration) (time.Duration, error)

	// Events delivers end-of-stream and buffering notifications. The
	// channel is closed when the container shuts down.
	Events() <-chan Event
}

// Renderer presents decoded frames for one or more media types. Start and
// Stop are sequenced through the command queue, never called concurrently.
type Renderer interface {
	Start(t Type) error
	Stop(t Type) error
	SetSpeedRatio(ratio float64) error
}
