package engine

import (
	"maps"
	"sync"
	"time"

	"github.com/halcyonmedia/halcyon-playback-backend/internal/media"
)

const (
	// defaultBufferCacheLength is used when any present stream has an
	// unknown or zero bitrate.
	defaultBufferCacheLength = 524288

	// defaultFrameStepDuration is the frame-step fallback when no video
	// stream with a known frame rate exists.
	defaultFrameStepDuration = 100 * time.Millisecond

	downloadMultiplier         = 4
	downloadMultiplierRealtime = 30
)

// Prop identifies a derived session property for change notification.
type Prop int

const (
	PropIsOpen Prop = iota
	PropIsPlaying
	PropFormatName
	PropHasAudio
	PropHasVideo
	PropAudioCodec
	PropVideoCodec
	PropAudioBitRate
	PropVideoBitRate
	PropFrameSize
	PropFrameRate
	PropNaturalDuration
	PropMetadata
	PropBufferCacheLength
	PropDownloadCacheLength
	PropFrameStepDuration
	PropCanPause
	PropIsLiveStream
	PropResumePosition
)

// String returns the property name.
func (p Prop) String() string {
	switch p {
	case PropIsOpen:
		return "IsOpen"
	case PropIsPlaying:
		return "IsPlaying"
	case PropFormatName:
		return "FormatName"
	case PropHasAudio:
		return "HasAudio"
	case PropHasVideo:
		return "HasVideo"
	case PropAudioCodec:
		return "AudioCodec"
	case PropVideoCodec:
		return "VideoCodec"
	case PropAudioBitRate:
		return "AudioBitRate"
	case PropVideoBitRate:
		return "VideoBitRate"
	case PropFrameSize:
		return "FrameSize"
	case PropFrameRate:
		return "FrameRate"
	case PropNaturalDuration:
		return "NaturalDuration"
	case PropMetadata:
		return "Metadata"
	case PropBufferCacheLength:
		return "BufferCacheLength"
	case PropDownloadCacheLength:
		return "DownloadCacheLength"
	case PropFrameStepDuration:
		return "FrameStepDuration"
	case PropCanPause:
		return "CanPause"
	case PropIsLiveStream:
		return "IsLiveStream"
	case PropResumePosition:
		return "ResumePosition"
	default:
		return "Unknown"
	}
}

// Properties is the derived, read-only session property snapshot. It is
// never stored authoritatively; it is rebuilt from container metadata and
// engine state whenever either changes.
type Properties struct {
	IsOpen    bool
	IsPlaying bool

	FormatName   string
	HasAudio     bool
	HasVideo     bool
	AudioCodec   string
	VideoCodec   string
	AudioBitRate int64
	VideoBitRate int64
	FrameWidth   int
	FrameHeight  int
	FrameRate    float64

	// NaturalDuration is zero when the source length is indeterminate.
	NaturalDuration time.Duration
	Metadata        map[string]string

	BufferCacheLength   int64
	DownloadCacheLength int64
	FrameStepDuration   time.Duration

	CanPause     bool
	IsLiveStream bool

	// ResumePosition is the stored position from a previous session of the
	// same URI, zero when none is known.
	ResumePosition time.Duration
}

// invalidation declares which input of the projector changed; only the
// properties derived from that input are recomputed and diffed.
type invalidation uint8

const (
	invalidateMedia invalidation = 1 << iota
	invalidateState
)

// Projector recomputes the derived session properties. It is purely
// reactive: it runs synchronously on the command queue path right after
// the mutation that invalidated it, so callers observing a completed
// command always see consistent properties.
type Projector struct {
	mu      sync.RWMutex
	current Properties
	hub     *Hub
}

// NewProjector creates a projector with fully defaulted properties.
func NewProjector(hub *Hub) *Projector {
	return &Projector{
		current: defaultProperties(),
		hub:     hub,
	}
}

func defaultProperties() Properties {
	return Properties{
		FrameStepDuration:   defaultFrameStepDuration,
		BufferCacheLength:   defaultBufferCacheLength,
		DownloadCacheLength: defaultBufferCacheLength * downloadMultiplier,
	}
}

// Current returns the latest property snapshot.
func (p *Projector) Current() Properties {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Recompute rebuilds the invalidated property groups from the given
// inputs, then notifies once with the set of properties that actually
// changed. info is nil while no media is open.
func (p *Projector) Recompute(reason invalidation, info *media.Info, st State, isOpen bool, resume time.Duration) {
	p.mu.Lock()
	next := p.current

	if reason&invalidateMedia != 0 {
		recomputeMediaProps(&next, info, resume)
	}
	if reason&(invalidateMedia|invalidateState) != 0 {
		next.IsOpen = isOpen
		next.IsPlaying = st.IsPlaying()
		next.CanPause = isOpen && !next.IsLiveStream
	}

	changed := diffProperties(p.current, next)
	p.current = next
	p.mu.Unlock()

	if len(changed) > 0 {
		p.hub.publishProperties(PropertiesChange{Changed: changed, Props: next})
	}
}

// recomputeMediaProps fills the media-derived fields of next from info.
func recomputeMediaProps(next *Properties, info *media.Info, resume time.Duration) {
	if info == nil {
		*next = defaultProperties()
		return
	}

	audio := info.Audio()
	video := info.Video()

	next.FormatName = info.FormatName
	next.HasAudio = audio != nil
	next.HasVideo = video != nil
	next.AudioCodec = ""
	next.AudioBitRate = 0
	if audio != nil {
		next.AudioCodec = audio.CodecName
		next.AudioBitRate = audio.BitRate
	}
	next.VideoCodec = ""
	next.VideoBitRate = 0
	next.FrameWidth = 0
	next.FrameHeight = 0
	next.FrameRate = 0
	if video != nil {
		next.VideoCodec = video.CodecName
		next.VideoBitRate = video.BitRate
		next.FrameWidth = video.Width
		next.FrameHeight = video.Height
		next.FrameRate = video.FrameRate
	}
	next.NaturalDuration = info.Duration
	next.Metadata = info.Metadata
	next.ResumePosition = resume

	next.IsLiveStream = info.IsRealtime && info.Duration <= 0

	next.BufferCacheLength = bufferCacheLength(audio, video, info.IsRealtime)
	next.DownloadCacheLength = downloadCacheLength(next.BufferCacheLength, info.IsRealtime)

	next.FrameStepDuration = defaultFrameStepDuration
	if video != nil && video.FrameRate > 0 {
		next.FrameStepDuration = time.Duration(float64(time.Second) / video.FrameRate)
	}
}

// bufferCacheLength derives the decoded-data buffer target in bytes. When
// every present stream reports a bitrate the target is one second of
// combined payload (half that for realtime delivery); otherwise the fixed
// default applies.
func bufferCacheLength(audio, video *media.StreamInfo, realtime bool) int64 {
	var sum int64
	for _, s := range []*media.StreamInfo{audio, video} {
		if s == nil {
			continue
		}
		if s.BitRate <= 0 {
			return defaultBufferCacheLength
		}
		sum += s.BitRate
	}
	if sum == 0 {
		return defaultBufferCacheLength
	}
	length := sum / 8
	if realtime {
		length /= 2
	}
	return length
}

// downloadCacheLength derives the download buffer target from the buffer
// cache length. Realtime sources get a much deeper download window.
func downloadCacheLength(bufferLength int64, realtime bool) int64 {
	if realtime {
		return bufferLength * downloadMultiplierRealtime
	}
	return bufferLength * downloadMultiplier
}

// diffProperties returns the identities of properties that differ between
// two snapshots.
func diffProperties(prev, next Properties) []Prop {
	var changed []Prop
	add := func(p Prop, differs bool) {
		if differs {
			changed = append(changed, p)
		}
	}
	add(PropIsOpen, prev.IsOpen != next.IsOpen)
	add(PropIsPlaying, prev.IsPlaying != next.IsPlaying)
	add(PropFormatName, prev.FormatName != next.FormatName)
	add(PropHasAudio, prev.HasAudio != next.HasAudio)
	add(PropHasVideo, prev.HasVideo != next.HasVideo)
	add(PropAudioCodec, prev.AudioCodec != next.AudioCodec)
	add(PropVideoCodec, prev.VideoCodec != next.VideoCodec)
	add(PropAudioBitRate, prev.AudioBitRate != next.AudioBitRate)
	add(PropVideoBitRate, prev.VideoBitRate != next.VideoBitRate)
	add(PropFrameSize, prev.FrameWidth != next.FrameWidth || prev.FrameHeight != next.FrameHeight)
	add(PropFrameRate, prev.FrameRate != next.FrameRate)
	add(PropNaturalDuration, prev.NaturalDuration != next.NaturalDuration)
	add(PropMetadata, !maps.Equal(prev.Metadata, next.Metadata))
	add(PropBufferCacheLength, prev.BufferCacheLength != next.BufferCacheLength)
	add(PropDownloadCacheLength, prev.DownloadCacheLength != next.DownloadCacheLength)
	add(PropFrameStepDuration, prev.FrameStepDuration != next.FrameStepDuration)
	add(PropCanPause, prev.CanPause != next.CanPause)
	add(PropIsLiveStream, prev.IsLiveStream != next.IsLiveStream)
	add(PropResumePosition, prev.ResumePosition != next.ResumePosition)
	return changed
}
