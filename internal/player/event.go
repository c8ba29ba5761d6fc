package player

import (
	"time"

	"github.com/natanbc/andesite/pkg/track"
)

// EventType names a track event on the wire.
type EventType string

const (
	EventTrackStart     EventType = "TrackStartEvent"
	EventTrackEnd       EventType = "TrackEndEvent"
	EventTrackException EventType = "TrackExceptionEvent"
	EventTrackStuck     EventType = "TrackStuckEvent"
)

// EndReason tells why a track stopped playing.
type EndReason string

const (
	EndFinished   EndReason = "FINISHED"
	EndLoadFailed EndReason = "LOAD_FAILED"
	EndStopped    EndReason = "STOPPED"
	EndReplaced   EndReason = "REPLACED"
	EndCleanup    EndReason = "CLEANUP"
)

// MayStartNext reports whether a client queue should advance.
func (r EndReason) MayStartNext() bool {
	return r == EndFinished || r == EndLoadFailed
}

// Event is a track lifecycle event of an [AudioPlayer].
type Event struct {
	Type  EventType
	Track track.Track

	// Reason is set for EventTrackEnd.
	Reason EndReason

	// Err is set for EventTrackException.
	Err error

	// Threshold is set for EventTrackStuck.
	Threshold time.Duration

	// MixerKey names the mixer sub-player that emitted the event, or is
	// empty for the primary player.
	MixerKey string
}

// Listener receives events. It is called without any player lock held,
// from whichever goroutine caused the event.
type Listener func(Event)
