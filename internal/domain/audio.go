package domain

import "time"

// SpeakerRole is a participant's role in an audio room.
type SpeakerRole string

const (
	RoleHost     SpeakerRole = "HOST"
	RoleSpeaker  SpeakerRole = "SPEAKER"
	RoleListener SpeakerRole = "LISTENER"
)

// Speaker is an audio room participant.
type Speaker struct {
	ID         string
	UserID     string
	User       User
	Role       SpeakerRole
	Muted      bool
	Speaking   bool
	HandRaised bool
}

// Eligible reports whether the speaker can be the source of audio levels and captions.
func (s Speaker) Eligible() bool {
	return s.Role != RoleListener && !s.Muted
}

// EligibleSpeakers filters speakers down to eligible ones, preserving order.
func EligibleSpeakers(speakers []Speaker) []Speaker {
	out := make([]Speaker, 0, len(speakers))
	for _, s := range speakers {
		if s.Eligible() {
			out = append(out, s)
		}
	}
	return out
}

// TranscriptSegment is one caption line.
type TranscriptSegment struct {
	ID        string
	UserID    string
	UserName  string
	Text      string
	Timestamp string
}

// RoomStatus is the lifecycle of an audio room.
type RoomStatus string

const (
	RoomLive  RoomStatus = "LIVE"
	RoomEnded RoomStatus = "ENDED"
)

// AudioRoom is a live audio session inside a club.
type AudioRoom struct {
	ID            string
	ClubID        string
	ClubName      string
	Title         string
	Topic         string
	HostID        string
	Speakers      []Speaker
	ListenerCount int
	Status        RoomStatus
	StartedAt     time.Time // UTC
}

// Clone returns a copy with its own speaker slice.
func (r AudioRoom) Clone() AudioRoom {
	r.Speakers = append([]Speaker(nil), r.Speakers...)
	return r
}
