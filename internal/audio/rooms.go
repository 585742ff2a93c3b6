package audio

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/ykvlv/investmate/internal/domain"
)

var (
	ErrUnknownRoom = errors.New("unknown room")
	ErrUnknownClub = errors.New("unknown club")
	ErrNotMember   = errors.New("not a club member")
	ErrRoomEnded   = errors.New("room has ended")
	ErrEmptyTitle  = errors.New("empty room title")
)

// Members resolves the current user and clubs.
type Members interface {
	CurrentUser() domain.User
	Club(id string) (domain.Club, bool)
}

// Rooms is the registry of audio rooms and the one room the current user is in.
// Entering a room connects the transport and starts the free listening
// counter; leaving stops both.
type Rooms struct {
	members   Members
	transport *Transport
	limiter   *ListenLimiter
	log       *zap.Logger
	clock     clockwork.Clock

	mu     sync.Mutex
	rooms  []domain.AudioRoom // newest first
	active *domain.AudioRoom
}

// NewRooms returns an empty registry. limiter may be nil; its time-up
// callback must not call back into Rooms.
func NewRooms(members Members, transport *Transport, limiter *ListenLimiter, log *zap.Logger, clock clockwork.Clock) *Rooms {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Rooms{
		members:   members,
		transport: transport,
		limiter:   limiter,
		log:       log.Named("rooms"),
		clock:     clock,
	}
}

// Host lists a live room run by someone else, e.g. a room seeded at startup.
// The current user does not enter it.
func (r *Rooms) Host(clubID, title, topic string, speakers []domain.Speaker) (domain.AudioRoom, error) {
	room, err := r.newRoom(clubID, title, topic, speakers)
	if err != nil {
		return domain.AudioRoom{}, err
	}
	r.mu.Lock()
	r.rooms = append([]domain.AudioRoom{room}, r.rooms...)
	r.mu.Unlock()
	r.log.Info("room listed", zap.String("id", room.ID), zap.String("club", clubID))
	return room.Clone(), nil
}

// Create opens a room hosted by the current user and enters it.
func (r *Rooms) Create(clubID, title, topic string) (domain.AudioRoom, error) {
	me := r.members.CurrentUser()
	host := domain.Speaker{ID: me.ID, UserID: me.ID, User: me, Role: domain.RoleHost}
	room, err := r.newRoom(clubID, title, topic, []domain.Speaker{host})
	if err != nil {
		return domain.AudioRoom{}, err
	}
	room.HostID = me.ID

	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms = append([]domain.AudioRoom{room}, r.rooms...)
	r.enter(room)
	r.log.Info("room created", zap.String("id", room.ID), zap.String("club", clubID))
	return room.Clone(), nil
}

func (r *Rooms) newRoom(clubID, title, topic string, speakers []domain.Speaker) (domain.AudioRoom, error) {
	if strings.TrimSpace(title) == "" {
		return domain.AudioRoom{}, ErrEmptyTitle
	}
	club, ok := r.members.Club(clubID)
	if !ok {
		return domain.AudioRoom{}, fmt.Errorf("%w: %s", ErrUnknownClub, clubID)
	}
	room := domain.AudioRoom{
		ID:            uuid.NewString(),
		ClubID:        club.ID,
		ClubName:      club.Name,
		Title:         strings.TrimSpace(title),
		Topic:         topic,
		Speakers:      append([]domain.Speaker(nil), speakers...),
		ListenerCount: 1,
		Status:        domain.RoomLive,
		StartedAt:     r.clock.Now().UTC(),
	}
	for _, s := range speakers {
		if s.Role == domain.RoleHost {
			room.HostID = s.UserID
			break
		}
	}
	return room, nil
}

// Join enters a live room as a muted listener, leaving the current room
// first. Only members of the room's club may join.
func (r *Rooms) Join(roomID string) (domain.AudioRoom, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.index(roomID)
	if i < 0 {
		return domain.AudioRoom{}, fmt.Errorf("%w: %s", ErrUnknownRoom, roomID)
	}
	room := r.rooms[i]
	me := r.members.CurrentUser()
	if !me.InClub(room.ClubID) {
		return domain.AudioRoom{}, fmt.Errorf("%w: join %s to enter this room", ErrNotMember, room.ClubName)
	}
	if room.Status == domain.RoomEnded {
		return domain.AudioRoom{}, ErrRoomEnded
	}

	room = room.Clone()
	room.Speakers = append(room.Speakers, domain.Speaker{
		ID:     "me",
		UserID: me.ID,
		User:   me,
		Role:   domain.RoleListener,
		Muted:  true,
	})
	room.ListenerCount++
	r.enter(room)
	r.log.Info("joined room", zap.String("id", room.ID), zap.String("user", me.ID))
	return room.Clone(), nil
}

// Leave exits the current room. Idempotent.
func (r *Rooms) Leave() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leave()
}

// End marks a room ended; the current user is removed from it.
func (r *Rooms) End(roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.index(roomID)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownRoom, roomID)
	}
	r.rooms[i].Status = domain.RoomEnded
	if r.active != nil && r.active.ID == roomID {
		r.leave()
	}
	r.log.Info("room ended", zap.String("id", roomID))
	return nil
}

// Active returns the room the current user is in.
func (r *Rooms) Active() (domain.AudioRoom, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return domain.AudioRoom{}, false
	}
	return r.active.Clone(), true
}

// Live returns the rooms that have not ended, newest first.
func (r *Rooms) Live() []domain.AudioRoom {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.AudioRoom
	for _, room := range r.rooms {
		if room.Status == domain.RoomLive {
			out = append(out, room.Clone())
		}
	}
	return out
}

func (r *Rooms) index(id string) int {
	for i := range r.rooms {
		if r.rooms[i].ID == id {
			return i
		}
	}
	return -1
}

// enter and leave must hold r.mu.
func (r *Rooms) enter(room domain.AudioRoom) {
	r.leave()
	r.active = &room
	r.transport.Connect(room.Speakers)
	if r.limiter != nil {
		r.limiter.Start()
	}
}

func (r *Rooms) leave() {
	if r.active == nil {
		return
	}
	if r.limiter != nil {
		r.limiter.Stop()
	}
	r.transport.Disconnect()
	r.log.Info("left room", zap.String("id", r.active.ID))
	r.active = nil
}
