// Package state owns the in-memory application state: the current user and
// its entitlement flag, clubs, the feed and the notification inbox. It is the
// only writer of these fields; simulators read snapshots and call its methods.
package state

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/ykvlv/investmate/assets"
	"github.com/ykvlv/investmate/internal/domain"
)

var (
	ErrUnknownUser = errors.New("unknown user")
	ErrUnknownClub = errors.New("unknown club")
)

// maxInbox bounds the notification inbox; older entries are dropped.
const maxInbox = 100

// Store is safe for concurrent use.
type Store struct {
	clock clockwork.Clock

	mu            sync.RWMutex
	users         map[string]domain.User
	current       string
	clubs         []domain.Club
	posts         []domain.Post // newest first
	postIDs       map[string]struct{}
	notifications []domain.Notification // newest last
}

// New builds a Store from seed data with currentUserID logged in.
func New(seed assets.Seed, currentUserID string, clock clockwork.Clock) (*Store, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	s := &Store{
		clock:   clock,
		users:   make(map[string]domain.User, len(seed.Users)),
		postIDs: make(map[string]struct{}),
	}
	for _, u := range seed.Users {
		s.users[u.ID] = u.Clone()
	}
	s.clubs = append(s.clubs, seed.Clubs...)
	if _, ok := s.users[currentUserID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUser, currentUserID)
	}
	s.current = currentUserID
	return s, nil
}

// CurrentUser returns a snapshot of the logged-in user.
func (s *Store) CurrentUser() domain.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.users[s.current].Clone()
}

// User returns a snapshot of any known user.
func (s *Store) User(id string) (domain.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	return u.Clone(), ok
}

// SwitchUser changes the logged-in user.
func (s *Store) SwitchUser(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownUser, id)
	}
	s.current = id
	return nil
}

// IsPro reports the current user's entitlement flag.
func (s *Store) IsPro() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.users[s.current].IsPro
}

// UpgradeToPro sets the current user's entitlement flag. It reports whether
// the flag changed.
func (s *Store) UpgradeToPro() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.users[s.current]
	if u.IsPro {
		return false
	}
	u.IsPro = true
	s.users[s.current] = u
	return true
}

// ProfileUpdate carries optional profile edits; nil fields are left unchanged.
type ProfileUpdate struct {
	Name   *string
	Bio    *string
	Avatar *string
}

// UpdateProfile edits the current user and refreshes the author snapshot on
// their existing posts.
func (s *Store) UpdateProfile(upd ProfileUpdate) domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.users[s.current]
	if upd.Name != nil {
		u.Name = *upd.Name
	}
	if upd.Bio != nil {
		u.Bio = *upd.Bio
	}
	if upd.Avatar != nil {
		u.Avatar = *upd.Avatar
	}
	s.users[s.current] = u
	for i := range s.posts {
		if s.posts[i].UserID == u.ID {
			s.posts[i].User = u.Clone()
		}
	}
	return u.Clone()
}

// AddXP adds amount to the current user's XP.
func (s *Store) AddXP(amount int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.users[s.current]
	u.XP += amount
	s.users[s.current] = u
}

// Club returns a club by id.
func (s *Store) Club(id string) (domain.Club, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.clubIndex(id)
	if i < 0 {
		return domain.Club{}, false
	}
	return s.clubs[i], true
}

// Clubs returns all clubs, newest created first.
func (s *Store) Clubs() []domain.Club {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Club(nil), s.clubs...)
}

func (s *Store) clubIndex(id string) int {
	for i := range s.clubs {
		if s.clubs[i].ID == id {
			return i
		}
	}
	return -1
}

// JoinClub adds the current user to a club. Joining twice is a no-op.
func (s *Store) JoinClub(clubID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.clubIndex(clubID)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownClub, clubID)
	}
	u := s.users[s.current]
	if u.InClub(clubID) {
		return nil
	}
	u.JoinedClubs = append(u.JoinedClubs, clubID)
	s.users[s.current] = u
	s.clubs[i].Members++
	return nil
}

// LeaveClub removes the current user from a club. Leaving a club the user is
// not in is a no-op.
func (s *Store) LeaveClub(clubID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.clubIndex(clubID)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownClub, clubID)
	}
	u := s.users[s.current]
	if !u.InClub(clubID) {
		return nil
	}
	kept := u.JoinedClubs[:0:0]
	for _, id := range u.JoinedClubs {
		if id != clubID {
			kept = append(kept, id)
		}
	}
	u.JoinedClubs = kept
	s.users[s.current] = u
	s.clubs[i].Members--
	return nil
}

// CreateClub creates a club owned by the current user, who joins it without
// bumping the member count a second time.
func (s *Store) CreateClub(name, category, description string, premium bool, price int) domain.Club {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := domain.Club{
		ID:          uuid.NewString(),
		Name:        name,
		Category:    category,
		Members:     1,
		Description: description,
		OwnerID:     s.current,
		Premium:     premium,
	}
	if premium {
		c.Price = price
	}
	s.clubs = append([]domain.Club{c}, s.clubs...)
	u := s.users[s.current]
	u.JoinedClubs = append(u.JoinedClubs, c.ID)
	s.users[s.current] = u
	return c
}

// CreatePost prepends p to the feed. A post whose ID is already in the feed
// is ignored, so redelivery never duplicates a post. Missing ID, timestamp,
// tickers and hashtags are filled in.
func (s *Store) CreatePost(_ context.Context, p domain.Post) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.clock.Now().UTC()
	}
	if p.Type == "" {
		p.Type = domain.PostRegular
	}
	if p.Tickers == nil {
		p.Tickers = domain.ExtractTickers(p.Content)
	}
	if p.Hashtags == nil {
		p.Hashtags = domain.ExtractHashtags(p.Content)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.postIDs[p.ID]; dup {
		return nil
	}
	if p.User.ID == "" {
		p.User = s.users[p.UserID].Clone()
	}
	s.postIDs[p.ID] = struct{}{}
	s.posts = append([]domain.Post{p}, s.posts...)
	return nil
}

// Posts returns the feed, newest first.
func (s *Store) Posts() []domain.Post {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Post(nil), s.posts...)
}

// AddNotification appends to the inbox.
func (s *Store) AddNotification(title, body string) domain.Notification {
	n := domain.Notification{
		ID:        uuid.NewString(),
		Title:     title,
		Body:      body,
		CreatedAt: s.clock.Now().UTC(),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, n)
	if over := len(s.notifications) - maxInbox; over > 0 {
		s.notifications = append([]domain.Notification(nil), s.notifications[over:]...)
	}
	return n
}

// Notifications returns the inbox, oldest first.
func (s *Store) Notifications() []domain.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Notification(nil), s.notifications...)
}
