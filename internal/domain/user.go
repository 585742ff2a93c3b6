package domain

import "time"

// Rank is the community rank shown next to a user's name.
type Rank string

const (
	RankNovice  Rank = "Novice"
	RankAnalyst Rank = "Analyst"
	RankGuru    Rank = "Guru"
	RankWizard  Rank = "Market Wizard"
)

// User is a community member profile. Slices are owned by the holder of the
// value; use Clone before handing a User across goroutines.
type User struct {
	ID          string   `yaml:"id" json:"id"`
	Name        string   `yaml:"name" json:"name"`
	Handle      string   `yaml:"handle" json:"handle"`
	Avatar      string   `yaml:"avatar" json:"avatar"`
	Rank        Rank     `yaml:"rank" json:"rank"`
	XP          int      `yaml:"xp" json:"xp"`
	Followers   int      `yaml:"followers" json:"followers"`
	Following   int      `yaml:"following" json:"following"`
	Streak      int      `yaml:"streak" json:"streak"`
	Bio         string   `yaml:"bio" json:"bio"`
	Badges      []string `yaml:"badges" json:"badges"`
	JoinedClubs []string `yaml:"joined_clubs" json:"joinedClubs"`
	Verified    bool     `yaml:"verified" json:"isSebiVerified,omitempty"`
	IsPro       bool     `yaml:"is_pro" json:"isPro,omitempty"`
}

// Clone returns a deep copy of u.
func (u User) Clone() User {
	u.Badges = append([]string(nil), u.Badges...)
	u.JoinedClubs = append([]string(nil), u.JoinedClubs...)
	return u
}

// InClub reports whether the user has joined clubID.
func (u User) InClub(clubID string) bool {
	for _, id := range u.JoinedClubs {
		if id == clubID {
			return true
		}
	}
	return false
}

// Club is a community hub users can join.
type Club struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Category    string `yaml:"category"` // Trading|Investing|News|Crypto
	Members     int    `yaml:"members"`
	Description string `yaml:"description"`
	OwnerID     string `yaml:"owner_id"`
	Premium     bool   `yaml:"premium"`
	Price       int    `yaml:"price"` // monthly, INR
}

// PostType classifies feed posts.
type PostType string

const (
	PostRegular      PostType = "regular"
	PostAnnouncement PostType = "announcement"
	PostSignal       PostType = "signal"
	PostEducational  PostType = "educational"
)

// Post is a feed entry.
type Post struct {
	ID        string
	UserID    string
	User      User
	Content   string
	Hashtags  []string
	Tickers   []string
	ClubID    string // empty for the public feed
	Type      PostType
	CreatedAt time.Time
}

// Notification is a push-style message delivered to the current user.
type Notification struct {
	ID        string
	Title     string
	Body      string
	CreatedAt time.Time
}
