package model

// Operation types for change events
const (
	OpInsert uint8 = 0
	OpUpdate uint8 = 1
	OpDelete uint8 = 2
)

// GlobalSchema is the schema shared by every project (users, subscriptions,
// system settings). Events on it are visible to all listeners.
const GlobalSchema = "global"

// Subscription delivery methods
const (
	MethodWebSocket   = "websocket"
	MethodFCM         = "fcm"
	MethodAPNS        = "apns"
	MethodAPNSSandbox = "apns-sb"
	MethodWNS         = "wns"
)

// ChannelType partitions listeners into the two delivery pipelines.
type ChannelType uint8

const (
	ChannelSocket ChannelType = iota
	ChannelPush
)

// ChannelFor maps a subscription method to its delivery channel.
func ChannelFor(method string) ChannelType {
	if method == MethodWebSocket {
		return ChannelSocket
	}
	return ChannelPush
}

// ChangeEvent is one row mutation emitted by the storage layer change feed.
// Diff names the changed columns; Current/Previous hold before/after column
// snapshots restricted to columns the accessor marked notifiable.
type ChangeEvent struct {
	Schema   string         `msgpack:"schema"`
	Table    string         `msgpack:"tbl"`
	Op       uint8          `msgpack:"op"`
	ID       int64          `msgpack:"id"`
	GN       int64          `msgpack:"gn"` // Row generation number
	Diff     []string       `msgpack:"diff"`
	Current  map[string]any `msgpack:"cur"`
	Previous map[string]any `msgpack:"prev"`
}

// Changed reports whether the event's diff names the given column.
func (e *ChangeEvent) Changed(column string) bool {
	for _, c := range e.Diff {
		if c == column {
			return true
		}
	}
	return false
}

// User is an active account able to receive notifications.
type User struct {
	ID           int64          `db:"id"`
	Name         string         `db:"name"` // Login/mention handle
	DisplayName  string         `db:"display_name"`
	ProfileImage string         `db:"profile_image"`
	Admin        bool           `db:"admin"`
	Deleted      bool           `db:"deleted"`
	Settings     map[string]any `db:"-"`
}

// Subscription identifies one delivery address for a user.
type Subscription struct {
	ID      int64  `db:"id"`
	UserID  int64  `db:"user_id"`
	Token   string `db:"token"`
	Method  string `db:"method"` // websocket|fcm|apns|apns-sb|wns
	Relay   string `db:"relay"`  // Push relay URL, push methods only
	Area    string `db:"area"`
	Schema  string `db:"schema"` // Watched schema, "*" for all
	Locale  string `db:"locale"`
	Deleted bool   `db:"deleted"`
}

// Channel returns the delivery channel implied by the subscription method.
func (s *Subscription) Channel() ChannelType {
	return ChannelFor(s.Method)
}

// Listener is one (User, Subscription) pair a message could be delivered to.
// Rebuilt fresh each batch; never mutated in place.
type Listener struct {
	User         *User
	Subscription *Subscription
	Channel      ChannelType
}

// SystemSettings is the singleton configuration row for the installation.
type SystemSettings struct {
	ID       int64          `db:"id"`
	Address  string         `db:"address"` // Public base URL of this site
	Settings map[string]any `db:"-"`
}

// Notification is a persisted, typed record of one user-facing event
// directed at one target user. Soft-deleted only.
type Notification struct {
	ID           int64          `db:"id"`
	Schema       string         `db:"schema"`
	Type         string         `db:"type"`
	StoryID      int64          `db:"story_id"`    // 0 when not story-scoped
	ReactionID   int64          `db:"reaction_id"` // 0 when not reaction-scoped
	UserID       int64          `db:"user_id"`     // Acting user
	TargetUserID int64          `db:"target_user_id"`
	Details      map[string]any `db:"-"`
	Seen         bool           `db:"seen"`
	Suppressed   bool           `db:"suppressed"`
	Deleted      bool           `db:"deleted"`
	CreatedAt    int64          `db:"created_at"` // Unix ms
}

// Alert is the localized, renderable form of a Notification.
type Alert struct {
	Type         string         `json:"type" msgpack:"type"`
	Title        string         `json:"title" msgpack:"title"`
	Message      string         `json:"message" msgpack:"message"`
	ProfileImage string         `json:"profile_image,omitempty" msgpack:"profile_image,omitempty"`
	Schema       string         `json:"schema,omitempty" msgpack:"schema,omitempty"`
	StoryID      int64          `json:"story_id,omitempty" msgpack:"story_id,omitempty"`
	ReactionID   int64          `json:"reaction_id,omitempty" msgpack:"reaction_id,omitempty"`
	Extra        map[string]any `json:"extra,omitempty" msgpack:"extra,omitempty"`
}

// Story is the subset of a story row the notification rules need when an
// event carries only the story reference (reaction events, mention scans).
type Story struct {
	Schema  string  `db:"schema"`
	ID      int64   `db:"id"`
	Type    string  `db:"type"`
	UserIDs []int64 `db:"-"` // Owner plus coauthors, in order
	PTime   int64   `db:"ptime"` // Publish time, unix ms; 0 = unpublished
	Deleted bool    `db:"deleted"`
}

// Message kinds
const (
	KindRevalidation = "revalidation"
	KindChange       = "change"
	KindAlert        = "alert"
)

// PendingChange is one entry of a listener's accumulated change set.
type PendingChange struct {
	Schema string `json:"schema" msgpack:"schema"`
	Table  string `json:"table" msgpack:"table"`
	ID     int64  `json:"id" msgpack:"id"`
	GN     int64  `json:"gn" msgpack:"gn"`
}

// Message is one deliverable unit for one listener. Ephemeral; one per
// (batch, listener) pairing that has something to report.
type Message struct {
	Kind     string
	Listener Listener
	Body     any
	Address  string // Site base URL, used for absolute image links

	// Notification backs alert-kind messages so the dispatcher can apply
	// per-channel preference filters; nil for other kinds.
	Notification *Notification
}
