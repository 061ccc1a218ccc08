// Package model defines domain entities shared by the session engine,
// transports and stores.
package model

import (
	"sort"
	"strings"
)

// ActivityKind enumerates the predefined activities a peer can report.
type ActivityKind string

// Activity kinds. Custom carries a free-form label in Activity.CustomLabel.
const (
	ActivityWork       ActivityKind = "Work"
	ActivityCoding     ActivityKind = "Coding"
	ActivityGaming     ActivityKind = "Gaming"
	ActivityCommuting  ActivityKind = "Commuting"
	ActivitySleeping   ActivityKind = "Sleeping"
	ActivityStudying   ActivityKind = "Studying"
	ActivityCooking    ActivityKind = "Cooking"
	ActivityExercising ActivityKind = "Exercising"
	ActivityRelaxing   ActivityKind = "Relaxing"
	ActivityTraveling  ActivityKind = "Traveling"
	ActivityEating     ActivityKind = "Eating"
	ActivityCustom     ActivityKind = "Custom"
)

// Kinds lists every activity kind in display order.
var Kinds = []ActivityKind{
	ActivityWork, ActivityCoding, ActivityGaming, ActivityCommuting,
	ActivitySleeping, ActivityStudying, ActivityCooking, ActivityExercising,
	ActivityRelaxing, ActivityTraveling, ActivityEating, ActivityCustom,
}

// Valid reports whether k is a known activity kind.
func (k ActivityKind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Gender is user-declared and only affects presentation.
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderNone   Gender = ""
)

// Moods is the selectable mood list ("emoji label").
var Moods = []string{
	"😊 Happy",
	"😴 Tired",
	"😤 Focused",
	"🧘 Calm",
	"🤩 Excited",
	"🫠 Exhausted",
}

// WeatherInfo is an optional enrichment attached to an activity.
type WeatherInfo struct {
	Temp      int    `json:"temp"`
	Condition string `json:"condition"`
	Icon      string `json:"icon"`
}

// Activity is the mutable part of a peer's presence.
// UpdatedAt is unix milliseconds and strictly increases on every local
// mutation of the owner's own snapshot; it is the sole merge tie-breaker.
type Activity struct {
	Kind        ActivityKind `json:"kind"`
	CustomLabel string       `json:"custom_label,omitempty"` // meaningful only when Kind == ActivityCustom
	StatusLabel string       `json:"status_label"`
	Mood        string       `json:"mood"`
	Caption     string       `json:"caption"`
	Weather     *WeatherInfo `json:"weather,omitempty"`
	UpdatedAt   int64        `json:"updated_at"`
}

// PresenceSnapshot is a full representation of a peer's current presence.
// A snapshot always replaces a stored copy wholesale, never patches it.
type PresenceSnapshot struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Avatar   string   `json:"avatar,omitempty"`
	Gender   Gender   `json:"gender,omitempty"`
	Activity Activity `json:"activity"`
}

// InitialActivity is the activity state of a freshly created peer.
func InitialActivity(now int64) Activity {
	return Activity{
		Kind:        ActivityRelaxing,
		StatusLabel: "Active now",
		Mood:        Moods[0],
		Weather:     &WeatherInfo{Temp: 24, Condition: "Clear", Icon: "☀️"},
		UpdatedAt:   now,
	}
}

// PeerIdentity is the local installation's identity. ID is permanent;
// RoomCode is a short human-shareable address and may be rotated at will.
type PeerIdentity struct {
	ID       string `json:"id"`
	RoomCode string `json:"room_code"`
}

// LinkRecord is the holder's view of one confirmed partner. Written only
// by the peer that holds it, never by the partner it describes.
type LinkRecord struct {
	PartnerID       string           `json:"partner_id"`
	PartnerRoomCode string           `json:"partner_room_code"`
	Snapshot        PresenceSnapshot `json:"snapshot"`
	LastSeenAt      int64            `json:"last_seen_at"` // unix millis of the last inbound envelope
}

// Message is a single chat entry. Messages are append-only; they are
// never mutated after creation.
type Message struct {
	ID       string `json:"id"`
	SenderID string `json:"sender_id"`
	Text     string `json:"text"`
	SentAt   int64  `json:"sent_at"` // unix millis
}

// ThreadKey derives the chat thread key for an unordered peer pair.
// Both peers compute the same key regardless of who initiated.
func ThreadKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, ":")
}
