package models

import (
	"sort"
	"time"
)

// FriendStatus is the resolved state of a friend edge as seen by this client.
type FriendStatus string

const (
	StatusPending  FriendStatus = "pending"
	StatusAccepted FriendStatus = "accepted"
	StatusRejected FriendStatus = "rejected"
)

// User is a directory entry returned by user search.
type User struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Lastname string `json:"lastname"`
	Email    string `json:"email"`
}

// Profile is the current user's own record, editable through the profile
// endpoints only.
type Profile struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	Lastname       string `json:"lastname"`
	Email          string `json:"email"`
	Role           string `json:"role,omitempty"`
	ProfilePicture string `json:"profilePicture,omitempty"`
	Bio            string `json:"bio,omitempty"`
}

// ProfileUpdate carries the editable subset of Profile.
type ProfileUpdate struct {
	Name           string `json:"name"`
	Lastname       string `json:"lastname"`
	Bio            string `json:"bio"`
	ProfilePicture string `json:"profilePicture,omitempty"`
}

// FriendEdge is one friend-relationship record. A peer has at most one
// active edge; a new request after a rejection is a new edge with a new
// RequestID.
type FriendEdge struct {
	PeerID    int64        `json:"friend_id"`
	RequestID int64        `json:"request_id"`
	Name      string       `json:"user_name"`
	Lastname  string       `json:"user_lastname"`
	PhotoRef  string       `json:"profilePicture,omitempty"`
	Status    FriendStatus `json:"status"`
}

// DisplayName is the "Name Lastname" form used for search filtering and
// rendering.
func (e FriendEdge) DisplayName() string {
	if e.Lastname == "" {
		return e.Name
	}
	return e.Name + " " + e.Lastname
}

// Message is immutable once created. Ordering key is Timestamp with ID as
// the ascending tie-break.
type Message struct {
	ID          int64     `json:"id"`
	SenderID    int64     `json:"userId"`
	RecipientID int64     `json:"friendId"`
	Body        string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
}

// Between reports whether the message belongs to the unordered pair {a, b}.
func (m Message) Between(a, b int64) bool {
	return (m.SenderID == a && m.RecipientID == b) ||
		(m.SenderID == b && m.RecipientID == a)
}

// Less orders messages by (timestamp, id ascending).
func (m Message) Less(other Message) bool {
	if m.Timestamp.Equal(other.Timestamp) {
		return m.ID < other.ID
	}
	return m.Timestamp.Before(other.Timestamp)
}

// SortMessages sorts in place, stably, by (timestamp, id). The backend does
// not guarantee history order, so this runs on every history seed.
func SortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Less(msgs[j]) })
}

// TypingEvent is the payload of the realtime "typing" and "stop_typing"
// events. FriendID is the peer doing (or no longer doing) the typing.
type TypingEvent struct {
	FriendID int64 `json:"friendId"`
}

// FriendStatusEvent announces a status transition on an existing request.
type FriendStatusEvent struct {
	RequestID int64        `json:"requestId"`
	Status    FriendStatus `json:"status"`
}

// FriendRequestEvent announces a brand new friend request. The payload is
// partial; receivers re-fetch the friend list instead of synthesizing an
// edge from it.
type FriendRequestEvent struct {
	SenderID   int64        `json:"senderId"`
	ReceiverID int64        `json:"receiverId"`
	Status     FriendStatus `json:"status"`
}
