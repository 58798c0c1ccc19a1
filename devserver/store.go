package main

import (
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/pebble/v2"

	"github.com/dovechat/dovechat/models"
)

// user is the server-side account record.
type user struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	Lastname       string `json:"lastname"`
	Email          string `json:"email"`
	Role           string `json:"role"`
	PasswordHash   string `json:"passwordHash"`
	ProfilePicture string `json:"profilePicture,omitempty"`
	Bio            string `json:"bio,omitempty"`
	PendingEmail   string `json:"pendingEmail,omitempty"`
	EmailCode      string `json:"emailCode,omitempty"`
}

// request is one friend request between two users.
type request struct {
	ID         int64               `json:"id"`
	SenderID   int64               `json:"senderId"`
	ReceiverID int64               `json:"receiverId"`
	Status     models.FriendStatus `json:"status"`
}

// store keeps everything in memory and, when a data path is given, mirrors
// each write into PebbleDB so restarts keep history. Keys are a one-byte
// kind prefix plus the 8-byte big-endian id.
type store struct {
	mu       sync.RWMutex
	users    map[int64]*user
	requests map[int64]*request
	messages []models.Message

	nextUser    int64
	nextRequest int64
	nextMessage int64

	db *pebble.DB
}

const (
	kindUser    = 'u'
	kindRequest = 'r'
	kindMessage = 'm'
)

func openStore(dir string) (*store, error) {
	s := &store{
		users:    map[int64]*user{},
		requests: map[int64]*request{},
	}
	if dir == "" {
		return s, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := pebble.Open(filepath.Clean(dir), &pebble.Options{})
	if err != nil {
		return nil, err
	}
	s.db = db
	return s, s.bootstrap()
}

// bootstrap reloads the in-memory maps from pebble.
func (s *store) bootstrap() error {
	it, err := s.db.NewIter(nil)
	if err != nil {
		return err
	}
	defer func() { _ = it.Close() }()
	for it.First(); it.Valid(); it.Next() {
		key := it.Key()
		if len(key) != 9 {
			continue
		}
		id := int64(binary.BigEndian.Uint64(key[1:]))
		switch key[0] {
		case kindUser:
			var u user
			if json.Unmarshal(it.Value(), &u) == nil {
				s.users[id] = &u
				s.nextUser = max(s.nextUser, id)
			}
		case kindRequest:
			var r request
			if json.Unmarshal(it.Value(), &r) == nil {
				s.requests[id] = &r
				s.nextRequest = max(s.nextRequest, id)
			}
		case kindMessage:
			var m models.Message
			if json.Unmarshal(it.Value(), &m) == nil {
				s.messages = append(s.messages, m)
				s.nextMessage = max(s.nextMessage, id)
			}
		}
	}
	models.SortMessages(s.messages)
	return nil
}

func (s *store) persist(kind byte, id int64, v any) {
	if s.db == nil {
		return
	}
	key := make([]byte, 9)
	key[0] = kind
	binary.BigEndian.PutUint64(key[1:], uint64(id))
	val, _ := json.Marshal(v)
	_ = s.db.Set(key, val, pebble.Sync)
}

func (s *store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *store) createUser(name, email, hash string) (*user, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return nil, false
		}
	}
	s.nextUser++
	u := &user{ID: s.nextUser, Name: name, Email: email, Role: "user", PasswordHash: hash}
	s.users[u.ID] = u
	s.persist(kindUser, u.ID, u)
	return u, true
}

func (s *store) userByEmail(email string) (*user, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return u, true
		}
	}
	return nil, false
}

func (s *store) userByID(id int64) (*user, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	return u, ok
}

func (s *store) updateUser(id int64, mutate func(*user)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return false
	}
	mutate(u)
	s.persist(kindUser, id, u)
	return true
}

func (s *store) searchUsers(keyword string) []models.User {
	needle := strings.ToLower(keyword)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.User
	for _, u := range s.users {
		haystack := strings.ToLower(u.Name + " " + u.Lastname + " " + u.Email)
		if needle == "" || strings.Contains(haystack, needle) {
			out = append(out, models.User{ID: u.ID, Name: u.Name, Lastname: u.Lastname, Email: u.Email})
		}
	}
	return out
}

// createRequest refuses a duplicate active edge for the pair; a rejected
// one does not block a fresh request.
func (s *store) createRequest(senderID, receiverID int64) (*request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.requests {
		samePair := (r.SenderID == senderID && r.ReceiverID == receiverID) ||
			(r.SenderID == receiverID && r.ReceiverID == senderID)
		if samePair && r.Status != models.StatusRejected {
			return nil, false
		}
	}
	s.nextRequest++
	r := &request{ID: s.nextRequest, SenderID: senderID, ReceiverID: receiverID, Status: models.StatusPending}
	s.requests[r.ID] = r
	s.persist(kindRequest, r.ID, r)
	return r, true
}

// resolveRequest moves a pending request to accepted or rejected. Only the
// receiver may resolve, and only once.
func (s *store) resolveRequest(id, receiverID int64, status models.FriendStatus) (*request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok || r.ReceiverID != receiverID || r.Status != models.StatusPending {
		return nil, false
	}
	r.Status = status
	s.persist(kindRequest, id, r)
	return r, true
}

// edgesFor builds the friend list for one user: accepted edges on both
// sides, pending ones included so senders see them waiting and receivers
// can act on them.
func (s *store) edgesFor(userID int64) []models.FriendEdge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	edges := make([]models.FriendEdge, 0)
	for _, r := range s.requests {
		if r.Status == models.StatusRejected {
			continue
		}
		var peerID int64
		switch userID {
		case r.SenderID:
			peerID = r.ReceiverID
		case r.ReceiverID:
			peerID = r.SenderID
		default:
			continue
		}
		peer, ok := s.users[peerID]
		if !ok {
			continue
		}
		edges = append(edges, models.FriendEdge{
			PeerID:    peerID,
			RequestID: r.ID,
			Name:      peer.Name,
			Lastname:  peer.Lastname,
			PhotoRef:  peer.ProfilePicture,
			Status:    r.Status,
		})
	}
	return edges
}

func (s *store) appendMessage(senderID, recipientID int64, body string) models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextMessage++
	m := models.Message{
		ID:          s.nextMessage,
		SenderID:    senderID,
		RecipientID: recipientID,
		Body:        body,
		Timestamp:   time.Now().UTC(),
	}
	s.messages = append(s.messages, m)
	s.persist(kindMessage, m.ID, m)
	return m
}

func (s *store) history(a, b int64) []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Message, 0)
	for _, m := range s.messages {
		if m.Between(a, b) {
			out = append(out, m)
		}
	}
	return out
}

// notificationsFor lists one line per pending request addressed to userID.
func (s *store) notificationsFor(userID int64) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0)
	for _, r := range s.requests {
		if r.ReceiverID == userID && r.Status == models.StatusPending {
			if sender, ok := s.users[r.SenderID]; ok {
				out = append(out, "Friend request from "+sender.Name+" "+sender.Lastname)
			}
		}
	}
	return out
}
