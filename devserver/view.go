package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog/log"

	"github.com/dovechat/dovechat/models"
	"github.com/dovechat/dovechat/realtime"
)

var (
	// Names are plain text; message bodies keep safe user-generated markup.
	namePolicy    = bluemonday.StrictPolicy()
	messagePolicy = bluemonday.UGCPolicy()
)

// hub fans realtime events out to every connection a user holds.
type hub struct {
	mu    sync.RWMutex
	conns map[int64]map[*websocket.Conn]struct{}
	wg    sync.WaitGroup
}

func newHub() *hub {
	return &hub{conns: map[int64]map[*websocket.Conn]struct{}{}}
}

func (h *hub) add(userID int64, c *websocket.Conn) {
	h.mu.Lock()
	if h.conns[userID] == nil {
		h.conns[userID] = map[*websocket.Conn]struct{}{}
	}
	h.conns[userID][c] = struct{}{}
	h.mu.Unlock()
}

func (h *hub) remove(userID int64, c *websocket.Conn) {
	h.mu.Lock()
	if set, ok := h.conns[userID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.conns, userID)
		}
	}
	h.mu.Unlock()
}

// emit delivers one event to every connection of each listed user.
func (h *hub) emit(event string, payload any, userIDs ...int64) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	frame := realtime.Envelope{Event: event, Data: data}
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, 4)
	for _, id := range userIDs {
		for c := range h.conns[id] {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range conns {
		_ = c.WriteJSON(frame)
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0)
	for _, set := range h.conns {
		for c := range set {
			conns = append(conns, c)
		}
	}
	h.mu.Unlock()
	for _, c := range conns {
		_ = c.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"))
	}
}

func (h *hub) wait() { h.wg.Wait() }

// handler owns the REST surface, the websocket endpoint and the bearer
// session table.
type handler struct {
	store *store
	hub   *hub

	mu       sync.RWMutex
	sessions map[string]int64
}

type ctxKey int

const userIDKey ctxKey = iota

// NewHandler builds the backend router.
func NewHandler(s *store, h *hub) http.Handler {
	hd := &handler{store: s, hub: h, sessions: map[string]int64{}}
	r := chi.NewRouter()

	r.Post("/auth/login", hd.login)
	r.Post("/user/register", hd.register)

	r.Group(func(r chi.Router) {
		r.Use(hd.requireAuth)
		r.Post("/auth/logout", hd.logout)
		r.Get("/profile", hd.profile)
		r.Put("/profile/update-info", hd.updateInfo)
		r.Put("/profile/update-picture", hd.updatePicture)
		r.Put("/profile/update-password", hd.updatePassword)
		r.Put("/profile/update-email", hd.updateEmail)
		r.Put("/profile/confirm-email", hd.confirmEmail)
		r.Get("/friends/{userID}", hd.listFriends)
		r.Post("/friends/request/{id}", hd.sendRequest)
		r.Post("/friends/accept/{id}", hd.acceptRequest)
		r.Post("/friends/reject/{id}", hd.rejectRequest)
		r.Get("/chat/history/{peerID}", hd.chatHistory)
		r.Post("/chat/send", hd.chatSend)
		r.Get("/user/search", hd.searchUsers)
		r.Get("/notifications", hd.notifications)
		r.Get("/ws", hd.handleWS)
	})
	return r
}

func (hd *handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		hd.mu.RLock()
		userID, ok := hd.sessions[token]
		hd.mu.RUnlock()
		if token == "" || !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	})
}

func currentUser(r *http.Request) int64 {
	id, _ := r.Context().Value(userIDKey).(int64)
	return id
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"message": msg})
}

func (hd *handler) register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name            string `json:"name"`
		Email           string `json:"email"`
		Password        string `json:"password"`
		ConfirmPassword string `json:"confirmPassword"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request body")
		return
	}
	req.Name = namePolicy.Sanitize(strings.TrimSpace(req.Name))
	if req.Name == "" || req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "name, email and password are required")
		return
	}
	if req.ConfirmPassword != "" && req.ConfirmPassword != req.Password {
		writeError(w, http.StatusBadRequest, "passwords do not match")
		return
	}
	hash, err := hashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "hash password")
		return
	}
	u, ok := hd.store.createUser(req.Name, req.Email, hash)
	if !ok {
		writeError(w, http.StatusConflict, "email already registered")
		return
	}
	log.Info().Int64("user", u.ID).Msg("[devserver] registered")
	writeJSON(w, http.StatusCreated, map[string]string{"message": "registered"})
}

func (hd *handler) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request body")
		return
	}
	u, ok := hd.store.userByEmail(req.Email)
	if !ok || !verifyPassword(req.Password, u.PasswordHash) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	token := uuid.NewString()
	hd.mu.Lock()
	hd.sessions[token] = u.ID
	hd.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (hd *handler) logout(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	hd.mu.Lock()
	delete(hd.sessions, token)
	hd.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

func (hd *handler) profile(w http.ResponseWriter, r *http.Request) {
	u, ok := hd.store.userByID(currentUser(r))
	if !ok {
		writeError(w, http.StatusNotFound, "no such user")
		return
	}
	writeJSON(w, http.StatusOK, models.Profile{
		ID: u.ID, Name: u.Name, Lastname: u.Lastname, Email: u.Email,
		Role: u.Role, ProfilePicture: u.ProfilePicture, Bio: u.Bio,
	})
}

func (hd *handler) updateInfo(w http.ResponseWriter, r *http.Request) {
	var req models.ProfileUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request body")
		return
	}
	hd.store.updateUser(currentUser(r), func(u *user) {
		u.Name = namePolicy.Sanitize(req.Name)
		u.Lastname = namePolicy.Sanitize(req.Lastname)
		u.Bio = messagePolicy.Sanitize(req.Bio)
	})
	writeJSON(w, http.StatusOK, map[string]string{"message": "updated"})
}

func (hd *handler) updatePicture(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "expected multipart form")
		return
	}
	file, header, err := r.FormFile("profilePicture")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing profilePicture field")
		return
	}
	_ = file.Close()
	// The dev backend keeps no blob storage; a synthetic ref is enough for
	// the client to display.
	ref := "/uploads/" + uuid.NewString() + "-" + header.Filename
	hd.store.updateUser(currentUser(r), func(u *user) { u.ProfilePicture = ref })
	writeJSON(w, http.StatusOK, map[string]string{"profilePicture": ref})
}

func (hd *handler) updatePassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OldPassword string `json:"oldPassword"`
		NewPassword string `json:"newPassword"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request body")
		return
	}
	u, ok := hd.store.userByID(currentUser(r))
	if !ok || !verifyPassword(req.OldPassword, u.PasswordHash) {
		writeError(w, http.StatusForbidden, "old password does not match")
		return
	}
	hash, err := hashPassword(req.NewPassword)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "hash password")
		return
	}
	hd.store.updateUser(u.ID, func(u *user) { u.PasswordHash = hash })
	writeJSON(w, http.StatusOK, map[string]string{"message": "password changed"})
}

func (hd *handler) updateEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NewEmail string `json:"newEmail"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.NewEmail == "" {
		writeError(w, http.StatusBadRequest, "newEmail is required")
		return
	}
	code := uuid.NewString()[:8]
	hd.store.updateUser(currentUser(r), func(u *user) {
		u.PendingEmail = req.NewEmail
		u.EmailCode = code
	})
	// No mailer here; the code goes to the server log instead.
	log.Info().Int64("user", currentUser(r)).Str("code", code).Msg("[devserver] email verification code")
	writeJSON(w, http.StatusOK, map[string]string{"message": "verification code sent"})
}

func (hd *handler) confirmEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request body")
		return
	}
	confirmed := false
	hd.store.updateUser(currentUser(r), func(u *user) {
		if u.PendingEmail != "" && u.EmailCode == req.Code {
			u.Email = u.PendingEmail
			u.PendingEmail = ""
			u.EmailCode = ""
			confirmed = true
		}
	})
	if !confirmed {
		writeError(w, http.StatusBadRequest, "invalid verification code")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "email updated"})
}

func (hd *handler) listFriends(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad user id")
		return
	}
	writeJSON(w, http.StatusOK, hd.store.edgesFor(userID))
}

func (hd *handler) sendRequest(w http.ResponseWriter, r *http.Request) {
	receiverID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad user id")
		return
	}
	senderID := currentUser(r)
	if receiverID == senderID {
		writeError(w, http.StatusBadRequest, "cannot befriend yourself")
		return
	}
	if _, ok := hd.store.userByID(receiverID); !ok {
		writeError(w, http.StatusNotFound, "no such user")
		return
	}
	req, ok := hd.store.createRequest(senderID, receiverID)
	if !ok {
		writeError(w, http.StatusConflict, "request already exists")
		return
	}
	hd.hub.emit(realtime.EventFriendRequest, models.FriendRequestEvent{
		SenderID: senderID, ReceiverID: receiverID, Status: models.StatusPending,
	}, receiverID)
	writeJSON(w, http.StatusCreated, map[string]int64{"requestId": req.ID})
}

func (hd *handler) acceptRequest(w http.ResponseWriter, r *http.Request) {
	hd.resolve(w, r, models.StatusAccepted)
}

func (hd *handler) rejectRequest(w http.ResponseWriter, r *http.Request) {
	hd.resolve(w, r, models.StatusRejected)
}

func (hd *handler) resolve(w http.ResponseWriter, r *http.Request, status models.FriendStatus) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad request id")
		return
	}
	req, ok := hd.store.resolveRequest(id, currentUser(r), status)
	if !ok {
		writeError(w, http.StatusConflict, "request is not pending for you")
		return
	}
	hd.hub.emit(realtime.EventFriendStatus, models.FriendStatusEvent{
		RequestID: req.ID, Status: status,
	}, req.SenderID, req.ReceiverID)
	writeJSON(w, http.StatusOK, map[string]string{"message": string(status)})
}

func (hd *handler) chatHistory(w http.ResponseWriter, r *http.Request) {
	peerID, err := strconv.ParseInt(chi.URLParam(r, "peerID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad peer id")
		return
	}
	userID := currentUser(r)
	if q := r.URL.Query().Get("userId"); q != "" {
		// The caller states its own id; it must match the session.
		if stated, err := strconv.ParseInt(q, 10, 64); err != nil || stated != userID {
			writeError(w, http.StatusForbidden, "userId does not match session")
			return
		}
	}
	writeJSON(w, http.StatusOK, hd.store.history(userID, peerID))
}

func (hd *handler) chatSend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID   int64  `json:"userId"`
		FriendID int64  `json:"friendId"`
		Message  string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request body")
		return
	}
	senderID := currentUser(r)
	body := strings.TrimSpace(messagePolicy.Sanitize(req.Message))
	if body == "" || req.FriendID == 0 {
		writeError(w, http.StatusBadRequest, "friendId and message are required")
		return
	}
	m := hd.store.appendMessage(senderID, req.FriendID, body)
	// The sender gets the echo too; the client appends only on echo.
	hd.hub.emit(realtime.EventMessage, m, senderID, req.FriendID)
	writeJSON(w, http.StatusCreated, m)
}

func (hd *handler) searchUsers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, hd.store.searchUsers(r.URL.Query().Get("keyword")))
}

func (hd *handler) notifications(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, hd.store.notificationsFor(currentUser(r)))
}

func (hd *handler) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	userID := currentUser(r)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	hd.hub.add(userID, conn)
	hd.hub.wg.Add(1)
	go func() {
		defer func() {
			hd.hub.remove(userID, conn)
			_ = conn.Close()
			hd.hub.wg.Done()
		}()
		for {
			var env realtime.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			switch env.Event {
			case realtime.EventTyping, realtime.EventStopTyping:
				var ev models.TypingEvent
				if json.Unmarshal(env.Data, &ev) != nil {
					continue
				}
				// Forward to the target peer, rewriting friendId to point
				// back at the typist.
				hd.hub.emit(env.Event, models.TypingEvent{FriendID: userID}, ev.FriendID)
			default:
				log.Debug().Str("event", env.Event).Msg("[devserver] drop unexpected client event")
			}
		}
	}()
}
