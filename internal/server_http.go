package internal

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"flashchat/internal/auth"
	"flashchat/internal/profile"
	"flashchat/internal/rooms"
	"flashchat/internal/snaps"
)

var (
	errRateLimited = errors.New("too many requests, slow down")
	errBadRequest  = errors.New("bad request")
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type profileRequest struct {
	DisplayName string `json:"displayName"`
	Bio         string `json:"bio"`
}

type premiumRequest struct {
	Enabled *bool `json:"enabled"`
}

type createRoomRequest struct {
	Name string `json:"name"`
}

type sendRequest struct {
	Text string `json:"text"`
}

type userDTO struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Bio         string `json:"bio"`
	IsPremium   bool   `json:"isPremium"`
	Online      bool   `json:"online"`
}

type roomDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	CreatorName string `json:"creatorName,omitempty"`
	Members     int    `json:"members,omitempty"`
	Public      bool   `json:"public"`
}

type roomsResponse struct {
	Rooms []roomDTO `json:"rooms"`
}

type snapsResponse struct {
	Room  roomDTO              `json:"room"`
	Snaps []snaps.Presentation `json:"snaps"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (s *Server) HandleGuest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if !s.authLimiter.Allow(s.clientIP(r)) {
		writeError(w, errRateLimited)
		return
	}
	grant, err := s.directory.Guest(r.Context())
	if err != nil {
		s.failure(w, r, err)
		return
	}
	if _, err := s.gate.Ensure(r.Context(), grant.Identity.ID); err != nil {
		s.failure(w, r, err)
		return
	}
	s.metrics.IncGuest()
	writeJSON(w, http.StatusCreated, grant)
}

func (s *Server) HandleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if !s.authLimiter.Allow(s.clientIP(r)) {
		writeError(w, errRateLimited)
		return
	}
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, errBadRequest)
		return
	}
	grant, err := s.directory.Signup(r.Context(), req.Email, req.Password)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	if _, err := s.gate.Ensure(r.Context(), grant.Identity.ID); err != nil {
		s.failure(w, r, err)
		return
	}
	s.metrics.IncSignup()
	writeJSON(w, http.StatusCreated, grant)
}

func (s *Server) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if !s.authLimiter.Allow(s.clientIP(r)) {
		writeError(w, errRateLimited)
		return
	}
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, errBadRequest)
		return
	}
	grant, err := s.directory.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	s.metrics.IncLogin()
	writeJSON(w, http.StatusOK, grant)
}

func (s *Server) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	authCtx, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	if err := s.directory.Logout(r.Context(), authCtx.Token); err != nil {
		s.failure(w, r, err)
		return
	}
	s.streams.CloseToken(authCtx.Token)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) HandleProfile(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		p, err := s.gate.Ensure(r.Context(), authCtx.Identity.ID)
		if err != nil {
			s.failure(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	case http.MethodPut:
		var req profileRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, errBadRequest)
			return
		}
		p, err := s.gate.Update(r.Context(), authCtx.Identity.ID, req.DisplayName, req.Bio)
		if err != nil {
			s.failure(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	default:
		methodNotAllowed(w, http.MethodGet+", "+http.MethodPut)
	}
}

// HandlePremium toggles the premium flag, or sets it when the body names a value.
func (s *Server) HandlePremium(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	authCtx, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	var req premiumRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, errBadRequest)
			return
		}
	}
	current, err := s.gate.Ensure(r.Context(), authCtx.Identity.ID)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	enabled := !current.IsPremium
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	p, err := s.gate.SetPremium(r.Context(), authCtx.Identity.ID, enabled)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) HandleSearchUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	authCtx, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	found, err := s.gate.Search(r.Context(), r.URL.Query().Get("prefix"), authCtx.Identity.ID)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	users := make([]userDTO, 0, len(found))
	for _, p := range found {
		users = append(users, userDTO{
			ID:          p.ID,
			DisplayName: p.DisplayName,
			Bio:         p.Bio,
			IsPremium:   p.IsPremium,
			Online:      s.presence.Online(p.ID),
		})
	}
	writeJSON(w, http.StatusOK, map[string][]userDTO{"users": users})
}

func (s *Server) HandleRooms(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		joined, err := s.registry.ListForMember(r.Context(), authCtx.Identity.ID)
		if err != nil {
			s.failure(w, r, err)
			return
		}
		list := []roomDTO{publicRoomDTO()}
		for _, room := range joined {
			list = append(list, privateRoomDTO(room))
		}
		writeJSON(w, http.StatusOK, roomsResponse{Rooms: list})
	case http.MethodPost:
		var req createRoomRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, errBadRequest)
			return
		}
		creator, err := s.gate.Ensure(r.Context(), authCtx.Identity.ID)
		if err != nil {
			s.failure(w, r, err)
			return
		}
		id, err := s.registry.Create(r.Context(), req.Name, creator)
		if err != nil {
			s.failure(w, r, err)
			return
		}
		room, err := s.registry.Get(r.Context(), id)
		if err != nil {
			s.failure(w, r, err)
			return
		}
		s.metrics.IncRoomCreated()
		writeJSON(w, http.StatusCreated, privateRoomDTO(room))
	default:
		methodNotAllowed(w, http.MethodGet+", "+http.MethodPost)
	}
}

func (s *Server) HandleJoinRoom(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	authCtx, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	summary, err := s.registry.Join(r.Context(), r.PathValue("room"), authCtx.Identity.ID)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) HandleMessages(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	roomID := r.PathValue("room")
	switch r.Method {
	case http.MethodGet:
		room, err := s.roomFor(r, roomID, authCtx.Identity.ID)
		if err != nil {
			s.failure(w, r, err)
			return
		}
		msgs, err := s.engine.List(r.Context(), roomID)
		if err != nil {
			s.failure(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, snapsResponse{Room: room, Snaps: snaps.PresentAll(msgs, authCtx.Identity.ID)})
	case http.MethodPost:
		if !s.sendLimiter.Allow(authCtx.Identity.ID) {
			writeError(w, errRateLimited)
			return
		}
		var req sendRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, errBadRequest)
			return
		}
		sender, err := s.gate.Ensure(r.Context(), authCtx.Identity.ID)
		if err != nil {
			s.failure(w, r, err)
			return
		}
		id, err := s.engine.Send(r.Context(), roomID, sender, req.Text)
		if err != nil {
			s.failure(w, r, err)
			return
		}
		s.metrics.IncSent()
		writeJSON(w, http.StatusCreated, map[string]string{"id": id})
	default:
		methodNotAllowed(w, http.MethodGet+", "+http.MethodPost)
	}
}

func (s *Server) HandleAct(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	authCtx, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	out, err := s.engine.Act(r.Context(), r.PathValue("room"), r.PathValue("snap"), authCtx.Identity.ID)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	s.metrics.ObserveOutcome(out.Effect)
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) HandleDeleteSnap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, http.MethodDelete)
		return
	}
	authCtx, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	if err := s.engine.Delete(r.Context(), r.PathValue("room"), r.PathValue("snap"), authCtx.Identity.ID); err != nil {
		s.failure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// roomFor describes roomID after checking identityID may read it.
func (s *Server) roomFor(r *http.Request, roomID, identityID string) (roomDTO, error) {
	if rooms.IsPublic(roomID) {
		return publicRoomDTO(), nil
	}
	room, err := s.registry.Get(r.Context(), roomID)
	if err != nil {
		return roomDTO{}, err
	}
	if !room.HasMember(identityID) {
		return roomDTO{}, snaps.ErrNotMember
	}
	return privateRoomDTO(room), nil
}

func (s *Server) requireAuth(w http.ResponseWriter, r *http.Request) (authContext, bool) {
	authCtx, err := s.authenticateRequest(r)
	if err != nil {
		s.failure(w, r, err)
		return authContext{}, false
	}
	return authCtx, true
}

// failure writes err and logs it when it is not a caller mistake.
func (s *Server) failure(w http.ResponseWriter, r *http.Request, err error) {
	status, _ := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeError(w, err)
}

func publicRoomDTO() roomDTO {
	return roomDTO{ID: rooms.PublicRoomID, Name: rooms.PublicRoomName, Public: true}
}

func privateRoomDTO(room rooms.Room) roomDTO {
	return roomDTO{ID: room.ID, Name: room.Name, CreatorName: room.CreatorName, Members: len(room.Members)}
}

var errorStatuses = []struct {
	err    error
	status int
	code   string
}{
	{snaps.ErrEmptyText, http.StatusBadRequest, "empty_text"},
	{profile.ErrInvalidName, http.StatusBadRequest, "invalid_name"},
	{profile.ErrReservedName, http.StatusBadRequest, "reserved_name"},
	{profile.ErrBioTooLong, http.StatusBadRequest, "bio_too_long"},
	{rooms.ErrInvalidName, http.StatusBadRequest, "invalid_room_name"},
	{auth.ErrInvalidEmail, http.StatusBadRequest, "invalid_email"},
	{auth.ErrWeakPassword, http.StatusBadRequest, "weak_password"},
	{errBadRequest, http.StatusBadRequest, "bad_request"},
	{errUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{auth.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{auth.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
	{rooms.ErrPremiumRequired, http.StatusForbidden, "premium_required"},
	{profile.ErrProfileIncomplete, http.StatusForbidden, "profile_incomplete"},
	{snaps.ErrNotMember, http.StatusForbidden, "not_member"},
	{snaps.ErrNotSender, http.StatusForbidden, "not_sender"},
	{rooms.ErrRoomNotFound, http.StatusNotFound, "room_not_found"},
	{snaps.ErrSnapNotFound, http.StatusNotFound, "snap_not_found"},
	{profile.ErrNotFound, http.StatusNotFound, "profile_not_found"},
	{auth.ErrAccountExists, http.StatusConflict, "account_exists"},
	{errRateLimited, http.StatusTooManyRequests, "rate_limited"},
}

// statusFor maps an error to its HTTP status and stable error code.
func statusFor(err error) (int, string) {
	for _, entry := range errorStatuses {
		if errors.Is(err, entry.err) {
			return entry.status, entry.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

func decodeJSON(r *http.Request, out interface{}) error {
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = http.StatusText(status)
	}
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}

func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
}

func trimmedQuery(r *http.Request, key string) string {
	return strings.TrimSpace(r.URL.Query().Get(key))
}
