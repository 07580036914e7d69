package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/planforge/teamchat/internal/chat"
	"github.com/planforge/teamchat/internal/database"
	"github.com/planforge/teamchat/internal/types"
)

type CreateChannelRequest struct {
	Name      string `json:"name"`
	OwnerName string `json:"owner_name"`
}

// AddMemberRequest carries roster data from the external plan/team workflow.
// Role and approval are opaque pass-through values; chat never interprets
// them.
type AddMemberRequest struct {
	ChannelId   string `json:"channel_id"`
	UserId      int    `json:"user_id,omitempty"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Role        string `json:"role"`
	Approved    bool   `json:"approved"`
}

// MessageEntry is one history row with its read/delivery aggregate at fetch
// time.
type MessageEntry struct {
	Message   types.Message   `json:"message"`
	Aggregate types.Aggregate `json:"aggregate"`
}

func (s *TeamChatApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

// SessionResponse tells a signed-in client who it is and how often to poll
// the channel directory for summary updates.
type SessionResponse struct {
	Identity         types.Identity `json:"identity"`
	SummaryRefreshMs int64          `json:"summary_refresh_ms"`
}

func (s *TeamChatApp) session(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, SessionResponse{
		Identity:         identity,
		SummaryRefreshMs: s.summaryRefresh.Milliseconds(),
	})
}

func (s *TeamChatApp) createChannel(w http.ResponseWriter, r *http.Request) {
	var req CreateChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.Name == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	identity, ok := IdentityFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	sid, err := s.generateShortId()
	if err != nil {
		s.log.Print("generateShortId:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	ownerName := req.OwnerName
	if ownerName == "" {
		ownerName = identity.Email
	}

	params := database.CreateChannelParams{
		Name:        req.Name,
		ExternalId:  sid,
		OwnerUserId: identity.UserId,
		OwnerName:   ownerName,
		OwnerEmail:  identity.Email,
	}

	newChannel, err := s.db.CreateChannel(params)
	if err != nil {
		s.log.Println("create channel:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, types.Channel{
		Id:          newChannel.Id,
		ExternalId:  newChannel.ExternalId,
		Name:        newChannel.Name,
		OwnerUserId: newChannel.OwnerUserId,
		CreatedAt:   newChannel.CreatedAt,
		UpdatedAt:   newChannel.UpdatedAt,
	})
}

func (s *TeamChatApp) listChannels(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	summaries, err := s.dir.ListChannelsForUser(r.Context(), identity)
	if err != nil {
		s.log.Println("list channels:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, summaries)
}

func (s *TeamChatApp) addMember(w http.ResponseWriter, r *http.Request) {
	var req AddMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.ChannelId == "" || req.Email == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	identity, ok := IdentityFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	ch, err := s.db.GetChannelByExternalId(req.ChannelId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	// only the channel owner adds members
	if ch.OwnerUserId != identity.UserId {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	role := req.Role
	if role == "" {
		role = string(types.RoleMember)
	}

	member, err := s.db.AddMember(database.AddMemberParams{
		ChannelId:   ch.Id,
		UserId:      req.UserId,
		DisplayName: req.DisplayName,
		Email:       req.Email,
		Role:        role,
		Approved:    req.Approved,
	})
	if err != nil {
		s.log.Println("add member:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, types.Member{
		Id:          member.Id,
		ChannelId:   member.ChannelId,
		UserId:      int(member.UserId.Int64),
		DisplayName: member.DisplayName,
		Email:       member.Email,
		Role:        types.Role(member.Role),
		Approved:    member.Approved,
		CreatedAt:   member.CreatedAt,
	})
}

func (s *TeamChatApp) getMessages(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	externalId := r.URL.Query().Get("channel_id")
	if externalId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	ch, err := s.db.GetChannelByExternalId(externalId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if _, err := chat.ResolveMember(s.db, ch, identity); err != nil {
		var errResp *ApiError
		if errors.Is(err, chat.ErrNotAMember) {
			errResp = NewForbiddenError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var cursor chat.Cursor
	if afterStr := r.URL.Query().Get("after"); afterStr != "" {
		after, err := time.Parse(time.RFC3339Nano, afterStr)
		if err != nil {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		cursor.After = after
	}
	cursor.AfterId = r.URL.Query().Get("after_id")

	limit := 200
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil || limit <= 0 {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	ref := chat.ChannelRef{Id: ch.Id, ExternalId: ch.ExternalId}
	messages, err := s.cs.Store.ListSince(r.Context(), ref, cursor, limit)
	if err != nil {
		s.log.Println("list messages:", err)
		errResp := storeError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	entries := make([]MessageEntry, 0, len(messages))
	for _, msg := range messages {
		agg, err := s.cs.Tracker.Aggregate(r.Context(), msg.Id)
		if err != nil {
			s.log.Printf("aggregate %s: %v", msg.Id, err)
			errResp := storeError(err)
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		entries = append(entries, MessageEntry{Message: msg, Aggregate: agg})
	}

	s.writeJson(w, http.StatusOK, entries)
}

// storeError maps a messaging-core failure to its HTTP shape: transient
// store trouble reads as 503 so clients retry, anything else is a 500.
func storeError(err error) *ApiError {
	if errors.Is(err, chat.ErrTransient) {
		return NewServiceUnavailableError(err)
	}
	return NewInternalServerError(err)
}

func (s *TeamChatApp) getReceipts(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	messageId := r.URL.Query().Get("id")
	if messageId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	msg, err := s.db.GetMessage(messageId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	ch, err := s.db.GetChannel(msg.ChannelId)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if _, err := chat.ResolveMember(s.db, ch, identity); err != nil {
		var errResp *ApiError
		if errors.Is(err, chat.ErrNotAMember) {
			errResp = NewForbiddenError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	receipts, err := s.cs.Tracker.Receipts(r.Context(), messageId)
	if err != nil {
		s.log.Printf("receipts for %s: %v", messageId, err)
		errResp := storeError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, receipts)
}

func (s *TeamChatApp) deleteMessage(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	messageId := r.URL.Query().Get("id")
	if messageId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.cs.Store.SoftDelete(r.Context(), messageId, identity); err != nil {
		var errResp *ApiError
		if errors.Is(err, chat.ErrMessageNotFound) {
			errResp = NewNotFoundError()
		} else {
			s.log.Println("delete message:", err)
			errResp = storeError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *TeamChatApp) serveWs(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// only allow connections from allowed origins
			origin := r.Header.Get("Origin")
			if origin == "" {
				// if no origin header, allow the request
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := chat.NewClient(identity, conn, s.cs, s.log)

	s.cs.RegisterClient(client)
	go client.Write()
	go client.Read()
}
