package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	gws "github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/wricardo/courtside/domain"
	"github.com/wricardo/courtside/events"
	"github.com/wricardo/courtside/realtime"
	"github.com/wricardo/courtside/transport/websocket"
)

// chatTimeLayout matches how the chat server stringifies timestamps.
const chatTimeLayout = "2006-01-02 15:04:05.999999-07:00"

func peerOf(u domain.User) websocket.Peer {
	return websocket.Peer{UserID: u.ID, Username: u.Username}
}

func notFrom(username string) func(websocket.Peer) bool {
	return func(p websocket.Peer) bool { return p.Username == username }
}

// handlePush serves a broadcast-only channel. Anonymous connections are
// closed normally, so clients do not retry them.
func (s *Server) handlePush(group string, staffOnly bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := s.authenticate(r.URL.Query().Get("token"))
		if err != nil || (staffOnly && !user.IsStaff) {
			s.logger.Debug("push connection refused", zap.String("group", group), zap.Error(err))
			websocket.Reject(w, r, gws.CloseNormalClosure, "")
			return
		}
		s.hub.ServeWS(w, r, group, websocket.ServeOptions{Peer: peerOf(user)})
	}
}

// handleChat serves a match chat room. Refusals use the 4xxx chat codes.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	matchID, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		websocket.Reject(w, r, realtime.CloseChatError, "bad match id")
		return
	}

	raw := r.URL.Query().Get("token")
	if raw == "" {
		websocket.Reject(w, r, realtime.CloseNoToken, realtime.CloseReason(realtime.CloseNoToken))
		return
	}
	user, err := s.authenticate(raw)
	if err != nil {
		websocket.Reject(w, r, realtime.CloseInvalidToken, realtime.CloseReason(realtime.CloseInvalidToken))
		return
	}

	if err := s.store.ChatAccess(matchID, user.ID); err != nil {
		code := realtime.CloseChatError
		switch {
		case errors.Is(err, ErrMatchStarted):
			code = realtime.CloseMatchStarted
		case errors.Is(err, domain.ErrForbidden):
			code = realtime.CloseNotParticipant
		}
		s.logger.Debug("chat connection refused",
			zap.Int("match", matchID),
			zap.String("user", user.Username),
			zap.Int("code", code))
		websocket.Reject(w, r, code, realtime.CloseReason(code))
		return
	}

	s.hub.ServeWS(w, r, ChatGroup(matchID), websocket.ServeOptions{
		Peer:      peerOf(user),
		OnMessage: s.chatReceiver(matchID, user),
	})
}

// chatReceiver handles frames sent by one chat participant: typing
// indicators and messages.
func (s *Server) chatReceiver(matchID int, user domain.User) func(*websocket.Client, []byte) {
	group := ChatGroup(matchID)
	return func(c *websocket.Client, data []byte) {
		if !gjson.ValidBytes(data) {
			s.logger.Debug("dropping malformed chat frame", zap.Int("match", matchID))
			return
		}

		if gjson.GetBytes(data, "type").String() == events.KindTyping {
			ev := events.Typing{Username: user.Username, IsTyping: gjson.GetBytes(data, "is_typing").Bool()}
			if err := s.hub.PublishExcept(group, ev, notFrom(user.Username)); err != nil {
				s.logger.Warn("publish failed", zap.String("group", group), zap.Error(err))
			}
			return
		}

		text := gjson.GetBytes(data, "message").String()
		if text == "" {
			return
		}

		msg, err := s.store.PostMessage(matchID, user, text)
		if errors.Is(err, ErrMatchStarted) {
			if out, err := events.Encode(events.Error{Message: ErrMatchStarted.Error()}); err == nil {
				c.Send(out)
			}
			return
		}
		if err != nil {
			s.logger.Error("saving chat message", zap.Int("match", matchID), zap.Error(err))
			return
		}

		s.publish(group, events.ChatMessage{
			ID:        msg.ID,
			Message:   msg.Message,
			Username:  msg.Username,
			UserID:    msg.User,
			CreatedAt: msg.CreatedAt.Format(chatTimeLayout),
		})
		if err := s.hub.PublishExcept(GroupMatches, events.ChatNotification{
			MatchID:  matchID,
			Message:  msg.Message,
			Username: msg.Username,
		}, notFrom(user.Username)); err != nil {
			s.logger.Warn("publish failed", zap.String("group", GroupMatches), zap.Error(err))
		}
	}
}
