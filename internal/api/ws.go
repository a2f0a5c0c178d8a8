package api

import (
	"database/sql"
	"errors"
	"net/http"
	"slices"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Kelvince01/kaa-realtime/internal/server"
	"github.com/Kelvince01/kaa-realtime/internal/types"
)

const defaultUserName = "User"

// serveWs upgrades the connection and attaches a client to the hub. The
// handshake identifies the caller via query parameters since browsers
// cannot set headers on websocket upgrades: userId is required, userName is
// a display-name fallback for accounts the service has no record of, and
// token is optional but when supplied must be a valid session token for
// that account.
func (s *RealtimeApp) serveWs(w http.ResponseWriter, r *http.Request) {
	userId := r.URL.Query().Get("userId")
	if userId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if tokenString, err := sessionToken(r); err == nil {
		subject, err := s.verifyToken(tokenString)
		if err != nil || subject != userId {
			s.log.Debug("reject websocket handshake", zap.String("user_id", userId), zap.Error(err))
			errResp := NewUnauthorizedError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	userName := r.URL.Query().Get("userName")

	account, err := s.db.GetAccountByID(userId)
	switch {
	case err == nil:
		userName = account.Username
	case errors.Is(err, sql.ErrNoRows):
		if userName == "" {
			userName = defaultUserName
		}
	default:
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("upgrade connection", zap.Error(err))
		return
	}

	client := server.NewClient(types.User{
		ID:       userId,
		Username: userName,
		Email:    account.Email,
	}, conn, s.cs, s.log)

	s.cs.RegisterClient(client)
	go client.Write()
	go client.Read()
}
