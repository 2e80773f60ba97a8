package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"darts/internal/auth"
	"darts/internal/game"
)

// ------------------------------ AUTH ---------------------------------------

type authResponse struct {
	User  *auth.User `json:"user"`
	Token string     `json:"token"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req auth.SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	u, err := s.auth.Signup(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.issueToken(w, r, u, http.StatusCreated)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	u, err := s.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.issueToken(w, r, u, http.StatusOK)
}

func (s *Server) issueToken(w http.ResponseWriter, r *http.Request, u *auth.User, status int) {
	token, exp, err := s.auth.Tokens().Sign(u.ID, u.Username)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.auth.Tokens().SetCookie(w, token, exp)
	writeJSON(w, status, authResponse{User: u, Token: token})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.auth.Tokens().ClearCookie(w)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	c, _ := auth.CurrentUser(r.Context())
	u, err := s.auth.User(r.Context(), c.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.auth.Users(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// ------------------------------ GAMES --------------------------------------

func (s *Server) handleGameTypes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.Types())
}

// createGameRequest accepts either an ordered players list or the two-seat
// player1/player2 form.
type createGameRequest struct {
	GameType string   `json:"gameType"`
	Players  []string `json:"players"`
	Player1  string   `json:"player1"`
	Player2  string   `json:"player2"`
}

func (req createGameRequest) playerIDs() []string {
	if len(req.Players) > 0 {
		ids := make([]string, len(req.Players))
		for i, p := range req.Players {
			ids[i] = strings.TrimSpace(p)
		}
		return ids
	}
	var ids []string
	for _, p := range []string{req.Player1, req.Player2} {
		if p = strings.TrimSpace(p); p != "" {
			ids = append(ids, p)
		}
	}
	return ids
}

func (s *Server) handleCreateGame(w http.ResponseWriter, r *http.Request) {
	var req createGameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	typ, err := game.ParseType(req.GameType)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	c, _ := auth.CurrentUser(r.Context())
	g, err := s.manager.Create(r.Context(), c.ID, req.playerIDs(), typ)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

func (s *Server) handleListGames(w http.ResponseWriter, r *http.Request) {
	games, err := s.manager.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, games)
}

func (s *Server) handleGetGame(w http.ResponseWriter, r *http.Request) {
	g, err := s.manager.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

type updateGameRequest struct {
	Round game.Submission `json:"round"`
}

func (s *Server) handleUpdateGame(w http.ResponseWriter, r *http.Request) {
	var req updateGameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Round == nil {
		writeMessage(w, http.StatusBadRequest, "round required")
		return
	}
	c, _ := auth.CurrentUser(r.Context())
	g, err := s.manager.SubmitRound(r.Context(), chi.URLParam(r, "id"), c.ID, req.Round)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.publishState(g)
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleDeleteGame(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, _ := auth.CurrentUser(r.Context())
	if err := s.manager.Delete(r.Context(), c.ID, id); err != nil {
		writeError(w, r, err)
		return
	}
	s.feed.Close(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListRounds(w http.ResponseWriter, r *http.Request) {
	rounds, err := s.manager.Rounds(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rounds)
}

type allowUpdateResponse struct {
	ExpiresAt time.Time `json:"expiresAt"`
}

func (s *Server) handleAllowUpdate(w http.ResponseWriter, r *http.Request) {
	c, _ := auth.CurrentUser(r.Context())
	exp, err := s.manager.AllowUpdate(r.Context(), c.ID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, allowUpdateResponse{ExpiresAt: exp})
}

// publishState pushes the game to everyone watching it.
func (s *Server) publishState(g *game.Game) {
	msg, err := encodeWS("state", g)
	if err != nil {
		log.Error().Err(err).Str("game", g.ID).Msg("encode state")
		return
	}
	s.feed.Publish(g.ID, msg)
}
