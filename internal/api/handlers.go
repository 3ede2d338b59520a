package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/nugget/penny/internal/auth"
	"github.com/nugget/penny/internal/chat"
	"github.com/nugget/penny/internal/portfolio"
	"github.com/nugget/penny/internal/preferences"
	"github.com/nugget/penny/internal/users"
)

const msgBadBody = "Invalid request body."

// flexString accepts a JSON string, number, or null.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	switch {
	case s == "null":
		*f = ""
	case strings.HasPrefix(s, `"`):
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*f = flexString(v)
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return err
		}
		*f = flexString(n.String())
	}
	return nil
}

// flexNumber accepts a JSON number, a numeric string, or null. NaN
// and infinities are rejected.
type flexNumber float64

var errNotFinite = errors.New("number is not finite")

func (f *flexNumber) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*f = 0
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*f = 0
			return nil
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	if !portfolio.Finite(v) {
		return errNotFinite
	}
	*f = flexNumber(v)
	return nil
}

type chatRequest struct {
	UserID   flexString `json:"userId"`
	Prompt   string     `json:"prompt"`
	ThreadID string     `json:"threadId"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decode(r, w, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": msgBadBody})
		return
	}

	// A signed-in caller always chats as themselves.
	userID := string(req.UserID)
	if id, ok := auth.UserID(r.Context()); ok {
		userID = strconv.FormatInt(id, 10)
	}

	reply, err := s.cfg.Chat.Turn(r.Context(), chat.Request{
		UserID:   userID,
		Prompt:   req.Prompt,
		ThreadID: req.ThreadID,
	})
	if err != nil {
		status, msg := http.StatusInternalServerError, chat.MsgInternal
		var ce *chat.Error
		if errors.As(err, &ce) {
			msg = ce.Message
			if ce.Kind == chat.KindValidation {
				status = http.StatusBadRequest
			}
		}
		if status >= 500 {
			s.logger.Error("chat failed", "error", err, "request_id", RequestID(r.Context()))
		}
		s.writeJSON(w, status, map[string]string{"error": msg})
		return
	}
	s.writeJSON(w, http.StatusOK, reply)
}

type userSummary struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

func (s *Server) authFailed(w http.ResponseWriter, r *http.Request, err error) {
	var ae *auth.Error
	if errors.As(err, &ae) {
		if ae.Status >= 500 {
			s.logger.Error("auth request failed", "path", r.URL.Path, "error", err)
		}
		s.result(w, ae.Status, ae.Message)
		return
	}
	s.logger.Error("auth request failed", "path", r.URL.Path, "error", err)
	s.result(w, http.StatusInternalServerError, "Server error! Please try again later.")
}

func (s *Server) signIn(w http.ResponseWriter, status int, msg string, sess auth.Session) {
	http.SetCookie(w, s.cfg.Cookies.Session(sess.Token, int(s.cfg.SessionTTL.Seconds())))
	s.writeJSON(w, status, map[string]any{
		"success": true,
		"message": msg,
		"user":    userSummary{ID: sess.User.ID, Name: sess.User.Name},
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decode(r, w, &req); err != nil {
		s.result(w, http.StatusBadRequest, msgBadBody)
		return
	}
	sess, err := s.cfg.Accounts.Register(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		s.authFailed(w, r, err)
		return
	}
	s.signIn(w, http.StatusCreated, "User registered successfully!", sess)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decode(r, w, &req); err != nil {
		s.result(w, http.StatusBadRequest, msgBadBody)
		return
	}
	sess, err := s.cfg.Accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.authFailed(w, r, err)
		return
	}
	s.signIn(w, http.StatusOK, "Login successful!", sess)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, s.cfg.Cookies.Clear())
	s.result(w, http.StatusOK, "Logged out successfully!")
}

func (s *Server) handleRequestReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decode(r, w, &req); err != nil {
		s.result(w, http.StatusBadRequest, msgBadBody)
		return
	}
	if err := s.cfg.Accounts.RequestPasswordReset(r.Context(), req.Email); err != nil {
		s.authFailed(w, r, err)
		return
	}
	s.result(w, http.StatusOK, "Password reset link sent to your email.")
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token       string `json:"token"`
		NewPassword string `json:"newPassword"`
	}
	if err := decode(r, w, &req); err != nil {
		s.result(w, http.StatusBadRequest, msgBadBody)
		return
	}
	if err := s.cfg.Accounts.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		s.authFailed(w, r, err)
		return
	}
	s.result(w, http.StatusOK, "Password has been reset successfully!")
}

// sessionUser returns the verified user id, answering 400 when the
// route was reached without one.
func (s *Server) sessionUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, ok := auth.UserID(r.Context())
	if !ok {
		s.result(w, http.StatusBadRequest, "User ID is missing")
	}
	return id, ok
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionUser(w, r)
	if !ok {
		return
	}
	u, err := s.cfg.Users.GetByID(r.Context(), id)
	if errors.Is(err, users.ErrNotFound) {
		s.result(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		s.logger.Error("user lookup failed", "user_id", id, "error", err)
		s.result(w, http.StatusInternalServerError, "Server error")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user":    userSummary{ID: u.ID, Name: u.Name, Email: u.Email},
	})
}

// profileBody is the client shape of a preferences profile.
type profileBody struct {
	Name               string     `json:"name"`
	Age                flexString `json:"age"`
	Profession         string     `json:"profession"`
	IncomeRange        string     `json:"incomeRange"`
	FinancialGoals     string     `json:"financialGoals"`
	ExtraInfo          string     `json:"extraInfo"`
	RiskTolerance      string     `json:"riskTolerance"`
	CommunicationStyle string     `json:"communicationStyle"`
	Tone               string     `json:"tone"`
	Language           string     `json:"language"`
	FinancialStyle     string     `json:"financialStyle"`
	Persona            string     `json:"persona"`
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionUser(w, r)
	if !ok {
		return
	}
	p, err := s.cfg.Preferences.Get(r.Context(), id)
	if errors.Is(err, preferences.ErrNotFound) {
		s.result(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		s.logger.Error("preferences lookup failed", "user_id", id, "error", err)
		s.result(w, http.StatusInternalServerError, "Server error")
		return
	}
	s.writeJSON(w, http.StatusOK, profileBody{
		Name:               p.Nickname,
		Age:                flexString(p.Age),
		Profession:         p.Profession,
		IncomeRange:        p.IncomeRange,
		FinancialGoals:     p.FinancialGoals,
		ExtraInfo:          p.ExtraInfo,
		RiskTolerance:      p.RiskTolerance,
		CommunicationStyle: p.CommunicationStyle,
		Tone:               p.Tone,
		Language:           p.Language,
		FinancialStyle:     p.FinancialStyle,
		Persona:            p.Persona,
	})
}

func (s *Server) handleSavePreferences(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionUser(w, r)
	if !ok {
		return
	}
	var body profileBody
	if err := decode(r, w, &body); err != nil {
		s.result(w, http.StatusBadRequest, msgBadBody)
		return
	}

	p := preferences.Profile{
		UserID:             id,
		Nickname:           body.Name,
		Age:                string(body.Age),
		Profession:         body.Profession,
		IncomeRange:        body.IncomeRange,
		FinancialGoals:     body.FinancialGoals,
		ExtraInfo:          body.ExtraInfo,
		RiskTolerance:      body.RiskTolerance,
		CommunicationStyle: body.CommunicationStyle,
		Tone:               body.Tone,
		Language:           body.Language,
		FinancialStyle:     body.FinancialStyle,
		Persona:            body.Persona,
	}
	if p.RiskTolerance == "" {
		p.RiskTolerance = "medium"
	}
	if p.CommunicationStyle == "" {
		p.CommunicationStyle = "casual"
	}

	if err := s.cfg.Preferences.Save(r.Context(), p); err != nil {
		s.logger.Error("preferences save failed", "user_id", id, "error", err)
		s.result(w, http.StatusInternalServerError, "Failed to save preferences.")
		return
	}
	s.result(w, http.StatusOK, "Preferences saved successfully.")
}

type holdingBody struct {
	Type  string     `json:"type"`
	Value flexNumber `json:"value"`
}

type portfolioBody struct {
	Portfolio     []holdingBody `json:"portfolio"`
	RiskTolerance string        `json:"riskTolerance"`
}

func (b portfolioBody) holdings() []portfolio.Holding {
	out := make([]portfolio.Holding, 0, len(b.Portfolio))
	for _, h := range b.Portfolio {
		out = append(out, portfolio.Holding{Type: h.Type, Value: float64(h.Value)})
	}
	return out
}

func (s *Server) portfolioError(w http.ResponseWriter, err error) {
	msg := "Invalid portfolio data."
	if errors.Is(err, portfolio.ErrZeroTotal) {
		msg = "Portfolio total value is zero."
	}
	s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

func (s *Server) handleAnalyzePortfolio(w http.ResponseWriter, r *http.Request) {
	var body portfolioBody
	if err := decode(r, w, &body); err != nil {
		s.portfolioError(w, err)
		return
	}
	res, err := portfolio.Analyze(body.holdings(), body.RiskTolerance)
	if err != nil {
		s.portfolioError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionUser(w, r)
	if !ok {
		return
	}
	holdings, err := s.cfg.Holdings.List(r.Context(), id)
	if err != nil {
		s.logger.Error("portfolio lookup failed", "user_id", id, "error", err)
		s.result(w, http.StatusInternalServerError, "Server error")
		return
	}
	if holdings == nil {
		holdings = []portfolio.Holding{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"portfolio": holdings})
}

func (s *Server) handlePutPortfolio(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionUser(w, r)
	if !ok {
		return
	}
	var body portfolioBody
	if err := decode(r, w, &body); err != nil {
		s.portfolioError(w, err)
		return
	}
	err := s.cfg.Holdings.Replace(r.Context(), id, body.holdings())
	if errors.Is(err, portfolio.ErrInvalidInput) {
		s.portfolioError(w, err)
		return
	}
	if err != nil {
		s.logger.Error("portfolio save failed", "user_id", id, "error", err)
		s.result(w, http.StatusInternalServerError, "Server error")
		return
	}
	s.result(w, http.StatusOK, "Portfolio saved successfully.")
}
