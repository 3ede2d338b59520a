package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/nugget/penny/internal/database"
	"github.com/nugget/penny/internal/mailer"
	"github.com/nugget/penny/internal/users"
)

type captureMail struct {
	mu   sync.Mutex
	sent []mailer.Message
	err  error
}

func (c *captureMail) Send(_ context.Context, m mailer.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, m)
	return nil
}

func testService(t *testing.T) (*Service, *users.Store, *captureMail) {
	t.Helper()
	db, err := database.Open(database.DriverPureGo, database.MemoryPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := users.NewStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	mail := &captureMail{}
	svc := NewService(store, mail, Config{
		Secret:     "test-secret",
		BcryptCost: bcrypt.MinCost,
		ClientURL:  "https://penny.example/",
	})
	return svc, store, mail
}

func wantStatus(t *testing.T, err error, status int, msg string) {
	t.Helper()
	var ae *Error
	if !errors.As(err, &ae) {
		t.Fatalf("error = %v, want *auth.Error", err)
	}
	if ae.Status != status || ae.Message != msg {
		t.Errorf("error = %d %q, want %d %q", ae.Status, ae.Message, status, msg)
	}
}

func TestRegisterAndLogin(t *testing.T) {
	svc, _, _ := testService(t)
	ctx := context.Background()

	reg, err := svc.Register(ctx, " Alice ", "alice@example.com", "secret1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if reg.User.ID <= 0 || reg.User.Name != "Alice" {
		t.Errorf("registered user = %+v", reg.User)
	}
	claims, err := svc.Tokens().Verify(reg.Token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.UserID != reg.User.ID || claims.Username != "Alice" {
		t.Errorf("claims = %+v", claims)
	}

	login, err := svc.Login(ctx, "ALICE@example.com", "secret1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if login.User.ID != reg.User.ID {
		t.Errorf("login user id = %d, want %d", login.User.ID, reg.User.ID)
	}
}

func TestRegister_Validation(t *testing.T) {
	svc, _, _ := testService(t)
	ctx := context.Background()
	if _, err := svc.Register(ctx, "Bob", "bob@example.com", "secret1"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	tests := []struct {
		name, user, email, password, msg string
	}{
		{"missing name", "", "x@example.com", "secret1", MsgFieldsRequired},
		{"missing email", "X", " ", "secret1", MsgFieldsRequired},
		{"missing password", "X", "x@example.com", "", MsgFieldsRequired},
		{"short password", "X", "x@example.com", "12345", MsgPasswordTooShort},
		{"duplicate email", "Bob2", "BOB@example.com", "secret1", MsgEmailTaken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(ctx, tt.user, tt.email, tt.password)
			wantStatus(t, err, http.StatusBadRequest, tt.msg)
		})
	}
}

func TestLogin_Failures(t *testing.T) {
	svc, store, _ := testService(t)
	ctx := context.Background()
	if _, err := svc.Register(ctx, "Carol", "carol@example.com", "secret1"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	// Placeholder rows have no credentials.
	if err := store.EnsureExists(ctx, 99); err != nil {
		t.Fatalf("EnsureExists: %v", err)
	}

	tests := []struct {
		name, email, password string
		status                int
		msg                   string
	}{
		{"missing fields", "", "", http.StatusBadRequest, MsgCredentialsRequired},
		{"unknown email", "nobody@example.com", "secret1", http.StatusUnauthorized, MsgBadCredentials},
		{"wrong password", "carol@example.com", "wrong!!", http.StatusUnauthorized, MsgBadCredentials},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Login(ctx, tt.email, tt.password)
			wantStatus(t, err, tt.status, tt.msg)
		})
	}
}

func TestPasswordReset(t *testing.T) {
	svc, _, mail := testService(t)
	ctx := context.Background()
	if _, err := svc.Register(ctx, "Dan", "dan@example.com", "oldpass"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := svc.RequestPasswordReset(ctx, "dan@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	if len(mail.sent) != 1 {
		t.Fatalf("sent %d emails, want 1", len(mail.sent))
	}
	msg := mail.sent[0]
	if msg.Subject != "Password Reset Request" || msg.To[0] != "dan@example.com" {
		t.Errorf("email = %+v", msg)
	}
	const prefix = "https://penny.example/reset_password.html?token="
	i := strings.Index(msg.Body, prefix)
	if i < 0 {
		t.Fatalf("body missing reset link: %q", msg.Body)
	}
	token := strings.TrimSpace(msg.Body[i+len(prefix):])
	if len(token) != 64 {
		t.Errorf("token length = %d, want 64", len(token))
	}

	if err := svc.ResetPassword(ctx, token, "newpass"); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	if _, err := svc.Login(ctx, "dan@example.com", "newpass"); err != nil {
		t.Errorf("Login with new password: %v", err)
	}
	if _, err := svc.Login(ctx, "dan@example.com", "oldpass"); err == nil {
		t.Error("old password still accepted")
	}

	// Tokens are single use.
	err := svc.ResetPassword(ctx, token, "another")
	wantStatus(t, err, http.StatusBadRequest, MsgBadResetToken)
}

func TestPasswordReset_Expired(t *testing.T) {
	svc, _, mail := testService(t)
	ctx := context.Background()
	if _, err := svc.Register(ctx, "Eve", "eve@example.com", "secret1"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := svc.RequestPasswordReset(ctx, "eve@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	body := mail.sent[0].Body
	token := body[strings.LastIndex(body, "=")+1:]

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	err := svc.ResetPassword(ctx, token, "newpass")
	wantStatus(t, err, http.StatusBadRequest, MsgBadResetToken)
}

func TestPasswordReset_Validation(t *testing.T) {
	svc, _, mail := testService(t)
	ctx := context.Background()

	wantStatus(t, svc.RequestPasswordReset(ctx, ""), http.StatusBadRequest, MsgEmailRequired)
	wantStatus(t, svc.RequestPasswordReset(ctx, "ghost@example.com"), http.StatusBadRequest, MsgUnknownEmail)
	wantStatus(t, svc.ResetPassword(ctx, "", "newpass"), http.StatusBadRequest, MsgResetFieldsRequired)
	wantStatus(t, svc.ResetPassword(ctx, "tok", "123"), http.StatusBadRequest, MsgPasswordTooShort)

	if _, err := svc.Register(ctx, "Fay", "fay@example.com", "secret1"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	mail.err = errors.New("smtp down")
	err := svc.RequestPasswordReset(ctx, "fay@example.com")
	wantStatus(t, err, http.StatusInternalServerError, "Email failed to send")
}

func TestTokens(t *testing.T) {
	tokens := NewTokens("k1", time.Hour)
	raw, err := tokens.Issue(7, "gina")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	t.Run("valid", func(t *testing.T) {
		c, err := tokens.Verify(raw)
		if err != nil {
			t.Fatalf("Verify: %v", err)
		}
		if c.UserID != 7 || c.Subject != "7" {
			t.Errorf("claims = %+v", c)
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		if _, err := NewTokens("k2", time.Hour).Verify(raw); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Verify() = %v, want ErrInvalidToken", err)
		}
	})

	t.Run("expired", func(t *testing.T) {
		late := NewTokens("k1", time.Hour)
		late.now = func() time.Time { return time.Now().Add(61 * time.Minute) }
		if _, err := late.Verify(raw); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Verify() = %v, want ErrInvalidToken", err)
		}
	})

	t.Run("garbage", func(t *testing.T) {
		if _, err := tokens.Verify("not.a.token"); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Verify() = %v, want ErrInvalidToken", err)
		}
	})
}

func TestGuard(t *testing.T) {
	tokens := NewTokens("k1", time.Hour)
	good, _ := tokens.Issue(11, "hal")
	guard := NewGuard(tokens, nil)

	echo := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, ok := UserID(r.Context()); ok {
			w.Header().Set("X-User", strconv.FormatInt(id, 10))
		}
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name       string
		cookie     string
		handler    http.Handler
		wantStatus int
		wantBody   string
		wantUser   bool
	}{
		{"require without cookie", "", guard.Require(echo), http.StatusUnauthorized, MsgNoToken, false},
		{"require with bad cookie", "forged", guard.Require(echo), http.StatusForbidden, MsgInvalidToken, false},
		{"require with good cookie", good, guard.Require(echo), http.StatusNoContent, "", true},
		{"optional without cookie", "", guard.Optional(echo), http.StatusNoContent, "", false},
		{"optional with bad cookie", "forged", guard.Optional(echo), http.StatusNoContent, "", false},
		{"optional with good cookie", good, guard.Optional(echo), http.StatusNoContent, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/user", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: CookieName, Value: tt.cookie})
			}
			rec := httptest.NewRecorder()
			tt.handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantBody != "" && !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
			if got := rec.Header().Get("X-User") != ""; got != tt.wantUser {
				t.Errorf("user attached = %v, want %v", got, tt.wantUser)
			}
		})
	}
}

func TestCookies(t *testing.T) {
	c := Cookies{Secure: true}
	s := c.Session("abc", 3600)
	if !s.HttpOnly || !s.Secure || s.SameSite != http.SameSiteStrictMode || s.Path != "/" {
		t.Errorf("session cookie = %+v", s)
	}
	if clr := c.Clear(); clr.MaxAge >= 0 || clr.Value != "" {
		t.Errorf("clear cookie = %+v", clr)
	}
}
