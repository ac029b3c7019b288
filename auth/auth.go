package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/gorilla/sessions"
	"github.com/sirupsen/logrus"

	"paydesk/config"
	"paydesk/db"
)

var Store *sessions.CookieStore

func InitStore() {
	// Derive two 32-byte keys from the session key to ensure secure encryption
	// Auth key for signing (HMAC)
	authKey := sha256.Sum256([]byte(config.AppConfig.SessionKey + "auth"))
	// Encryption key for content encryption (AES)
	encKey := sha256.Sum256([]byte(config.AppConfig.SessionKey + "encryption"))

	Store = sessions.NewCookieStore(authKey[:], encKey[:])

	// Ensure cookie security settings
	Store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   0, // browser session only
		HttpOnly: true,
		Secure:   config.AppConfig.ListenPort != 8080, // Default to true unless dev port
		SameSite: http.SameSiteLaxMode,
	}
}

const SessionName = "paydesk-session"

// Identity is the request-scoped view of the logged-in user. Handlers receive
// it instead of reading session values ad hoc.
type Identity struct {
	UserID   int
	Username string
	Role     string
}

func (id Identity) LoggedIn() bool {
	return id.UserID != 0
}

func (id Identity) IsAdmin() bool {
	return id.Role == "admin"
}

// FromRequest reads the identity out of the cookie session. A missing or
// invalid session yields a zero Identity.
func FromRequest(r *http.Request) Identity {
	session, _ := Store.Get(r, SessionName)
	var id Identity
	if v, ok := session.Values["userID"].(int); ok {
		id.UserID = v
	}
	if v, ok := session.Values["username"].(string); ok {
		id.Username = v
	}
	if v, ok := session.Values["role"].(string); ok {
		id.Role = v
	}
	return id
}

func SetSession(w http.ResponseWriter, r *http.Request, userID int, username, role string) {
	session, _ := Store.Get(r, SessionName)
	session.Values["userID"] = userID
	session.Values["username"] = username
	session.Values["role"] = role
	session.Save(r, w)
}

func ClearSession(w http.ResponseWriter, r *http.Request) {
	session, _ := Store.Get(r, SessionName)
	session.Options.MaxAge = -1
	session.Save(r, w)
}

// Flash helpers for the success/error banners on the list pages.

func AddFlash(w http.ResponseWriter, r *http.Request, kind, message string) {
	session, _ := Store.Get(r, SessionName)
	session.AddFlash(message, kind)
	session.Save(r, w)
}

func Flashes(w http.ResponseWriter, r *http.Request, kind string) []string {
	session, _ := Store.Get(r, SessionName)
	raw := session.Flashes(kind)
	if len(raw) > 0 {
		session.Save(r, w)
	}
	var out []string
	for _, f := range raw {
		if s, ok := f.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Token-based Auth for API (Persistent)
type APISession struct {
	UserID   int
	Username string
	Role     string
}

func CreateAPIToken(userID int, username, role string) string {
	token := generateRandomToken(32)

	_, err := db.DB.Exec("INSERT INTO api_sessions (token, user_id, username, role) VALUES (?, ?, ?, ?)",
		token, userID, username, role)
	if err != nil {
		logrus.Errorf("Error creating API token in DB: %v", err)
		return ""
	}

	return token
}

func GetAPISession(token string) (APISession, bool) {
	var sess APISession

	err := db.DB.QueryRow("SELECT user_id, username, role FROM api_sessions WHERE token = ?", token).
		Scan(&sess.UserID, &sess.Username, &sess.Role)
	if err != nil {
		return APISession{}, false
	}

	return sess, true
}

func generateRandomToken(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// If we can't generate random numbers, the system is in a critical state.
		// Panic is appropriate here as we cannot securely continue.
		panic(fmt.Sprintf("critical security error: failed to generate random token: %v", err))
	}
	return base64.URLEncoding.EncodeToString(b)
}
