package auth

import (
	"net/http/httptest"
	"os"
	"testing"

	"paydesk/config"
	"paydesk/db"
)

func TestMain(m *testing.M) {
	// Setup
	dbPath := "./test_auth.db"
	db.InitDB(dbPath)
	config.AppConfig.SessionKey = "test-secret-key-12345678901234567890123456789012"
	InitStore()

	// Run tests
	code := m.Run()

	// Teardown
	db.DB.Close()
	os.Remove(dbPath)

	os.Exit(code)
}

func TestSessionManagement(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/", nil)

	SetSession(w, r, 42, "jane", "user")

	// Since SetSession modifies the response (cookies), we need to pass them back in a new request
	cookies := w.Result().Cookies()
	r2 := httptest.NewRequest("GET", "/", nil)
	for _, c := range cookies {
		r2.AddCookie(c)
	}

	id := FromRequest(r2)
	if id.UserID != 42 {
		t.Errorf("Expected userID 42, got %d", id.UserID)
	}
	if id.Username != "jane" {
		t.Errorf("Expected username 'jane', got %q", id.Username)
	}
	if !id.LoggedIn() {
		t.Error("LoggedIn returned false for an established session")
	}
	if id.IsAdmin() {
		t.Error("IsAdmin returned true for user role")
	}
}

func TestAdminRole(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/", nil)

	SetSession(w, r, 1, "admin", "admin")

	r2 := httptest.NewRequest("GET", "/", nil)
	for _, c := range w.Result().Cookies() {
		r2.AddCookie(c)
	}

	if !FromRequest(r2).IsAdmin() {
		t.Error("IsAdmin returned false for admin role")
	}
}

func TestClearSession(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/", nil)
	SetSession(w, r, 7, "bob", "user")

	r2 := httptest.NewRequest("GET", "/", nil)
	for _, c := range w.Result().Cookies() {
		r2.AddCookie(c)
	}
	w2 := httptest.NewRecorder()
	ClearSession(w2, r2)

	// The cleared cookie must have expired
	cleared := w2.Result().Cookies()
	if len(cleared) == 0 {
		t.Fatal("ClearSession did not write a cookie")
	}
	if cleared[0].MaxAge != -1 {
		t.Errorf("Expected MaxAge -1 on cleared cookie, got %d", cleared[0].MaxAge)
	}
}

func TestFlashes(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/", nil)
	AddFlash(w, r, "success", "Employee added successfully.")

	r2 := httptest.NewRequest("GET", "/", nil)
	for _, c := range w.Result().Cookies() {
		r2.AddCookie(c)
	}
	w2 := httptest.NewRecorder()

	flashes := Flashes(w2, r2, "success")
	if len(flashes) != 1 || flashes[0] != "Employee added successfully." {
		t.Errorf("Expected one success flash, got %v", flashes)
	}
}

func TestAPITokenPersistence(t *testing.T) {
	token := CreateAPIToken(100, "mobile", "admin")
	if token == "" {
		t.Fatal("Failed to create API token")
	}

	sess, ok := GetAPISession(token)
	if !ok {
		t.Error("Failed to retrieve API session by token")
	}

	if sess.UserID != 100 {
		t.Errorf("Expected userID 100, got %d", sess.UserID)
	}
	if sess.Username != "mobile" {
		t.Errorf("Expected username 'mobile', got %s", sess.Username)
	}
	if sess.Role != "admin" {
		t.Errorf("Expected role 'admin', got %s", sess.Role)
	}

	// Test non-existent token
	_, ok = GetAPISession("invalid-token")
	if ok {
		t.Error("GetAPISession succeeded for invalid token")
	}
}

func TestGenerateRandomToken(t *testing.T) {
	t1 := generateRandomToken(32)
	t2 := generateRandomToken(32)

	if t1 == t2 {
		t.Error("generateRandomToken produced identical tokens")
	}
}
