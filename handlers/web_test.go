package handlers

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strconv"
	"strings"
	"testing"

	"paydesk/auth"
	"paydesk/db"
)

// chdir mirrors t.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Fatal(err)
		}
	})
}

func newMux() *http.ServeMux {
	mux := http.NewServeMux()
	RegisterHandlers(mux)
	return mux
}

// sessionCookies logs a user in out of band and returns the session cookies
// to attach to subsequent requests.
func sessionCookies(userID int, username, role string) []*http.Cookie {
	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/", nil)
	auth.SetSession(w, r, userID, username, role)
	return w.Result().Cookies()
}

func formRequest(target string, form url.Values, cookies []*http.Cookie) *http.Request {
	req := httptest.NewRequest("POST", target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return req
}

func TestLoginSuccess(t *testing.T) {
	mux := newMux()

	req := formRequest("/login", url.Values{
		"username": {"admin"},
		"password": {"admin123"},
	}, nil)
	req.RemoteAddr = "203.0.113.20:1000"
	w := httptest.NewRecorder()

	mux.ServeHTTP(w, req)

	if w.Code != http.StatusSeeOther {
		t.Fatalf("Expected 303 redirect, got %d. Body: %s", w.Code, w.Body.String())
	}
	if loc := w.Header().Get("Location"); loc != "/dashboard" {
		t.Errorf("Expected redirect to /dashboard, got %s", loc)
	}

	var sessionCookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == auth.SessionName {
			sessionCookie = c
		}
	}
	if sessionCookie == nil {
		t.Fatal("Expected a session cookie after login")
	}
	if !sessionCookie.HttpOnly {
		t.Error("Expected session cookie to be HttpOnly")
	}
}

func TestLoginWrongPassword(t *testing.T) {
	chdir(t, "..")
	mux := newMux()

	req := formRequest("/login", url.Values{
		"username": {"admin"},
		"password": {"wrong-password"},
	}, nil)
	req.RemoteAddr = "203.0.113.21:1000"
	w := httptest.NewRecorder()

	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected form re-render, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "InvalidCredentials") {
		t.Error("Expected the generic invalid-credentials message")
	}
	// The same message for an unknown user
	req = formRequest("/login", url.Values{
		"username": {"nobody"},
		"password": {"whatever"},
	}, nil)
	req.RemoteAddr = "203.0.113.21:1000"
	w = httptest.NewRecorder()

	mux.ServeHTTP(w, req)

	if !strings.Contains(w.Body.String(), "InvalidCredentials") {
		t.Error("Expected the same message for an unknown user")
	}
}

func TestLoginCaptchaAfterFailure(t *testing.T) {
	chdir(t, "..")
	mux := newMux()
	ip := "203.0.113.22:1000"

	// A clean visit shows no captcha
	req := httptest.NewRequest("GET", "/login", nil)
	req.RemoteAddr = ip
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if strings.Contains(w.Body.String(), "/captcha/") {
		t.Error("Expected no captcha on first visit")
	}

	// One failed attempt marks the IP
	req = formRequest("/login", url.Values{
		"username": {"admin"},
		"password": {"wrong-password"},
	}, nil)
	req.RemoteAddr = ip
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	// Now the form demands a captcha
	req = httptest.NewRequest("GET", "/login", nil)
	req.RemoteAddr = ip
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if !strings.Contains(w.Body.String(), "/captcha/") {
		t.Error("Expected a captcha challenge after a failed attempt")
	}

	// And a post without a solution is rejected before the password check
	req = formRequest("/login", url.Values{
		"username": {"admin"},
		"password": {"admin123"},
	}, nil)
	req.RemoteAddr = ip
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if !strings.Contains(w.Body.String(), "CaptchaInvalid") {
		t.Error("Expected captcha rejection for suspicious IP")
	}
}

func TestRequireLoginRedirect(t *testing.T) {
	mux := newMux()

	for _, path := range []string{"/dashboard", "/employees", "/payroll"} {
		req := httptest.NewRequest("GET", path, nil)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)

		if w.Code != http.StatusSeeOther || w.Header().Get("Location") != "/login" {
			t.Errorf("%s: expected redirect to /login, got %d -> %s", path, w.Code, w.Header().Get("Location"))
		}
	}
}

func TestRequireAdminRedirect(t *testing.T) {
	mux := newMux()

	result, err := db.DB.Exec("INSERT INTO employees (first_name, last_name, email, phone, job_title, base_salary) VALUES ('Keep', 'Me', 'keepme@x.com', '', 'Engineer', '4000.00')")
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	empID, _ := result.LastInsertId()

	cookies := sessionCookies(2, "clerk", "user")

	// A regular user is bounced back to the list, and nothing is deleted
	req := formRequest("/employees/delete", url.Values{"id": {"1"}}, cookies)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusSeeOther || w.Header().Get("Location") != "/employees" {
		t.Errorf("Expected redirect to /employees, got %d -> %s", w.Code, w.Header().Get("Location"))
	}

	var count int
	db.DB.QueryRow("SELECT COUNT(*) FROM employees WHERE id = ?", empID).Scan(&count)
	if count != 1 {
		t.Error("Expected employee to survive a non-admin delete attempt")
	}

	// The form pages are gated the same way
	req = httptest.NewRequest("GET", "/employees/new", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusSeeOther || w.Header().Get("Location") != "/employees" {
		t.Errorf("Expected redirect to /employees, got %d -> %s", w.Code, w.Header().Get("Location"))
	}

	db.DB.Exec("DELETE FROM employees WHERE id = ?", empID)
}

func TestLogout(t *testing.T) {
	mux := newMux()
	cookies := sessionCookies(1, "admin", "admin")

	req := httptest.NewRequest("GET", "/logout", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusSeeOther || w.Header().Get("Location") != "/login" {
		t.Errorf("Expected redirect to /login, got %d -> %s", w.Code, w.Header().Get("Location"))
	}

	var expired bool
	for _, c := range w.Result().Cookies() {
		if c.Name == auth.SessionName && c.MaxAge < 0 {
			expired = true
		}
	}
	if !expired {
		t.Error("Expected session cookie to be expired on logout")
	}
}

// TestWebJourney walks the admin flow end to end: add an employee, record a
// payroll run, and read the computed net back off the list page.
func TestWebJourney(t *testing.T) {
	chdir(t, "..")
	mux := newMux()
	cookies := sessionCookies(1, "admin", "admin")

	// 1. Add an employee
	req := formRequest("/employees/new", url.Values{
		"first_name":  {"Ada"},
		"last_name":   {"Lovelace"},
		"email":       {"ada@x.com"},
		"phone":       {"+1 555 0142"},
		"job_title":   {"Engineer"},
		"base_salary": {"5000.00"},
	}, cookies)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusSeeOther || w.Header().Get("Location") != "/employees" {
		t.Fatalf("Expected redirect to /employees, got %d -> %s. Body: %s", w.Code, w.Header().Get("Location"), w.Body.String())
	}

	var empID int64
	if err := db.DB.QueryRow("SELECT id FROM employees WHERE email = 'ada@x.com'").Scan(&empID); err != nil {
		t.Fatalf("Employee was not created: %v", err)
	}

	// 2. The list page shows the new employee and the success flash
	req = httptest.NewRequest("GET", "/employees", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if !strings.Contains(w.Body.String(), "Lovelace") {
		t.Error("Expected new employee on the list page")
	}

	// 3. Record a payroll run: 5000 - 500 + 200 = 4700
	req = formRequest("/payroll/new", url.Values{
		"employee_id":  {strconv.FormatInt(empID, 10)},
		"pay_date":     {"2024-02-29"},
		"gross_salary": {"5000.00"},
		"deductions":   {"500.00"},
		"bonuses":      {"200.00"},
	}, cookies)
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusSeeOther || w.Header().Get("Location") != "/payroll" {
		t.Fatalf("Expected redirect to /payroll, got %d -> %s. Body: %s", w.Code, w.Header().Get("Location"), w.Body.String())
	}

	// 4. The filtered list shows the stored net and matching totals
	req = httptest.NewRequest("GET", "/payroll?month=2024-02", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	body := w.Body.String()
	if !strings.Contains(body, "4700.00") {
		t.Error("Expected net 4700.00 on the payroll page")
	}
	if !strings.Contains(body, "Lovelace") {
		t.Error("Expected employee name on the payroll page")
	}

	// 5. A bad month filter falls back to the current month with a warning
	req = httptest.NewRequest("GET", "/payroll?month=February", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if !strings.Contains(w.Body.String(), "InvalidMonthFilter") {
		t.Error("Expected a warning for the bad month filter")
	}

	// Cleanup: the cascade removes the payroll row too
	db.DB.Exec("DELETE FROM employees WHERE id = ?", empID)
}
