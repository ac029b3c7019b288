package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"paydesk/apperr"
	"paydesk/auth"
	"paydesk/db"
	"paydesk/employees"
	"paydesk/i18n"
	"paydesk/payroll"
	"paydesk/reports"
)

type APIResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func sendJSONResponse(w http.ResponseWriter, status int, response APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}

func getAPISession(r *http.Request) (auth.APISession, bool) {
	token := r.Header.Get("X-API-Token")
	if token == "" {
		return auth.APISession{}, false
	}
	return auth.GetAPISession(token)
}

// sendAPIError maps the error taxonomy onto HTTP statuses. Storage detail
// stays in the server log.
func sendAPIError(w http.ResponseWriter, r *http.Request, err error) {
	lang := i18n.DetectLanguage(r)
	switch {
	case apperr.IsValidation(err):
		sendJSONResponse(w, http.StatusBadRequest, APIResponse{Status: "error", Message: err.Error()})
	case apperr.IsConflict(err):
		sendJSONResponse(w, http.StatusConflict, APIResponse{Status: "error", Message: err.Error()})
	case apperr.IsNotFound(err):
		sendJSONResponse(w, http.StatusNotFound, APIResponse{Status: "error", Message: err.Error()})
	default:
		logrus.WithError(err).Error("API request failed")
		sendJSONResponse(w, http.StatusInternalServerError, APIResponse{Status: "error", Message: i18n.T(lang, "InternalServerError")})
	}
}

func APILoginHandler(w http.ResponseWriter, r *http.Request) {
	lang := i18n.DetectLanguage(r)
	if r.Method != http.MethodPost {
		sendJSONResponse(w, http.StatusMethodNotAllowed, APIResponse{Status: "error", Message: i18n.T(lang, "MethodNotAllowed")})
		return
	}

	ip := getClientIP(r)
	if !loginLimiter.Allow(ip) {
		sendJSONResponse(w, http.StatusTooManyRequests, APIResponse{Status: "error", Message: i18n.T(lang, "TooManyAttempts")})
		return
	}

	var input struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}

	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		sendJSONResponse(w, http.StatusBadRequest, APIResponse{Status: "error", Message: i18n.T(lang, "InvalidRequestBody")})
		return
	}

	var user struct {
		ID           int
		Username     string
		PasswordHash string
		Role         string
	}
	err := db.DB.QueryRow("SELECT id, username, password_hash, role FROM users WHERE LOWER(username) = LOWER(?)", input.Username).
		Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Role)

	// Timing attack mitigation: always check password
	targetHash := user.PasswordHash
	if err != nil {
		targetHash = db.DummyHash
	}
	match := db.CheckPasswordHash(input.Password, targetHash)

	if err != nil || !match {
		loginLimiter.RecordFailure(ip)
		sendJSONResponse(w, http.StatusUnauthorized, APIResponse{Status: "error", Message: i18n.T(lang, "InvalidCredentials")})
		return
	}

	loginLimiter.Reset(ip)

	token := auth.CreateAPIToken(user.ID, user.Username, user.Role)

	sendJSONResponse(w, http.StatusOK, APIResponse{
		Status: "success",
		Data: map[string]any{
			"token":    token,
			"user_id":  user.ID,
			"username": user.Username,
			"role":     user.Role,
		},
	})
}

// requireAPISession resolves the token; requireAPIAdmin additionally checks
// the role for the admin-only mutations.
func requireAPISession(w http.ResponseWriter, r *http.Request) (auth.APISession, bool) {
	lang := i18n.DetectLanguage(r)
	session, ok := getAPISession(r)
	if !ok {
		sendJSONResponse(w, http.StatusUnauthorized, APIResponse{Status: "error", Message: i18n.T(lang, "Unauthorized")})
		return auth.APISession{}, false
	}
	return session, true
}

func requireAPIAdmin(w http.ResponseWriter, r *http.Request) (auth.APISession, bool) {
	lang := i18n.DetectLanguage(r)
	session, ok := requireAPISession(w, r)
	if !ok {
		return auth.APISession{}, false
	}
	if session.Role != "admin" {
		sendJSONResponse(w, http.StatusForbidden, APIResponse{Status: "error", Message: i18n.T(lang, "Forbidden")})
		return auth.APISession{}, false
	}
	return session, true
}

func APIDashboardHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAPISession(w, r); !ok {
		return
	}

	summary, err := reports.Dashboard(time.Now())
	if err != nil {
		sendAPIError(w, r, err)
		return
	}

	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success", Data: summary})
}

func APIListEmployeesHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAPISession(w, r); !ok {
		return
	}

	list, err := employees.List()
	if err != nil {
		sendAPIError(w, r, err)
		return
	}

	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success", Data: list})
}

type employeePayload struct {
	ID         int64           `json:"id"`
	FirstName  string          `json:"first_name"`
	LastName   string          `json:"last_name"`
	Email      string          `json:"email"`
	Phone      string          `json:"phone"`
	JobTitle   string          `json:"job_title"`
	BaseSalary decimal.Decimal `json:"base_salary"`
}

func (p employeePayload) input() employees.Input {
	return employees.Input{
		FirstName:  p.FirstName,
		LastName:   p.LastName,
		Email:      p.Email,
		Phone:      p.Phone,
		JobTitle:   p.JobTitle,
		BaseSalary: p.BaseSalary,
	}
}

func APIAddEmployeeHandler(w http.ResponseWriter, r *http.Request) {
	lang := i18n.DetectLanguage(r)
	if _, ok := requireAPIAdmin(w, r); !ok {
		return
	}

	var input employeePayload
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		sendJSONResponse(w, http.StatusBadRequest, APIResponse{Status: "error", Message: i18n.T(lang, "InvalidRequestBody")})
		return
	}

	id, err := employees.Create(input.input())
	if err != nil {
		sendAPIError(w, r, err)
		return
	}

	sendJSONResponse(w, http.StatusCreated, APIResponse{Status: "success", Data: map[string]int64{"id": id}})
}

func APIUpdateEmployeeHandler(w http.ResponseWriter, r *http.Request) {
	lang := i18n.DetectLanguage(r)
	if _, ok := requireAPIAdmin(w, r); !ok {
		return
	}

	var input employeePayload
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		sendJSONResponse(w, http.StatusBadRequest, APIResponse{Status: "error", Message: i18n.T(lang, "InvalidRequestBody")})
		return
	}

	if err := employees.Update(input.ID, input.input()); err != nil {
		sendAPIError(w, r, err)
		return
	}

	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success", Message: i18n.T(lang, "EmployeeUpdated")})
}

func APIDeleteEmployeeHandler(w http.ResponseWriter, r *http.Request) {
	lang := i18n.DetectLanguage(r)
	if _, ok := requireAPIAdmin(w, r); !ok {
		return
	}

	var input struct {
		ID int64 `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		sendJSONResponse(w, http.StatusBadRequest, APIResponse{Status: "error", Message: i18n.T(lang, "InvalidRequestBody")})
		return
	}

	if err := employees.Delete(input.ID); err != nil {
		sendAPIError(w, r, err)
		return
	}

	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success", Message: i18n.T(lang, "EmployeeDeleted")})
}

func APIListPayrollHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAPISession(w, r); !ok {
		return
	}

	q := r.URL.Query()
	month := time.Now().Format("2006-01")
	if q.Has("month") {
		month = q.Get("month")
	}
	if month != "" {
		if _, err := time.Parse("2006-01", month); err != nil {
			sendAPIError(w, r, apperr.Validation("month", "month must be in YYYY-MM format"))
			return
		}
	}
	employeeID, _ := strconv.ParseInt(q.Get("employee_id"), 10, 64)

	entries, totals, err := payroll.List(payroll.Filter{Month: month, EmployeeID: employeeID})
	if err != nil {
		sendAPIError(w, r, err)
		return
	}

	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success", Data: map[string]any{
		"records": entries,
		"totals":  totals,
	}})
}

type payrollPayload struct {
	ID         int64           `json:"id"`
	EmployeeID int64           `json:"employee_id"`
	PayDate    string          `json:"pay_date"`
	Gross      decimal.Decimal `json:"gross_salary"`
	Deductions decimal.Decimal `json:"deductions"`
	Bonuses    decimal.Decimal `json:"bonuses"`
}

func (p payrollPayload) input() (payroll.Input, error) {
	in := payroll.Input{
		EmployeeID: p.EmployeeID,
		Gross:      p.Gross,
		Deductions: p.Deductions,
		Bonuses:    p.Bonuses,
	}
	if p.PayDate != "" {
		payDate, err := time.Parse(payroll.DateFormat, p.PayDate)
		if err != nil {
			return payroll.Input{}, apperr.Validation("pay_date", "pay_date must be in YYYY-MM-DD format")
		}
		in.PayDate = payDate
	}
	return in, nil
}

func APIAddPayrollHandler(w http.ResponseWriter, r *http.Request) {
	lang := i18n.DetectLanguage(r)
	if _, ok := requireAPIAdmin(w, r); !ok {
		return
	}

	var input payrollPayload
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		sendJSONResponse(w, http.StatusBadRequest, APIResponse{Status: "error", Message: i18n.T(lang, "InvalidRequestBody")})
		return
	}

	in, err := input.input()
	if err == nil {
		var id int64
		id, err = payroll.Create(in)
		if err == nil {
			sendJSONResponse(w, http.StatusCreated, APIResponse{Status: "success", Data: map[string]int64{"id": id}})
			return
		}
	}
	sendAPIError(w, r, err)
}

func APIUpdatePayrollHandler(w http.ResponseWriter, r *http.Request) {
	lang := i18n.DetectLanguage(r)
	if _, ok := requireAPIAdmin(w, r); !ok {
		return
	}

	var input payrollPayload
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		sendJSONResponse(w, http.StatusBadRequest, APIResponse{Status: "error", Message: i18n.T(lang, "InvalidRequestBody")})
		return
	}

	in, err := input.input()
	if err == nil {
		err = payroll.Update(input.ID, in)
	}
	if err != nil {
		sendAPIError(w, r, err)
		return
	}

	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success", Message: i18n.T(lang, "PayrollUpdated")})
}

func APIDeletePayrollHandler(w http.ResponseWriter, r *http.Request) {
	lang := i18n.DetectLanguage(r)
	if _, ok := requireAPIAdmin(w, r); !ok {
		return
	}

	var input struct {
		ID int64 `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		sendJSONResponse(w, http.StatusBadRequest, APIResponse{Status: "error", Message: i18n.T(lang, "InvalidRequestBody")})
		return
	}

	if err := payroll.Delete(input.ID); err != nil {
		sendAPIError(w, r, err)
		return
	}

	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success", Message: i18n.T(lang, "PayrollDeleted")})
}
