package handlers

import (
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dchest/captcha"
	"github.com/gorilla/csrf"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"paydesk/apperr"
	"paydesk/auth"
	"paydesk/config"
	"paydesk/db"
	"paydesk/employees"
	"paydesk/i18n"
	"paydesk/payroll"
	"paydesk/reports"
)

func RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/", IndexHandler)
	mux.HandleFunc("/login", LoginHandler)
	mux.HandleFunc("/logout", LogoutHandler)
	mux.HandleFunc("/dashboard", requireLogin(DashboardHandler))
	mux.HandleFunc("/employees", requireLogin(EmployeesHandler))
	mux.HandleFunc("/employees/new", requireAdmin("/employees", EmployeeNewHandler))
	mux.HandleFunc("/employees/edit", requireAdmin("/employees", EmployeeEditHandler))
	mux.HandleFunc("/employees/delete", requireAdmin("/employees", EmployeeDeleteHandler))
	mux.HandleFunc("/payroll", requireLogin(PayrollHandler))
	mux.HandleFunc("/payroll/new", requireAdmin("/payroll", PayrollNewHandler))
	mux.HandleFunc("/payroll/edit", requireAdmin("/payroll", PayrollEditHandler))
	mux.HandleFunc("/payroll/delete", requireAdmin("/payroll", PayrollDeleteHandler))
	mux.Handle("/captcha/", captcha.Server(captcha.StdWidth, captcha.StdHeight))

	// Mobile API endpoints (JSON)
	mux.HandleFunc("/api/v1/login", APILoginHandler)
	mux.HandleFunc("/api/v1/dashboard", APIDashboardHandler)
	mux.HandleFunc("/api/v1/employees", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			APIListEmployeesHandler(w, r)
		case http.MethodPost:
			APIAddEmployeeHandler(w, r)
		case http.MethodPut:
			APIUpdateEmployeeHandler(w, r)
		case http.MethodDelete:
			APIDeleteEmployeeHandler(w, r)
		default:
			sendJSONResponse(w, http.StatusMethodNotAllowed, APIResponse{Status: "error", Message: "Method not allowed"})
		}
	})
	mux.HandleFunc("/api/v1/payroll", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			APIListPayrollHandler(w, r)
		case http.MethodPost:
			APIAddPayrollHandler(w, r)
		case http.MethodPut:
			APIUpdatePayrollHandler(w, r)
		case http.MethodDelete:
			APIDeletePayrollHandler(w, r)
		default:
			sendJSONResponse(w, http.StatusMethodNotAllowed, APIResponse{Status: "error", Message: "Method not allowed"})
		}
	})
}

type protectedHandler func(w http.ResponseWriter, r *http.Request, id auth.Identity)

// requireLogin redirects anonymous visitors to the login form and hands the
// session identity to the wrapped handler.
func requireLogin(next protectedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := auth.FromRequest(r)
		if !id.LoggedIn() {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		next(w, r, id)
	}
}

// requireAdmin additionally sends non-admins back to the list page. No 403 is
// surfaced; the mutation links simply do nothing for a regular user.
func requireAdmin(listURL string, next protectedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := auth.FromRequest(r)
		if !id.LoggedIn() {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		if !id.IsAdmin() {
			http.Redirect(w, r, listURL, http.StatusSeeOther)
			return
		}
		next(w, r, id)
	}
}

func IndexHandler(w http.ResponseWriter, r *http.Request) {
	if auth.FromRequest(r).LoggedIn() {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func LoginHandler(w http.ResponseWriter, r *http.Request) {
	lang := i18n.DetectLanguage(r)
	ip := getClientIP(r)

	if r.Method == http.MethodPost {
		if !loginLimiter.Allow(ip) {
			renderTemplate(w, r, "login.html", map[string]any{
				"Error":    i18n.T(lang, "TooManyAttempts"),
				"Username": r.FormValue("username"),
			})
			return
		}

		// A suspicious IP must solve the captcha before the password is even looked at
		if loginLimiter.Suspicious(ip) {
			if !captcha.VerifyString(r.FormValue("captcha_id"), r.FormValue("captcha_solution")) {
				renderTemplate(w, r, "login.html", map[string]any{
					"Error":     i18n.T(lang, "CaptchaInvalid"),
					"CaptchaID": captcha.New(),
					"Username":  r.FormValue("username"),
				})
				return
			}
		}

		username := strings.TrimSpace(r.FormValue("username"))
		password := r.FormValue("password")

		var user struct {
			ID           int
			Username     string
			PasswordHash string
			Role         string
		}
		err := db.DB.QueryRow("SELECT id, username, password_hash, role FROM users WHERE LOWER(username) = LOWER(?)", username).
			Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Role)

		// Timing attack mitigation: always check a password hash
		targetHash := user.PasswordHash
		if err != nil {
			targetHash = db.DummyHash
		}
		match := db.CheckPasswordHash(password, targetHash)

		if err != nil || !match {
			loginLimiter.RecordFailure(ip)
			data := map[string]any{
				"Error":    i18n.T(lang, "InvalidCredentials"),
				"Username": username,
			}
			if loginLimiter.Suspicious(ip) {
				data["CaptchaID"] = captcha.New()
			}
			renderTemplate(w, r, "login.html", data)
			return
		}

		loginLimiter.Reset(ip)
		auth.SetSession(w, r, user.ID, user.Username, user.Role)
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}

	if auth.FromRequest(r).LoggedIn() {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}

	data := map[string]any{"Username": ""}
	if loginLimiter.Suspicious(ip) {
		data["CaptchaID"] = captcha.New()
	}
	renderTemplate(w, r, "login.html", data)
}

func LogoutHandler(w http.ResponseWriter, r *http.Request) {
	auth.ClearSession(w, r)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func DashboardHandler(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	lang := i18n.DetectLanguage(r)

	summary, err := reports.Dashboard(time.Now())
	if err != nil {
		logrus.WithError(err).Error("dashboard summary failed")
		renderTemplate(w, r, "dashboard.html", map[string]any{"Error": i18n.T(lang, "GenericError")})
		return
	}

	renderTemplate(w, r, "dashboard.html", map[string]any{
		"Summary": summary,
	})
}

func EmployeesHandler(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	lang := i18n.DetectLanguage(r)

	list, err := employees.List()
	if err != nil {
		logrus.WithError(err).Error("employee list failed")
		renderTemplate(w, r, "employees.html", map[string]any{"Error": i18n.T(lang, "GenericError")})
		return
	}

	renderTemplate(w, r, "employees.html", map[string]any{
		"Employees": list,
	})
}

func EmployeeDeleteHandler(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	lang := i18n.DetectLanguage(r)
	if r.Method != http.MethodPost {
		http.Redirect(w, r, "/employees", http.StatusSeeOther)
		return
	}

	empID, _ := strconv.ParseInt(r.FormValue("id"), 10, 64)
	if err := employees.Delete(empID); err != nil {
		logrus.WithError(err).Error("employee delete failed")
		auth.AddFlash(w, r, "error", i18n.T(lang, "GenericError"))
	} else {
		auth.AddFlash(w, r, "success", i18n.T(lang, "EmployeeDeleted"))
	}
	http.Redirect(w, r, "/employees", http.StatusSeeOther)
}

// employeeForm carries raw submitted values so the form can be re-rendered
// with whatever the user typed.
type employeeForm struct {
	ID         int64
	FirstName  string
	LastName   string
	Email      string
	Phone      string
	JobTitle   string
	BaseSalary string
}

func employeeFormFromRequest(r *http.Request) employeeForm {
	return employeeForm{
		FirstName:  r.FormValue("first_name"),
		LastName:   r.FormValue("last_name"),
		Email:      r.FormValue("email"),
		Phone:      r.FormValue("phone"),
		JobTitle:   r.FormValue("job_title"),
		BaseSalary: r.FormValue("base_salary"),
	}
}

func (f employeeForm) input() (employees.Input, error) {
	salary, err := parseAmount(f.BaseSalary)
	if err != nil {
		return employees.Input{}, apperr.Validation("base_salary", "please enter a valid base salary")
	}
	return employees.Input{
		FirstName:  f.FirstName,
		LastName:   f.LastName,
		Email:      f.Email,
		Phone:      f.Phone,
		JobTitle:   f.JobTitle,
		BaseSalary: salary,
	}, nil
}

func EmployeeNewHandler(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	lang := i18n.DetectLanguage(r)

	if r.Method == http.MethodPost {
		form := employeeFormFromRequest(r)
		in, err := form.input()
		if err == nil {
			_, err = employees.Create(in)
		}
		if err != nil {
			handleFormError(w, r, err, "/employees", func(msg string) {
				renderTemplate(w, r, "employee_form.html", map[string]any{
					"Error": msg, "Form": form, "Action": "/employees/new",
				})
			})
			return
		}
		auth.AddFlash(w, r, "success", i18n.T(lang, "EmployeeAdded"))
		http.Redirect(w, r, "/employees", http.StatusSeeOther)
		return
	}

	renderTemplate(w, r, "employee_form.html", map[string]any{
		"Form": employeeForm{}, "Action": "/employees/new",
	})
}

func EmployeeEditHandler(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	lang := i18n.DetectLanguage(r)

	empID, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
	if err != nil {
		auth.AddFlash(w, r, "error", i18n.T(lang, "NotFoundFlash"))
		http.Redirect(w, r, "/employees", http.StatusSeeOther)
		return
	}
	action := "/employees/edit?id=" + strconv.FormatInt(empID, 10)

	if r.Method == http.MethodPost {
		form := employeeFormFromRequest(r)
		form.ID = empID
		in, err := form.input()
		if err == nil {
			err = employees.Update(empID, in)
		}
		if err != nil {
			handleFormError(w, r, err, "/employees", func(msg string) {
				renderTemplate(w, r, "employee_form.html", map[string]any{
					"Error": msg, "Form": form, "Action": action, "IsEdit": true,
				})
			})
			return
		}
		auth.AddFlash(w, r, "success", i18n.T(lang, "EmployeeUpdated"))
		http.Redirect(w, r, "/employees", http.StatusSeeOther)
		return
	}

	emp, err := employees.Get(empID)
	if err != nil {
		handleFormError(w, r, err, "/employees", nil)
		return
	}

	renderTemplate(w, r, "employee_form.html", map[string]any{
		"Form": employeeForm{
			ID:         emp.ID,
			FirstName:  emp.FirstName,
			LastName:   emp.LastName,
			Email:      emp.Email,
			Phone:      emp.Phone,
			JobTitle:   emp.JobTitle,
			BaseSalary: emp.BaseSalary.StringFixed(2),
		},
		"Action": action, "IsEdit": true,
	})
}

func PayrollHandler(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	lang := i18n.DetectLanguage(r)
	q := r.URL.Query()

	// An absent month parameter defaults to the current calendar month.
	// An explicitly empty one means "all months".
	month := time.Now().Format("2006-01")
	if q.Has("month") {
		month = q.Get("month")
	}
	var filterErr string
	if month != "" {
		if _, err := time.Parse("2006-01", month); err != nil {
			filterErr = i18n.T(lang, "InvalidMonthFilter")
			month = time.Now().Format("2006-01")
		}
	}
	employeeID, _ := strconv.ParseInt(q.Get("employee_id"), 10, 64)

	entries, totals, err := payroll.List(payroll.Filter{Month: month, EmployeeID: employeeID})
	if err != nil {
		logrus.WithError(err).Error("payroll list failed")
		renderTemplate(w, r, "payroll.html", map[string]any{"Error": i18n.T(lang, "GenericError")})
		return
	}

	emps, err := employees.List()
	if err != nil {
		logrus.WithError(err).Error("employee list for payroll filter failed")
	}

	renderTemplate(w, r, "payroll.html", map[string]any{
		"Entries":          entries,
		"Totals":           totals,
		"Employees":        emps,
		"FilterMonth":      month,
		"FilterEmployeeID": employeeID,
		"Error":            filterErr,
	})
}

func PayrollDeleteHandler(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	lang := i18n.DetectLanguage(r)
	if r.Method != http.MethodPost {
		http.Redirect(w, r, "/payroll", http.StatusSeeOther)
		return
	}

	recID, _ := strconv.ParseInt(r.FormValue("id"), 10, 64)
	if err := payroll.Delete(recID); err != nil {
		logrus.WithError(err).Error("payroll delete failed")
		auth.AddFlash(w, r, "error", i18n.T(lang, "GenericError"))
	} else {
		auth.AddFlash(w, r, "success", i18n.T(lang, "PayrollDeleted"))
	}
	http.Redirect(w, r, "/payroll", http.StatusSeeOther)
}

type payrollForm struct {
	ID         int64
	EmployeeID string
	PayDate    string
	Gross      string
	Deductions string
	Bonuses    string
}

func payrollFormFromRequest(r *http.Request) payrollForm {
	return payrollForm{
		EmployeeID: r.FormValue("employee_id"),
		PayDate:    r.FormValue("pay_date"),
		Gross:      r.FormValue("gross_salary"),
		Deductions: r.FormValue("deductions"),
		Bonuses:    r.FormValue("bonuses"),
	}
}

func (f payrollForm) input() (payroll.Input, error) {
	var in payroll.Input
	in.EmployeeID, _ = strconv.ParseInt(f.EmployeeID, 10, 64)

	if strings.TrimSpace(f.PayDate) != "" {
		payDate, err := time.Parse(payroll.DateFormat, f.PayDate)
		if err != nil {
			return payroll.Input{}, apperr.Validation("pay_date", "please select a valid pay date")
		}
		in.PayDate = payDate
	}

	var err error
	if in.Gross, err = parseAmount(f.Gross); err != nil {
		return payroll.Input{}, apperr.Validation("gross_salary", "please enter a valid gross salary")
	}
	if in.Deductions, err = parseAmountDefault(f.Deductions, "0"); err != nil {
		return payroll.Input{}, apperr.Validation("deductions", "please enter valid deductions")
	}
	if in.Bonuses, err = parseAmountDefault(f.Bonuses, "0"); err != nil {
		return payroll.Input{}, apperr.Validation("bonuses", "please enter valid bonuses")
	}
	return in, nil
}

func PayrollNewHandler(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	lang := i18n.DetectLanguage(r)

	emps, err := employees.List()
	if err != nil {
		logrus.WithError(err).Error("employee list for payroll form failed")
		auth.AddFlash(w, r, "error", i18n.T(lang, "GenericError"))
		http.Redirect(w, r, "/payroll", http.StatusSeeOther)
		return
	}

	if r.Method == http.MethodPost {
		form := payrollFormFromRequest(r)
		in, err := form.input()
		if err == nil {
			_, err = payroll.Create(in)
		}
		if err != nil {
			handleFormError(w, r, err, "/payroll", func(msg string) {
				renderTemplate(w, r, "payroll_form.html", map[string]any{
					"Error": msg, "Form": form, "Employees": emps, "Action": "/payroll/new",
				})
			})
			return
		}
		auth.AddFlash(w, r, "success", i18n.T(lang, "PayrollAdded"))
		http.Redirect(w, r, "/payroll", http.StatusSeeOther)
		return
	}

	renderTemplate(w, r, "payroll_form.html", map[string]any{
		"Form": payrollForm{Deductions: "0.00", Bonuses: "0.00"}, "Employees": emps, "Action": "/payroll/new",
	})
}

func PayrollEditHandler(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	lang := i18n.DetectLanguage(r)

	recID, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
	if err != nil {
		auth.AddFlash(w, r, "error", i18n.T(lang, "NotFoundFlash"))
		http.Redirect(w, r, "/payroll", http.StatusSeeOther)
		return
	}
	action := "/payroll/edit?id=" + strconv.FormatInt(recID, 10)

	emps, err := employees.List()
	if err != nil {
		logrus.WithError(err).Error("employee list for payroll form failed")
		auth.AddFlash(w, r, "error", i18n.T(lang, "GenericError"))
		http.Redirect(w, r, "/payroll", http.StatusSeeOther)
		return
	}

	if r.Method == http.MethodPost {
		form := payrollFormFromRequest(r)
		form.ID = recID
		in, err := form.input()
		if err == nil {
			err = payroll.Update(recID, in)
		}
		if err != nil {
			handleFormError(w, r, err, "/payroll", func(msg string) {
				renderTemplate(w, r, "payroll_form.html", map[string]any{
					"Error": msg, "Form": form, "Employees": emps, "Action": action, "IsEdit": true,
				})
			})
			return
		}
		auth.AddFlash(w, r, "success", i18n.T(lang, "PayrollUpdated"))
		http.Redirect(w, r, "/payroll", http.StatusSeeOther)
		return
	}

	rec, err := payroll.Get(recID)
	if err != nil {
		handleFormError(w, r, err, "/payroll", nil)
		return
	}

	renderTemplate(w, r, "payroll_form.html", map[string]any{
		"Form": payrollForm{
			ID:         rec.ID,
			EmployeeID: strconv.FormatInt(rec.EmployeeID, 10),
			PayDate:    rec.PayDate.Format(payroll.DateFormat),
			Gross:      rec.Gross.StringFixed(2),
			Deductions: rec.Deductions.StringFixed(2),
			Bonuses:    rec.Bonuses.StringFixed(2),
		},
		"Employees": emps, "Action": action, "IsEdit": true,
	})
}

// handleFormError maps the error taxonomy to the page behaviour: validation
// and conflict errors re-render the form inline, not-found redirects with a
// flash, anything else is logged and shown as a generic failure.
func handleFormError(w http.ResponseWriter, r *http.Request, err error, listURL string, renderForm func(msg string)) {
	lang := i18n.DetectLanguage(r)
	switch {
	case apperr.IsValidation(err) || apperr.IsConflict(err):
		if renderForm != nil {
			renderForm(err.Error())
			return
		}
		auth.AddFlash(w, r, "error", err.Error())
	case apperr.IsNotFound(err):
		auth.AddFlash(w, r, "error", i18n.T(lang, "NotFoundFlash"))
	default:
		logrus.WithError(err).Error("request failed")
		auth.AddFlash(w, r, "error", i18n.T(lang, "GenericError"))
	}
	http.Redirect(w, r, listURL, http.StatusSeeOther)
}

func parseAmount(raw string) (decimal.Decimal, error) {
	return decimal.NewFromString(strings.TrimSpace(raw))
}

// parseAmountDefault treats an empty field as the given default, the way the
// deductions and bonuses inputs pre-fill with zero.
func parseAmountDefault(raw, def string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = def
	}
	return decimal.NewFromString(raw)
}

func renderTemplate(w http.ResponseWriter, r *http.Request, name string, data map[string]any) {
	lang := i18n.DetectLanguage(r)

	funcMap := template.FuncMap{
		"T": func(key string) string {
			return i18n.T(lang, key)
		},
		"money": func(d decimal.Decimal) string {
			return d.StringFixed(2)
		},
		"date": func(t time.Time) string {
			return t.Format("Jan 02, 2006")
		},
	}

	tmpl, err := template.New(name).Funcs(funcMap).ParseFiles("templates/layout.html", "templates/"+name)
	if err != nil {
		logrus.WithError(err).Error("template parse failed")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	if data == nil {
		data = map[string]any{}
	}
	if _, exists := data["AppName"]; !exists {
		data["AppName"] = config.AppConfig.AppName
	}
	data["Lang"] = lang
	data["csrfField"] = csrf.TemplateField(r)
	data["User"] = auth.FromRequest(r)
	if _, exists := data["Success"]; !exists {
		data["Success"] = auth.Flashes(w, r, "success")
	}
	if _, exists := data["FlashError"]; !exists {
		data["FlashError"] = auth.Flashes(w, r, "error")
	}

	tmpl.ExecuteTemplate(w, "layout", data)
}
