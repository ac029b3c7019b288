// Package employees implements the employee registry: roster CRUD with
// email uniqueness and phone numbers encrypted at rest.
package employees

import (
	"database/sql"
	"errors"
	"net/mail"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"paydesk/apperr"
	"paydesk/config"
	"paydesk/crypto"
	"paydesk/db"
	"paydesk/models"
)

type Input struct {
	FirstName  string
	LastName   string
	Email      string
	Phone      string // optional
	JobTitle   string
	BaseSalary decimal.Decimal
}

func dataKey() []byte {
	return crypto.DeriveDataKey(config.AppConfig.SessionKey, "employee-pii")
}

func validate(in *Input) error {
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Email = strings.TrimSpace(in.Email)
	in.Phone = strings.TrimSpace(in.Phone)
	in.JobTitle = strings.TrimSpace(in.JobTitle)

	switch {
	case in.FirstName == "":
		return apperr.Validation("first_name", "first name is required")
	case in.LastName == "":
		return apperr.Validation("last_name", "last name is required")
	case in.Email == "":
		return apperr.Validation("email", "email is required")
	case in.JobTitle == "":
		return apperr.Validation("job_title", "job title is required")
	}

	addr, err := mail.ParseAddress(in.Email)
	if err != nil || addr.Address != in.Email {
		return apperr.Validation("email", "email address is not valid")
	}

	if !in.BaseSalary.IsPositive() {
		return apperr.Validation("base_salary", "base salary must be a positive amount")
	}

	return nil
}

// emailTaken reports whether another employee already uses the email.
// excludeID skips the employee's own row on update.
func emailTaken(email string, excludeID int64) (bool, error) {
	var count int
	err := db.DB.QueryRow("SELECT COUNT(*) FROM employees WHERE LOWER(email) = LOWER(?) AND id != ?", email, excludeID).Scan(&count)
	if err != nil {
		return false, apperr.Storage("employees: check email", err)
	}
	return count > 0, nil
}

func Create(in Input) (int64, error) {
	if err := validate(&in); err != nil {
		return 0, err
	}

	taken, err := emailTaken(in.Email, 0)
	if err != nil {
		return 0, err
	}
	if taken {
		return 0, apperr.Conflict("an employee with this email already exists")
	}

	phone := ""
	if in.Phone != "" {
		phone, err = crypto.Encrypt(in.Phone, dataKey())
		if err != nil {
			return 0, apperr.Storage("employees: encrypt phone", err)
		}
	}

	result, err := db.DB.Exec(
		"INSERT INTO employees (first_name, last_name, email, phone, job_title, base_salary) VALUES (?, ?, ?, ?, ?, ?)",
		in.FirstName, in.LastName, in.Email, phone, in.JobTitle, in.BaseSalary.StringFixed(2))
	if err != nil {
		return 0, apperr.Storage("employees: insert", err)
	}

	id, _ := result.LastInsertId()
	return id, nil
}

func Update(id int64, in Input) error {
	if err := validate(&in); err != nil {
		return err
	}

	var exists int
	if err := db.DB.QueryRow("SELECT COUNT(*) FROM employees WHERE id = ?", id).Scan(&exists); err != nil {
		return apperr.Storage("employees: check id", err)
	}
	if exists == 0 {
		return apperr.NotFound("employee", id)
	}

	taken, err := emailTaken(in.Email, id)
	if err != nil {
		return err
	}
	if taken {
		return apperr.Conflict("an employee with this email already exists")
	}

	phone := ""
	if in.Phone != "" {
		phone, err = crypto.Encrypt(in.Phone, dataKey())
		if err != nil {
			return apperr.Storage("employees: encrypt phone", err)
		}
	}

	_, err = db.DB.Exec(
		"UPDATE employees SET first_name = ?, last_name = ?, email = ?, phone = ?, job_title = ?, base_salary = ? WHERE id = ?",
		in.FirstName, in.LastName, in.Email, phone, in.JobTitle, in.BaseSalary.StringFixed(2), id)
	if err != nil {
		return apperr.Storage("employees: update", err)
	}

	return nil
}

// Delete removes the employee; payroll rows go with it via the cascade.
// Deleting an id that does not exist is a no-op.
func Delete(id int64) error {
	_, err := db.DB.Exec("DELETE FROM employees WHERE id = ?", id)
	if err != nil {
		return apperr.Storage("employees: delete", err)
	}
	return nil
}

// List returns all employees ordered by last name then first name, each
// annotated with the number of payroll records referencing it.
func List() ([]models.Employee, error) {
	rows, err := db.DB.Query(`
		SELECT e.id, e.first_name, e.last_name, e.email, e.phone, e.job_title, e.base_salary,
		       (SELECT COUNT(*) FROM payroll p WHERE p.employee_id = e.id) AS payroll_count
		FROM employees e
		ORDER BY e.last_name, e.first_name`)
	if err != nil {
		return nil, apperr.Storage("employees: list", err)
	}
	defer rows.Close()

	var out []models.Employee
	for rows.Next() {
		e, err := scanEmployee(rows.Scan)
		if err != nil {
			logrus.WithError(err).Warn("skipping unreadable employee row")
			continue
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("employees: list", err)
	}
	return out, nil
}

func Get(id int64) (models.Employee, error) {
	row := db.DB.QueryRow(`
		SELECT e.id, e.first_name, e.last_name, e.email, e.phone, e.job_title, e.base_salary,
		       (SELECT COUNT(*) FROM payroll p WHERE p.employee_id = e.id) AS payroll_count
		FROM employees e WHERE e.id = ?`, id)
	e, err := scanEmployee(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Employee{}, apperr.NotFound("employee", id)
	}
	if err != nil {
		return models.Employee{}, apperr.Storage("employees: get", err)
	}
	return e, nil
}

func scanEmployee(scan func(dest ...any) error) (models.Employee, error) {
	var e models.Employee
	var phone sql.NullString
	var salary string
	if err := scan(&e.ID, &e.FirstName, &e.LastName, &e.Email, &phone, &e.JobTitle, &salary, &e.PayrollCount); err != nil {
		return models.Employee{}, err
	}
	e.BaseSalary, _ = decimal.NewFromString(salary)
	if phone.Valid && phone.String != "" {
		decrypted, err := crypto.Decrypt(phone.String, dataKey())
		if err == nil {
			e.Phone = decrypted
		}
	}
	return e, nil
}
