// Package payroll implements the payroll ledger. Net salary is computed at
// write time as gross - deductions + bonuses and persisted; it is never
// recomputed on read. At most one record exists per employee and pay date.
package payroll

import (
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"paydesk/apperr"
	"paydesk/db"
	"paydesk/models"
)

const DateFormat = "2006-01-02"

type Input struct {
	EmployeeID int64
	PayDate    time.Time
	Gross      decimal.Decimal
	Deductions decimal.Decimal
	Bonuses    decimal.Decimal
}

// Net returns gross - deductions + bonuses. Decimal arithmetic keeps the
// result exact to the cent; the stored value and any later totals over it
// agree with the database's own SUM.
func (in Input) Net() decimal.Decimal {
	return in.Gross.Sub(in.Deductions).Add(in.Bonuses)
}

func validate(in Input) error {
	switch {
	case in.EmployeeID == 0:
		return apperr.Validation("employee_id", "please select an employee")
	case in.PayDate.IsZero():
		return apperr.Validation("pay_date", "please select a pay date")
	case !in.Gross.IsPositive():
		return apperr.Validation("gross_salary", "gross salary must be a positive amount")
	case in.Deductions.IsNegative():
		return apperr.Validation("deductions", "deductions cannot be negative")
	case in.Bonuses.IsNegative():
		return apperr.Validation("bonuses", "bonuses cannot be negative")
	}

	if !in.Net().IsPositive() {
		return apperr.Validation("", "net salary cannot be negative or zero")
	}

	var exists int
	if err := db.DB.QueryRow("SELECT COUNT(*) FROM employees WHERE id = ?", in.EmployeeID).Scan(&exists); err != nil {
		return apperr.Storage("payroll: check employee", err)
	}
	if exists == 0 {
		return apperr.Validation("employee_id", "employee does not exist")
	}

	return nil
}

// recordExists reports whether a payroll record other than excludeID already
// covers (employee, pay date).
func recordExists(employeeID int64, payDate time.Time, excludeID int64) (bool, error) {
	var count int
	err := db.DB.QueryRow("SELECT COUNT(*) FROM payroll WHERE employee_id = ? AND pay_date = ? AND id != ?",
		employeeID, payDate.Format(DateFormat), excludeID).Scan(&count)
	if err != nil {
		return false, apperr.Storage("payroll: check duplicate", err)
	}
	return count > 0, nil
}

func Create(in Input) (int64, error) {
	if err := validate(in); err != nil {
		return 0, err
	}

	dup, err := recordExists(in.EmployeeID, in.PayDate, 0)
	if err != nil {
		return 0, err
	}
	if dup {
		return 0, apperr.Conflict("a payroll record already exists for this employee on the selected date")
	}

	result, err := db.DB.Exec(
		"INSERT INTO payroll (employee_id, pay_date, gross_salary, deductions, bonuses, net_salary) VALUES (?, ?, ?, ?, ?, ?)",
		in.EmployeeID, in.PayDate.Format(DateFormat),
		in.Gross.StringFixed(2), in.Deductions.StringFixed(2), in.Bonuses.StringFixed(2), in.Net().StringFixed(2))
	if err != nil {
		return 0, apperr.Storage("payroll: insert", err)
	}

	id, _ := result.LastInsertId()
	return id, nil
}

func Update(id int64, in Input) error {
	if err := validate(in); err != nil {
		return err
	}

	var exists int
	if err := db.DB.QueryRow("SELECT COUNT(*) FROM payroll WHERE id = ?", id).Scan(&exists); err != nil {
		return apperr.Storage("payroll: check id", err)
	}
	if exists == 0 {
		return apperr.NotFound("payroll record", id)
	}

	dup, err := recordExists(in.EmployeeID, in.PayDate, id)
	if err != nil {
		return err
	}
	if dup {
		return apperr.Conflict("a payroll record already exists for this employee on the selected date")
	}

	_, err = db.DB.Exec(
		"UPDATE payroll SET employee_id = ?, pay_date = ?, gross_salary = ?, deductions = ?, bonuses = ?, net_salary = ? WHERE id = ?",
		in.EmployeeID, in.PayDate.Format(DateFormat),
		in.Gross.StringFixed(2), in.Deductions.StringFixed(2), in.Bonuses.StringFixed(2), in.Net().StringFixed(2), id)
	if err != nil {
		return apperr.Storage("payroll: update", err)
	}

	return nil
}

func Delete(id int64) error {
	_, err := db.DB.Exec("DELETE FROM payroll WHERE id = ?", id)
	if err != nil {
		return apperr.Storage("payroll: delete", err)
	}
	return nil
}

// Filter narrows List. Month is "YYYY-MM"; zero values mean no filter.
// Both filters combine with AND.
type Filter struct {
	Month      string
	EmployeeID int64
}

// Totals are folded over the returned records with the same decimal
// representation the records are stored in, so they match a SQL SUM exactly.
type Totals struct {
	Gross      decimal.Decimal `json:"gross_salary"`
	Deductions decimal.Decimal `json:"deductions"`
	Bonuses    decimal.Decimal `json:"bonuses"`
	Net        decimal.Decimal `json:"net_salary"`
}

func (t *Totals) add(e models.PayrollEntry) {
	t.Gross = t.Gross.Add(e.Gross)
	t.Deductions = t.Deductions.Add(e.Deductions)
	t.Bonuses = t.Bonuses.Add(e.Bonuses)
	t.Net = t.Net.Add(e.Net)
}

// List returns payroll records joined with employee names, ordered by pay
// date descending then employee last/first name, plus column totals.
func List(f Filter) ([]models.PayrollEntry, Totals, error) {
	query := `
		SELECT p.id, p.employee_id, e.first_name, e.last_name, p.pay_date,
		       p.gross_salary, p.deductions, p.bonuses, p.net_salary
		FROM payroll p
		JOIN employees e ON p.employee_id = e.id
		WHERE 1=1`
	var args []any

	if f.Month != "" {
		query += " AND strftime('%Y-%m', p.pay_date) = ?"
		args = append(args, f.Month)
	}
	if f.EmployeeID != 0 {
		query += " AND p.employee_id = ?"
		args = append(args, f.EmployeeID)
	}

	query += " ORDER BY p.pay_date DESC, e.last_name, e.first_name"

	rows, err := db.DB.Query(query, args...)
	if err != nil {
		return nil, Totals{}, apperr.Storage("payroll: list", err)
	}
	defer rows.Close()

	var entries []models.PayrollEntry
	var totals Totals
	for rows.Next() {
		var e models.PayrollEntry
		var payDate, gross, deductions, bonuses, net string
		if err := rows.Scan(&e.ID, &e.EmployeeID, &e.FirstName, &e.LastName, &payDate, &gross, &deductions, &bonuses, &net); err != nil {
			logrus.WithError(err).Warn("skipping unreadable payroll row")
			continue
		}
		e.PayDate, _ = time.Parse(DateFormat, payDate)
		e.Gross, _ = decimal.NewFromString(gross)
		e.Deductions, _ = decimal.NewFromString(deductions)
		e.Bonuses, _ = decimal.NewFromString(bonuses)
		e.Net, _ = decimal.NewFromString(net)
		totals.add(e)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, Totals{}, apperr.Storage("payroll: list", err)
	}

	return entries, totals, nil
}

// Get returns a single record for edit-form prefill.
func Get(id int64) (models.PayrollEntry, error) {
	row := db.DB.QueryRow(`
		SELECT p.id, p.employee_id, e.first_name, e.last_name, p.pay_date,
		       p.gross_salary, p.deductions, p.bonuses, p.net_salary
		FROM payroll p
		JOIN employees e ON p.employee_id = e.id
		WHERE p.id = ?`, id)

	var e models.PayrollEntry
	var payDate, gross, deductions, bonuses, net string
	err := row.Scan(&e.ID, &e.EmployeeID, &e.FirstName, &e.LastName, &payDate, &gross, &deductions, &bonuses, &net)
	if errors.Is(err, sql.ErrNoRows) {
		return models.PayrollEntry{}, apperr.NotFound("payroll record", id)
	}
	if err != nil {
		return models.PayrollEntry{}, apperr.Storage("payroll: get", err)
	}
	e.PayDate, _ = time.Parse(DateFormat, payDate)
	e.Gross, _ = decimal.NewFromString(gross)
	e.Deductions, _ = decimal.NewFromString(deductions)
	e.Bonuses, _ = decimal.NewFromString(bonuses)
	e.Net, _ = decimal.NewFromString(net)
	return e, nil
}
