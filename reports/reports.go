// Package reports computes the dashboard aggregates. Every view recomputes
// from current data; nothing is cached.
package reports

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"paydesk/apperr"
	"paydesk/db"
	"paydesk/models"
	"paydesk/payroll"
)

type Summary struct {
	EmployeeCount int                     `json:"employee_count"`
	MonthlyNet    decimal.Decimal         `json:"monthly_net"`
	Recent        []models.PayrollEntry   `json:"recent_payroll"`
	Departments   []models.DepartmentStat `json:"department_stats"`
}

// Dashboard builds the summary as of now. The monthly total covers records
// whose pay date's year-month equals now's year-month.
func Dashboard(now time.Time) (Summary, error) {
	var s Summary

	if err := db.DB.QueryRow("SELECT COUNT(*) FROM employees").Scan(&s.EmployeeCount); err != nil {
		return Summary{}, apperr.Storage("reports: employee count", err)
	}

	monthly, err := monthlyNet(now.Format("2006-01"))
	if err != nil {
		return Summary{}, err
	}
	s.MonthlyNet = monthly

	recent, err := recentPayroll(5)
	if err != nil {
		return Summary{}, err
	}
	s.Recent = recent

	departments, err := departmentStats()
	if err != nil {
		return Summary{}, err
	}
	s.Departments = departments

	return s, nil
}

// monthlyNet folds net salaries in decimal rather than relying on the
// database's float SUM, so the total is exact to the cent.
func monthlyNet(yearMonth string) (decimal.Decimal, error) {
	rows, err := db.DB.Query("SELECT net_salary FROM payroll WHERE strftime('%Y-%m', pay_date) = ?", yearMonth)
	if err != nil {
		return decimal.Zero, apperr.Storage("reports: monthly net", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var net string
		if err := rows.Scan(&net); err != nil {
			continue
		}
		d, err := decimal.NewFromString(net)
		if err != nil {
			logrus.WithError(err).Warnf("unreadable net salary %q", net)
			continue
		}
		total = total.Add(d)
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, apperr.Storage("reports: monthly net", err)
	}
	return total, nil
}

func recentPayroll(limit int) ([]models.PayrollEntry, error) {
	rows, err := db.DB.Query(`
		SELECT p.id, p.employee_id, e.first_name, e.last_name, p.pay_date,
		       p.gross_salary, p.deductions, p.bonuses, p.net_salary
		FROM payroll p
		JOIN employees e ON p.employee_id = e.id
		ORDER BY p.pay_date DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, apperr.Storage("reports: recent payroll", err)
	}
	defer rows.Close()

	var entries []models.PayrollEntry
	for rows.Next() {
		var e models.PayrollEntry
		var payDate, gross, deductions, bonuses, net string
		if err := rows.Scan(&e.ID, &e.EmployeeID, &e.FirstName, &e.LastName, &payDate, &gross, &deductions, &bonuses, &net); err != nil {
			continue
		}
		e.PayDate, _ = time.Parse(payroll.DateFormat, payDate)
		e.Gross, _ = decimal.NewFromString(gross)
		e.Deductions, _ = decimal.NewFromString(deductions)
		e.Bonuses, _ = decimal.NewFromString(bonuses)
		e.Net, _ = decimal.NewFromString(net)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("reports: recent payroll", err)
	}
	return entries, nil
}

// departmentStats groups employees by job title, which doubles as department.
// Sums and averages are folded in decimal; the average is rounded to cents.
func departmentStats() ([]models.DepartmentStat, error) {
	rows, err := db.DB.Query("SELECT job_title, base_salary FROM employees ORDER BY job_title")
	if err != nil {
		return nil, apperr.Storage("reports: department stats", err)
	}
	defer rows.Close()

	var stats []models.DepartmentStat
	for rows.Next() {
		var title, salary string
		if err := rows.Scan(&title, &salary); err != nil {
			continue
		}
		d, err := decimal.NewFromString(salary)
		if err != nil {
			logrus.WithError(err).Warnf("unreadable base salary %q", salary)
			continue
		}
		if len(stats) == 0 || stats[len(stats)-1].JobTitle != title {
			stats = append(stats, models.DepartmentStat{JobTitle: title})
		}
		last := &stats[len(stats)-1]
		last.EmployeeCount++
		last.TotalSalary = last.TotalSalary.Add(d)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("reports: department stats", err)
	}

	for i := range stats {
		stats[i].AvgSalary = stats[i].TotalSalary.Div(decimal.NewFromInt(int64(stats[i].EmployeeCount))).Round(2)
	}
	return stats, nil
}
