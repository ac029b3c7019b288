package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	ID           int       `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"` // "admin" or "user"
	CreatedAt    time.Time `json:"created_at"`
}

type Employee struct {
	ID           int64           `json:"id"`
	FirstName    string          `json:"first_name"`
	LastName     string          `json:"last_name"`
	Email        string          `json:"email"`
	Phone        string          `json:"phone,omitempty"`
	JobTitle     string          `json:"job_title"`
	BaseSalary   decimal.Decimal `json:"base_salary"`
	PayrollCount int             `json:"payroll_count"`
}

// PayrollEntry is a payroll row joined with the employee name for display.
type PayrollEntry struct {
	ID         int64           `json:"id"`
	EmployeeID int64           `json:"employee_id"`
	FirstName  string          `json:"first_name"`
	LastName   string          `json:"last_name"`
	PayDate    time.Time       `json:"pay_date"`
	Gross      decimal.Decimal `json:"gross_salary"`
	Deductions decimal.Decimal `json:"deductions"`
	Bonuses    decimal.Decimal `json:"bonuses"`
	Net        decimal.Decimal `json:"net_salary"`
}

// DepartmentStat groups employees by job title, which doubles as department.
type DepartmentStat struct {
	JobTitle      string          `json:"job_title"`
	EmployeeCount int             `json:"employee_count"`
	AvgSalary     decimal.Decimal `json:"avg_salary"`
	TotalSalary   decimal.Decimal `json:"total_salary"`
}
