package db

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

var DB *sql.DB

// DummyHash is compared against when a username does not exist, so that a
// login attempt takes the same time either way.
var DummyHash string

func InitDB(dataSourceName string) {
	var err error
	// _foreign_keys=on is required for the payroll cascade delete
	DB, err = sql.Open("sqlite3", dataSourceName+"?_foreign_keys=on")
	if err != nil {
		logrus.Fatal(err)
	}

	createTables := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		role TEXT DEFAULT 'user',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS employees (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL,
		email TEXT UNIQUE NOT NULL,
		phone TEXT,
		job_title TEXT NOT NULL,
		base_salary TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS payroll (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		employee_id INTEGER NOT NULL,
		pay_date TEXT NOT NULL,
		gross_salary TEXT NOT NULL,
		deductions TEXT NOT NULL,
		bonuses TEXT NOT NULL,
		net_salary TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (employee_id) REFERENCES employees(id) ON DELETE CASCADE,
		UNIQUE (employee_id, pay_date)
	);

	CREATE TABLE IF NOT EXISTS api_sessions (
		token TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		username TEXT NOT NULL,
		role TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`

	_, err = DB.Exec(createTables)
	if err != nil {
		logrus.Fatalf("Error creating tables: %v", err)
	}

	// Create default admin if not exists
	var count int
	err = DB.QueryRow("SELECT COUNT(*) FROM users WHERE role = 'admin'").Scan(&count)
	if err != nil {
		logrus.Fatalf("Error checking for admin user: %v", err)
	}

	if count == 0 {
		// Default admin: admin / admin123
		hashedPassword, _ := HashPassword("admin123")
		_, err = DB.Exec("INSERT INTO users (username, password_hash, role) VALUES (?, ?, ?)", "admin", hashedPassword, "admin")
		if err != nil {
			logrus.Fatalf("Error creating default admin: %v", err)
		}
		logrus.Info("Default admin created: admin / admin123")
	}

	if DummyHash == "" {
		DummyHash, _ = HashPassword("paydesk-dummy-password")
	}
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), 14)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}
