package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Config struct {
	AppName      string `json:"app_name"`
	ListenIP     string `json:"listen_ip"`
	ListenPort   int    `json:"listen_port"`
	SessionKey   string `json:"session_key"`
	DatabasePath string `json:"database_path"`
}

var AppConfig Config

func LoadConfig(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&AppConfig); err != nil {
		return err
	}

	// Load .env if present, then let environment variables win over the file
	_ = godotenv.Load()
	if envKey := os.Getenv("PAYDESK_SESSION_KEY"); envKey != "" {
		AppConfig.SessionKey = envKey
	}
	if envDB := os.Getenv("PAYDESK_DB_PATH"); envDB != "" {
		AppConfig.DatabasePath = envDB
	}

	if AppConfig.DatabasePath == "" {
		AppConfig.DatabasePath = "./paydesk.db"
	}

	// If no key is provided or it's the placeholder, generate a secure random one
	if AppConfig.SessionKey == "" || AppConfig.SessionKey == "CHANGE_ME_IN_PRODUCTION" {
		logrus.Warn("No session key configured. Generating a random key. Sessions will be invalidated on restart.")
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err != nil {
			return err
		}
		AppConfig.SessionKey = hex.EncodeToString(randomKey)
	}

	return nil
}
