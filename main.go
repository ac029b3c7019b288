package main

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/csrf"
	"github.com/sirupsen/logrus"

	"paydesk/auth"
	"paydesk/config"
	"paydesk/db"
	"paydesk/handlers"
	"paydesk/i18n"
)

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := config.LoadConfig("config.json"); err != nil {
		logrus.Fatalf("Error loading config: %v", err)
	}

	if err := i18n.LoadTranslations("i18n"); err != nil {
		logrus.Fatalf("Error loading translations: %v", err)
	}

	auth.InitStore()

	db.InitDB(config.AppConfig.DatabasePath)
	defer db.DB.Close()

	mux := http.NewServeMux()

	// Static files
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir("static"))))

	// Register application handlers
	handlers.RegisterHandlers(mux)

	addr := fmt.Sprintf("%s:%d", config.AppConfig.ListenIP, config.AppConfig.ListenPort)
	logrus.Infof("Server starting on %s (%s)", addr, config.AppConfig.AppName)

	// CSRF protection for the form handlers. The key is derived from the
	// session key; rotate both together. The JSON API authenticates with its
	// own token header and is exempt.
	csrfMiddleware := csrf.Protect(
		[]byte(config.AppConfig.SessionKey),
		csrf.Secure(config.AppConfig.ListenPort != 8080),
		csrf.Path("/"),
	)
	web := csrfMiddleware(mux)
	root := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			mux.ServeHTTP(w, r)
			return
		}
		web.ServeHTTP(w, r)
	})

	handler := handlers.CORSMiddleware(handlers.SecurityHeadersMiddleware(root))
	if err := http.ListenAndServe(addr, handler); err != nil {
		logrus.Fatal(err)
	}
}
