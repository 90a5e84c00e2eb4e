package server

import (
	"crypto/subtle"
	"net/http"
	"os"
)

const realm = "Please enter your username and password"

// withBasicAuth guards handler when TGRELAY_USER and TGRELAY_PASS are set.
func withBasicAuth(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		adminUser, adminPass := os.Getenv("TGRELAY_USER"), os.Getenv("TGRELAY_PASS")
		if adminUser == "" && adminPass == "" {
			handler.ServeHTTP(w, r)
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(adminUser)) != 1 ||
			subtle.ConstantTimeCompare([]byte(pass), []byte(adminPass)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="`+realm+`"`)
			writeError(w, http.StatusUnauthorized, "You are unauthorized to access the application.")
			return
		}
		handler.ServeHTTP(w, r)
	})
}
