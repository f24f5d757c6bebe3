package httpx

import (
	"net/http"
)

// healthView is the /healthz body. The session state is informational: the process is
// healthy whether or not an operator is signed in.
type healthView struct {
	Status  string `json:"status"`
	Session string `json:"session"`
}

// healthHandler returns a 200 OK status for readiness/liveness checks.
func healthHandler(sessions SessionReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			return
		}

		view := healthView{Status: "ok"}
		if sessions != nil {
			view.Session = string(sessions.Snapshot().State())
		}
		WriteJSON(w, http.StatusOK, view)
	}
}
