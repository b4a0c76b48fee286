package live

import (
	"encoding/json"
	"net/http"

	"draftcal/internal/store"

	ws "github.com/coder/websocket"
)

// Handler serves the live feed at /ws and the current snapshot at /state.
func Handler(hub *Hub, st *store.Store) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", HandleWebSocket(hub, st))
	mux.HandleFunc("GET /state", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(st.State()); err != nil {
			hub.logger.Error("encode state", "error", err)
		}
	})
	return mux
}

// HandleWebSocket upgrades connections and runs them as hub clients. Each
// client first receives the current snapshot.
func HandleWebSocket(hub *Hub, st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			InsecureSkipVerify: true, // UI may be served from another origin
		})
		if err != nil {
			hub.logger.Warn("websocket accept failed", "error", err)
			return
		}
		defer conn.CloseNow()

		initial, err := json.Marshal(NewMessage(st.State()))
		if err != nil {
			hub.logger.Error("marshal initial state", "error", err)
			return
		}

		NewClient(hub, conn).Run(r.Context(), initial)
	}
}
