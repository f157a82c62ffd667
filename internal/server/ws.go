package server

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"git.home.luguber.info/inful/contexthub/internal/logfields"
	"git.home.luguber.info/inful/contexthub/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Local daemon; same-origin policy adds nothing here.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWebsocket attaches a sync connection. The owner comes from the
// query string and defaults to the shared owner.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		owner = store.DefaultOwner
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", logfields.Error(err))
		return
	}

	conn, err := s.daemon.Hub().Attach(r.Context(), owner, ws)
	if err != nil {
		slog.Warn("sync attach failed",
			logfields.OwnerID(owner), logfields.Error(err))
		_ = ws.Close()
		return
	}

	// Hold the handler open until the hub drops the connection, so the
	// request context outlives the pumps.
	<-conn.Closed()
}
