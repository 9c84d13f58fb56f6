package httpapi

import (
	"net/http"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// handleConflictStream upgrades to a websocket and pushes each conflict
// notification as one JSON frame. Subscribing happens before the upgrade
// completes so a conflict raised immediately after connect is not lost.
func (s *Server) handleConflictStream(w http.ResponseWriter, r *http.Request) {
	ch, cancel := s.engine.SubscribeConflicts(16)
	defer cancel()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case state, ok := <-ch:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			if err := wsjson.Write(ctx, conn, state); err != nil {
				return
			}
		}
	}
}
