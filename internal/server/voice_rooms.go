package server

import (
	"encoding/json"
	"net/http"

	"github.com/sageclinic/orchestrator/internal/server/middleware"
)

// voiceRoomRequest optionally pins the client to an existing room, so a
// clinician can rejoin the same voice session's room after a reconnect.
type voiceRoomRequest struct {
	RoomName string `json:"room_name,omitempty"`
}

type voiceRoomResponse struct {
	RoomName string `json:"room_name"`
	Token    string `json:"token"`
	URL      string `json:"url"`
}

// handleVoiceRoom stands up (or rejoins) a LiveKit room and mints a join
// token for the calling user, the alternative C14 transport to inline
// WebSocket audio frames (spec §4.14). Only registered when LiveKit
// credentials are configured.
func (s *Server) handleVoiceRoom(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())

	var req voiceRoomRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
	}

	roomName := req.RoomName
	if roomName == "" {
		roomName = s.deps.IDs.GenerateLiveKitRoomName()
	}

	ctx := r.Context()
	if _, err := s.deps.LiveKit.GetRoom(ctx, roomName); err != nil {
		if _, err := s.deps.LiveKit.CreateRoom(ctx, roomName); err != nil {
			http.Error(w, `{"error":"failed to create voice room"}`, http.StatusBadGateway)
			return
		}
	}

	token, err := s.deps.LiveKit.GenerateToken(ctx, roomName, userID, userID)
	if err != nil {
		http.Error(w, `{"error":"failed to mint room token"}`, http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(voiceRoomResponse{
		RoomName: roomName,
		Token:    token.Token,
		URL:      s.deps.LiveKitURL,
	})
}
