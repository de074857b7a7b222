/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package spinner

// CreatorSessionHeader carries the creator token on HTTP requests.
const CreatorSessionHeader = "X-Creator-Session"

type CreateRoomRequest struct {
	RoomName  string   `json:"roomName" validate:"required,max=100"`
	Names     []string `json:"names" validate:"min=2,max=200,dive,required,max=100"`
	Materials []string `json:"materials" validate:"min=2,max=200,eqfield=Names,dive,required,max=200"`
}

type CreateRoomResponse struct {
	Success          bool   `json:"success"`
	RoomID           string `json:"roomId"`
	RoomCode         string `json:"roomCode"`
	CreatorSessionID string `json:"creatorSessionId"`
}

type CheckRoomRequest struct {
	RoomCode string `json:"roomCode"`
}

type CheckRoomResponse struct {
	Exists bool `json:"exists"`
}

type CommitResponse struct {
	Success bool `json:"success"`
	Room    Room `json:"room"`
}

// HistoryPage is a room's spin history, newest first.
type HistoryPage struct {
	RoomCode string         `json:"roomCode"`
	RoomName string         `json:"roomName"`
	Complete bool           `json:"complete"`
	History  []HistoryEntry `json:"history"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}
