package models

type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusOffline PresenceStatus = "offline"
)

// Binding is one device connection of a user.
type Binding struct {
	UserID   string `json:"userId"`
	ClientID string `json:"clientId"`
}

type StatusResponse struct {
	UserID   string         `json:"user_id"`
	Status   PresenceStatus `json:"status"`
	IsOnline bool           `json:"is_online"`
	Clients  []string       `json:"clients"`
}

type OnlineUsersResponse struct {
	Count int      `json:"count"`
	Users []string `json:"users"`
}
