package services

// Conn is one physical client connection. Send must not block; transports
// drop or fail fast when the peer cannot keep up.
type Conn interface {
	ID() string
	Send(event string, payload interface{}) error
}
