package middleware

// RateLimit: configuration for connection, room and message limits
type RateLimit struct {
	MaxRoomSize       int
	MaxRooms          int
	MaxMessageSize    int
	MaxPoints         int
	MessagesPerSecond float64
	BurstSize         int
}

func NewRateLimit(maxRoomSize, maxRooms, maxMessageSize, maxPoints int, messagesPerSecond float64, burstSize int) *RateLimit {
	return &RateLimit{
		MaxRoomSize:       maxRoomSize,
		MaxRooms:          maxRooms,
		MaxMessageSize:    maxMessageSize,
		MaxPoints:         maxPoints,
		MessagesPerSecond: messagesPerSecond,
		BurstSize:         burstSize,
	}
}

// DefaultRateLimit: values used when nothing is configured
func DefaultRateLimit() *RateLimit {
	return NewRateLimit(50, 1000, 512*1024, 10000, 30, 10)
}

// CanCreateRoom: checks the global room limit
func (rl *RateLimit) CanCreateRoom(currentRooms int) bool {
	return rl.MaxRooms <= 0 || currentRooms < rl.MaxRooms
}

// CanJoinRoom: checks if a room has space for another member
func (rl *RateLimit) CanJoinRoom(currentMembers int) bool {
	return rl.MaxRoomSize <= 0 || currentMembers < rl.MaxRoomSize
}

// ValidateMessageSize: checks if a message is within the size limit
func (rl *RateLimit) ValidateMessageSize(msgSize int) bool {
	return rl.MaxMessageSize <= 0 || msgSize <= rl.MaxMessageSize
}
