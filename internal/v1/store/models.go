package store

// User is a registered account. Sex is a stored index mapped to a display
// label through configuration.
type User struct {
	ID       int64
	Username string
	Sex      int
}

// Room is a public room (Name set) or a direct room (Name nil). Disabled nil
// means active; direct rooms are soft-deleted by setting it.
type Room struct {
	ID        int64
	Name      *string
	Disabled  *bool
	IsPrivate bool
}

// DirectRoom is the result of the direct-room-between-two-users lookup.
type DirectRoom struct {
	ID       int64
	Disabled *bool
}

// Message is one append-only chat message. Exactly one of ReceiverID and
// RoomID is set. Time is a unix timestamp in milliseconds. ReceiverName is
// populated by history queries for direct messages.
type Message struct {
	ID           int64
	SenderID     int64
	ReceiverID   *int64
	RoomID       *int64
	Content      string
	Image        *string
	Time         int64
	ReceiverName *string
}

// RoomUserRow is one row of the rooms-with-members lookup.
type RoomUserRow struct {
	UserID   int64
	Username string
	Sex      int
	RoomID   int64
	RoomName *string
}

// IPAddress is a lazily created ip record, optionally geo-enriched.
type IPAddress struct {
	ID          int64
	IP          string
	ISP         *string
	Country     *string
	CountryCode *string
	Region      *string
	City        *string
}
