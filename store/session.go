package store

// ConversationSession is the persisted snapshot of one planning
// conversation: its state-machine state and the serialized slot record.
// The in-memory session owns the live slots; this row exists so a
// session survives a process restart and can be inspected offline.
type ConversationSession struct {
	ID        string
	State     string
	Slots     string // JSON-serialized slot record
	Turn      int32
	CreatedTs int64
	UpdatedTs int64
}

// UpsertConversationSession writes a session snapshot. CreatedTs is only
// honored on insert.
type UpsertConversationSession struct {
	ID    string
	State string
	Slots string
	Turn  int32
}

// FindConversationSession filters persisted sessions.
type FindConversationSession struct {
	ID *string
	// UpdatedBefore selects sessions idle since the given unix timestamp.
	UpdatedBefore *int64
	Limit         *int
}

// DeleteConversationSession removes a session snapshot by id.
type DeleteConversationSession struct {
	ID string
}
