package store

// FeedbackEvent records one applied revision operation. The log is
// append-only; events are never updated or deleted by the application.
type FeedbackEvent struct {
	ID            string
	SessionID     string
	Operation     string
	TargetPlaceID *string
	OtherPlaceID  *string // swap's second target
	TargetDay     *int32
	Reason        string
	CreatedTs     int64
}

// FindFeedbackEvent filters feedback events. Results are ordered by
// creation time ascending so replaying them reproduces the revision
// sequence.
type FindFeedbackEvent struct {
	SessionID *string
	Limit     *int
}
