package models

// FollowUpKind names a piece of post-commit work recorded with an order.
type FollowUpKind string

const (
	FollowUpStock FollowUpKind = "stock"
	FollowUpEvent FollowUpKind = "event"
)

// FollowUpState is the lifecycle of a follow-up row.
type FollowUpState string

const (
	FollowUpPending   FollowUpState = "pending"
	FollowUpDone      FollowUpState = "done"
	FollowUpCancelled FollowUpState = "cancelled"
	FollowUpFailed    FollowUpState = "failed"
)

// FollowUp is a claimed unit of post-commit work.
type FollowUp struct {
	ID       int64
	OrderID  int64
	Kind     FollowUpKind
	Attempts int
}
