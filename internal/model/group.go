package model

// GroupStatus tracks a cluster through the resolution cascade.
type GroupStatus string

const (
	// GroupProvisional marks a cluster formed by a statistical gate that has
	// not yet been checked as a whole.
	GroupProvisional GroupStatus = "provisional"
	// GroupVerified marks a cluster that is final for this run.
	GroupVerified GroupStatus = "verified"
	// GroupDiscarded marks a cluster that was invalidated; membership in a
	// discarded group leaves no trace on the records.
	GroupDiscarded GroupStatus = "discarded"
)

// Group is a cluster of records believed to denote the same real-world item.
type Group struct {
	ID        int64       `json:"group_id"`
	MemberIDs []string    `json:"member_ids"`
	Status    GroupStatus `json:"status"`
}

// Size returns the member count.
func (g *Group) Size() int {
	return len(g.MemberIDs)
}
