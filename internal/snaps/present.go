package snaps

// Status is how a snap appears to one observer.
type Status string

const (
	StatusSent   Status = "sent"
	StatusNew    Status = "new"
	StatusViewed Status = "viewed"
)

const (
	PromptDelete  = "snap sent (tap to delete)"
	PromptReveal  = "tap to view (it will be deleted!)"
	PromptPending = "already viewed (deleting soon)"
)

// Presentation is the observer-specific rendering of a snap. It never carries
// the text; only Act reveals content.
type Presentation struct {
	ID         string `json:"id"`
	SenderName string `json:"senderName"`
	IsPremium  bool   `json:"isPremium"`
	Timestamp  int64  `json:"timestamp"`
	Mine       bool   `json:"mine"`
	Status     Status `json:"status"`
	Prompt     string `json:"prompt"`
	// Actionable is false once nothing the observer does can change the snap.
	Actionable bool `json:"actionable"`
}

// Present renders msg for observerID.
func Present(msg Message, observerID string) Presentation {
	p := Presentation{
		ID:         msg.ID,
		SenderName: msg.SenderName,
		IsPremium:  msg.IsPremium,
		Timestamp:  msg.Timestamp,
	}
	switch {
	case msg.SenderID == observerID:
		p.Mine = true
		p.Status = StatusSent
		p.Prompt = PromptDelete
		p.Actionable = true
	case msg.State() == StateViewed:
		p.Status = StatusViewed
		p.Prompt = PromptPending
	default:
		p.Status = StatusNew
		p.Prompt = PromptReveal
		p.Actionable = true
	}
	return p
}

// PresentAll renders msgs for observerID, keeping their order.
func PresentAll(msgs []Message, observerID string) []Presentation {
	out := make([]Presentation, len(msgs))
	for i, msg := range msgs {
		out[i] = Present(msg, observerID)
	}
	return out
}
