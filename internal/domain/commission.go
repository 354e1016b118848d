package domain

// CommissionRequest carries the parameters of the confirmed commission
// that spawned a task. The orchestrator stores and forwards it to the
// generation pipeline verbatim; it never interprets the contents.
type CommissionRequest struct {
	AmountCents int    `json:"amount_cents"`
	Currency    string `json:"currency"`
	Message     string `json:"message,omitempty"`
	Subreddit   string `json:"subreddit,omitempty"`
}
