package domain

// CategoryHints tells an AI categorizer which labels to use. When Allowed is
// non-empty the model must pick only from it; otherwise it should invent
// specific labels while avoiding everything in Avoid.
type CategoryHints struct {
	Allowed []string
	Avoid   []string
}
