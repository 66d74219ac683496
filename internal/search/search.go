package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultGoal   ResultType = "goal"
	ResultReview ResultType = "review"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type    ResultType `json:"type"`
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Snippet string     `json:"snippet"`
	Level   string     `json:"level,omitempty"`
	Status  string     `json:"status,omitempty"`
	OwnerID string     `json:"-"`
}

// Query describes a search request. OwnerID is always required: search
// never crosses user boundaries.
type Query struct {
	Text        string
	OwnerID     string
	FilterType  ResultType // empty = all types
	FilterLevel string
	Limit       int
	Offset      int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// GoalRecord is the data we index for a goal.
type GoalRecord struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Level   string `json:"level"`
	Status  string `json:"status"`
	OwnerID string `json:"ownerId"`
}

// ReviewRecord is the data we index for a submitted weekly review.
type ReviewRecord struct {
	ID         string `json:"id"`
	WeekStart  string `json:"weekStart"`
	Wins       string `json:"wins"`
	Challenges string `json:"challenges"`
	Learnings  string `json:"learnings"`
	OwnerID    string `json:"ownerId"`
}
