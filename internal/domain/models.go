package domain

// Record is one article row. Identity is positional; duplicates are kept.
type Record struct {
	Title  string `json:"title"`
	Author string `json:"author"`
	Date   string `json:"date"` // free-form label from the 日期 column
}

// Titles returns the titles of records in input order.
func Titles(records []Record) []string {
	titles := make([]string, len(records))
	for i, r := range records {
		titles[i] = r.Title
	}
	return titles
}

// MatchSet holds titles the classifier accepted. Membership is exact string equality.
type MatchSet map[string]struct{}

func NewMatchSet(titles ...string) MatchSet {
	s := make(MatchSet, len(titles))
	s.Add(titles...)
	return s
}

func (s MatchSet) Add(titles ...string) {
	for _, t := range titles {
		s[t] = struct{}{}
	}
}

func (s MatchSet) Has(title string) bool {
	_, ok := s[title]
	return ok
}

func (s MatchSet) Len() int {
	return len(s)
}

// Clone returns an independent copy so callers can keep a partial set while
// the running one keeps growing.
func (s MatchSet) Clone() MatchSet {
	out := make(MatchSet, len(s))
	for t := range s {
		out[t] = struct{}{}
	}
	return out
}

// Progress reports the batch being processed (1-based) out of Total.
// The zero value means no run is active.
type Progress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

func (p Progress) Active() bool {
	return p.Total > 0
}
