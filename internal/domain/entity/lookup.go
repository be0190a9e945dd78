package entity

// CachedResult is what a cache returns for a CallID it holds.
type CachedResult struct {
	ID       CallID
	Success  bool
	Response []byte
}

// Status returns the evaluated status of the result.
func (c CachedResult) Status() Status {
	return StatusFromSuccess(c.Success)
}

// Lookup partitions requested ids into those the cache holds and those it does not.
// Both lists follow the order of the request, with duplicates collapsed.
type Lookup struct {
	Found   []CachedResult
	Missing []CallID
}

// Complete reports whether every requested id was found.
func (l Lookup) Complete() bool {
	return len(l.Missing) == 0
}

// ByID indexes the found results.
func (l Lookup) ByID() map[CallID]CachedResult {
	out := make(map[CallID]CachedResult, len(l.Found))
	for _, r := range l.Found {
		out[r.ID] = r
	}
	return out
}

// UniqueIDs returns ids with duplicates removed, keeping first occurrence order.
func UniqueIDs(ids []CallID) []CallID {
	seen := make(map[CallID]struct{}, len(ids))
	out := make([]CallID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// NewLookup builds a Lookup for ids given the results a store returned, in
// whatever order the store produced them.
func NewLookup(ids []CallID, results map[CallID]CachedResult) Lookup {
	unique := UniqueIDs(ids)
	l := Lookup{
		Found:   make([]CachedResult, 0, len(results)),
		Missing: make([]CallID, 0),
	}
	for _, id := range unique {
		if r, ok := results[id]; ok {
			l.Found = append(l.Found, r)
		} else {
			l.Missing = append(l.Missing, id)
		}
	}
	return l
}
