package model

// TopEntry is one ranked row in a Top-N list.
type TopEntry struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// BlockedSiteDetail expands one blocked site into its top offending sources.
type BlockedSiteDetail struct {
	Site    string     `json:"site"`
	Count   int64      `json:"count"`
	Sources []TopEntry `json:"sources"`
}

// BlockedCategorySource is one (source, destination) pair under a blocked category.
type BlockedCategorySource struct {
	SrcIP       string `json:"srcip"`
	Destination string `json:"destination"`
	Count       int64  `json:"count"`
}

// BlockedCategoryDetail expands one blocked web-filter category into its top
// source/destination pairs.
type BlockedCategoryDetail struct {
	Category string                  `json:"category"`
	Count    int64                   `json:"count"`
	Sources  []BlockedCategorySource `json:"sources"`
}

// Stats is a consistent point-in-time view of per-device statistics,
// including the derived Top-N rankings.
type Stats struct {
	TotalCount   int64 `json:"total_logs"`
	AllowedCount int64 `json:"allowed_count"`
	BlockedCount int64 `json:"blocked_count"`

	ByAction   map[string]int64 `json:"by_action"`
	ByCategory map[string]int64 `json:"by_type"`

	TopSources           []TopEntry              `json:"top_sources"`
	TopDestinations      []TopEntry              `json:"top_destinations"`
	TopBlocked           []TopEntry              `json:"top_blocked"`
	TopBlockedCategories []TopEntry              `json:"top_blocked_categories"`
	TopBlockedDetail     []BlockedSiteDetail     `json:"top_blocked_detail"`
	TopBlockedCatsDetail []BlockedCategoryDetail `json:"top_blocked_categories_detail"`
}

// Snapshot pairs the ring buffer contents with the statistics derived from
// exactly the same set of accepted records.
type Snapshot struct {
	Records []Record `json:"logs"`
	Stats   Stats    `json:"stats"`
}
