package entity

// RefreshState is the cache warmer state of one chain.
type RefreshState int32

const (
	RefreshIdle RefreshState = iota
	RefreshRefreshing
)

func (s RefreshState) String() string {
	if s == RefreshRefreshing {
		return "refreshing"
	}
	return "idle"
}

// ChainRefreshState is the observable refresh state of one chain.
type ChainRefreshState struct {
	Chain              Chain        `json:"chain"`
	LastProcessedBlock uint64       `json:"lastProcessedBlock"`
	State              RefreshState `json:"state"`
	Refreshes          uint64       `json:"refreshes"`
	Dropped            uint64       `json:"dropped"`
}
