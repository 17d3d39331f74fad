package entity

// ContractCall is a single read-only call executed inside a multicall batch.
type ContractCall struct {
	Target   string
	CallData []byte
}

// CallResult is the per-slot outcome of a multicall batch.
type CallResult struct {
	Success    bool
	ReturnData []byte
}
