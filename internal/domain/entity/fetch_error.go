package entity

// FetchError records a balance that could not be fetched.
type FetchError struct {
	HolderAddress string          `json:"holderAddress"`
	Chain         Chain           `json:"chain"`
	Category      AddressCategory `json:"category"`
	Symbol        string          `json:"symbol"`
	Message       string          `json:"message"`
}
