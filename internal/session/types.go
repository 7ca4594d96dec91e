package session

// ListResponse is the payload of the call listing endpoint.
type ListResponse struct {
	Calls  []*Call `json:"calls"`
	Active int     `json:"active"`
}
