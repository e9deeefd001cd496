package request

// ConnectRequest is the request body for announcing a new connection
type ConnectRequest struct {
	Principal string `json:"principal"`
	Address   string `json:"address"`
}

// LoginRequest is the request body for presenting a credential
type LoginRequest struct {
	Principal  string `json:"principal"`
	Address    string `json:"address"`
	Credential string `json:"credential"`
}

// RegisterRequest is the request body for creating an account
type RegisterRequest struct {
	Principal  string `json:"principal"`
	Credential string `json:"credential"`
}

// ChangePasswordRequest is the request body for replacing a credential
type ChangePasswordRequest struct {
	Current string `json:"current"`
	New     string `json:"new"`
}

// RemoveAccountRequest is the request body for deleting an account
type RemoveAccountRequest struct {
	Credential string `json:"credential"`
}

// IssueCodeRequest is the request body for issuing a one-time code
type IssueCodeRequest struct {
	Principal string `json:"principal"`
}

// ClaimCodeRequest is the request body for the website claiming a login code
type ClaimCodeRequest struct {
	Code    string `json:"code"`
	Address string `json:"address"`
}

// RedeemCodeRequest is the request body for authenticating with a web code
type RedeemCodeRequest struct {
	Principal string `json:"principal"`
	Address   string `json:"address"`
	Code      string `json:"code"`
}
