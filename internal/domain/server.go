package domain

// Server is one member of a fleet. Each server owns its own account store;
// the command surface only fans requests out, there are no cross-server
// transactions.
type Server struct {
	ID          string
	APIEndpoint string
	AuthToken   string
}
