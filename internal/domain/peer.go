package domain

// PeerID identifies one signaling connection. It doubles as the
// negotiation tie-break key, so it must be stable for the lifetime of
// the connection.
type PeerID string

// Initiates reports whether this peer opens the offer toward other.
// The lexicographically smaller id always initiates, so a pair never
// produces crossed offers.
func (p PeerID) Initiates(other PeerID) bool {
	return p < other
}
