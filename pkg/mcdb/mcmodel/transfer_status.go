package mcmodel

// TransferStatus is the lifecycle state of a TransferSession.
type TransferStatus string

const (
	StatusPending      TransferStatus = "PENDING"
	StatusConnected    TransferStatus = "CONNECTED"
	StatusTransferring TransferStatus = "TRANSFERRING"
	StatusCompleted    TransferStatus = "COMPLETED"
	StatusCancelled    TransferStatus = "CANCELLED"
	StatusExpired      TransferStatus = "EXPIRED"
	StatusFailed       TransferStatus = "FAILED"
)

// transitions lists, for each status, the statuses it may move to. Terminal statuses
// have no entry. CONNECTED -> COMPLETED covers a single chunk transfer where the first
// accepted chunk is also the last one.
var transitions = map[TransferStatus][]TransferStatus{
	StatusPending:      {StatusConnected, StatusCancelled, StatusExpired, StatusFailed},
	StatusConnected:    {StatusTransferring, StatusCompleted, StatusCancelled, StatusExpired, StatusFailed},
	StatusTransferring: {StatusCompleted, StatusCancelled, StatusFailed},
}

func (s TransferStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusExpired, StatusFailed:
		return true
	default:
		return false
	}
}

func (s TransferStatus) IsValid() bool {
	_, nonTerminal := transitions[s]
	return nonTerminal || s.IsTerminal()
}

func (s TransferStatus) CanTransitionTo(next TransferStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}

	return false
}

// SourcesFor returns every status that may transition to target. The stores use it
// to build the guard of a conditional status update.
func SourcesFor(target TransferStatus) []TransferStatus {
	var sources []TransferStatus
	for _, from := range []TransferStatus{StatusPending, StatusConnected, StatusTransferring} {
		if from.CanTransitionTo(target) {
			sources = append(sources, from)
		}
	}

	return sources
}

// ActiveStatuses are the non-terminal statuses.
func ActiveStatuses() []TransferStatus {
	return []TransferStatus{StatusPending, StatusConnected, StatusTransferring}
}
