package workflow

// State represents a document's position in the verification lifecycle
type State string

const (
	StatePending        State = "pending"
	StateProcessing     State = "processing"
	StateOCRCompleted   State = "ocr_completed"
	StatePassed         State = "passed"
	StateFailed         State = "failed"
	StateReviewRequired State = "review_required"
	StateArchived       State = "archived"
)

var validStates = map[State]bool{
	StatePending:        true,
	StateProcessing:     true,
	StateOCRCompleted:   true,
	StatePassed:         true,
	StateFailed:         true,
	StateReviewRequired: true,
	StateArchived:       true,
}

// settledStates are verification outcomes. They still permit archival and
// (except archived) reprocessing.
var settledStates = map[State]bool{
	StatePassed:         true,
	StateFailed:         true,
	StateReviewRequired: true,
	StateArchived:       true,
}

var terminalStates = map[State]bool{
	StateArchived: true,
}

// IsSettled returns true if the state is a verification outcome
func (s State) IsSettled() bool {
	return settledStates[s]
}

// IsTerminal returns true if the state allows no further transitions
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a valid lifecycle state
func (s State) IsValid() bool {
	return validStates[s]
}
