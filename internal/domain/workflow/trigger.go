package workflow

// Trigger represents an event that can cause a state transition
type Trigger string

const (
	TriggerDispatch      Trigger = "DISPATCH"
	TriggerOCRSucceeded  Trigger = "OCR_SUCCEEDED"
	TriggerPass          Trigger = "PASS"
	TriggerRequestReview Trigger = "REQUEST_REVIEW"
	TriggerFail          Trigger = "FAIL"
	TriggerReprocess     Trigger = "REPROCESS"
	TriggerArchive       Trigger = "ARCHIVE"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}
