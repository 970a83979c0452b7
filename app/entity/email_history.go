package entity

const (
	EmailStatusProcessing       int16 = 1
	EmailStatusSuccess          int16 = 10
	EmailStatusTransportFailure int16 = 50
)

// EmailHistory is one row per broker message id.
type EmailHistory struct {
	MessageID string
	Recipient string
	Subject   string
	Status    int16
	Attempts  int
}
