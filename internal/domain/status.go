package domain

// Trigger is an event that moves an invoice through its lifecycle
type Trigger string

const (
	TriggerCreate           Trigger = "create"
	TriggerSave             Trigger = "save"
	TriggerSend             Trigger = "send"
	TriggerPaymentConfirmed Trigger = "payment_confirmed"
	TriggerPaymentFailed    Trigger = "payment_failed"
	TriggerDelete           Trigger = "delete"
)

// statusRemoved is the target of delete; the record no longer exists.
const statusRemoved InvoiceStatus = ""

var transitions = map[InvoiceStatus]map[Trigger]InvoiceStatus{
	statusRemoved: {
		TriggerCreate: InvoiceStatusDraft,
	},
	InvoiceStatusDraft: {
		TriggerSave:   InvoiceStatusDraft,
		TriggerSend:   InvoiceStatusSent,
		TriggerDelete: statusRemoved,
	},
	InvoiceStatusSent: {
		TriggerPaymentConfirmed: InvoiceStatusPaid,
		TriggerPaymentFailed:    InvoiceStatusSent,
		TriggerDelete:           statusRemoved,
	},
	InvoiceStatusPaid: {
		TriggerDelete: statusRemoved,
	},
}

// Transition returns the status reached by applying t in from.
// Use the empty status for an invoice that does not exist yet.
func Transition(from InvoiceStatus, t Trigger) (InvoiceStatus, error) {
	if next, ok := transitions[from][t]; ok {
		return next, nil
	}
	return from, &InvalidTransitionError{From: from, Trigger: t}
}

// CanTransition reports whether t is legal from the given status
func CanTransition(from InvoiceStatus, t Trigger) bool {
	_, err := Transition(from, t)
	return err == nil
}
