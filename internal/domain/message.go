package domain

import "time"

// MessageSender identifies who authored a ticket message.
type MessageSender string

const (
	SenderCustomer MessageSender = "customer"
	SenderAI       MessageSender = "ai"
	SenderAdmin    MessageSender = "admin"
	SenderSystem   MessageSender = "system"
)

// Message is one entry in a ticket's conversation thread. Within a ticket
// the created_at sequence is strictly increasing; the first message is
// always customer or system.
type Message struct {
	ID         string        `json:"id" db:"id"`
	TicketID   string        `json:"ticket_id" db:"ticket_id"`
	Sender     MessageSender `json:"sender" db:"sender"`
	Body       string        `json:"message" db:"message"`
	Confidence *float64      `json:"confidence,omitempty" db:"confidence"`
	Success    *bool         `json:"success,omitempty" db:"success"`
	CreatedAt  time.Time     `json:"created_at" db:"created_at"`
}
