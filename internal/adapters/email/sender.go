package email

import "context"

// Message contains the data needed to send one email via an external
// provider.
type Message struct {
	To      string // Recipient address
	From    string // Sender address (e.g. "Perpustakaan <noreply@libres.example>")
	Subject string
	HTML    string // HTML body
}

// Sender is the interface for delivering emails.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}
