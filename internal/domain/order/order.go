package order

import (
	"fmt"
	"net/url"
	"strings"
)

// Item is one line of an order request.
type Item struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// Request is the public place-order payload.
type Request struct {
	CustomerName        string `json:"customer_name"`
	Address             string `json:"address,omitempty"`
	AppointmentDateTime string `json:"appointment_datetime,omitempty"`
	Notes               string `json:"notes"`
	DeliveryType        string `json:"delivery_type,omitempty"`
	Items               []Item `json:"items"`
}

// Receipt is what the backend returns after an order is accepted.
type Receipt struct {
	OrderID       string  `json:"order_id"`
	Total         float64 `json:"total"`
	BusinessPhone string  `json:"business_phone"`
	Appointment   string  `json:"appointment"`
	Summary       string  `json:"resumen"`
}

// RelayMessage hands an accepted order to the business over WhatsApp.
type RelayMessage struct {
	OrderID string `json:"order_id"`
	Phone   string `json:"phone"`
	Text    string `json:"text"`
	URL     string `json:"url"`
}

const whatsAppSendURL = "https://api.whatsapp.com/send"

// ShortID is the customer-facing order reference.
func ShortID(id string) string {
	id = strings.ToUpper(strings.TrimSpace(id))
	if len(id) > 8 {
		id = id[:8]
	}
	return id
}

// BuildRelayMessage renders the order summary sent to the business and the
// click-to-chat link that carries it.
func BuildRelayMessage(r Receipt, customer, notes string) RelayMessage {
	if strings.TrimSpace(notes) == "" {
		notes = "No notes"
	}
	appointment := r.Appointment
	if appointment == "" {
		appointment = "To be agreed"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "*ORDER: #%s*\n", ShortID(r.OrderID))
	b.WriteString("--------------------------\n")
	fmt.Fprintf(&b, "*Customer:* %s\n", customer)
	fmt.Fprintf(&b, "*Detail:*\n%s\n\n", r.Summary)
	fmt.Fprintf(&b, "*TOTAL: $%.2f*\n", r.Total)
	b.WriteString("--------------------------\n")
	fmt.Fprintf(&b, "*APPOINTMENT:* %s\n", appointment)
	fmt.Fprintf(&b, "*NOTES:* %s\n\n", notes)
	b.WriteString("_Sent from QuickDrop_")

	text := b.String()
	q := url.Values{}
	q.Set("phone", r.BusinessPhone)
	q.Set("text", text)

	return RelayMessage{
		OrderID: ShortID(r.OrderID),
		Phone:   r.BusinessPhone,
		Text:    text,
		URL:     whatsAppSendURL + "?" + q.Encode(),
	}
}
