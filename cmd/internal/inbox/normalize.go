package inbox

import "strings"

// Validate checks the required fields of an inbound event.
// Contact is compared after trimming; name and body only need to be non-empty.
func (in InboundMessage) Validate() error {
	const op = "inbox.InboundMessage.Validate"
	if strings.TrimSpace(in.Contact) == "" {
		return validationErr(op, "phone is required")
	}
	if in.Name == "" {
		return validationErr(op, "name is required")
	}
	if in.Body == "" {
		return validationErr(op, "message is required")
	}
	return nil
}

// NormalizeContact trims surrounding whitespace from a contact identifier.
func NormalizeContact(contact string) string {
	return strings.TrimSpace(contact)
}
