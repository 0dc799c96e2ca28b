package models

type RecipientKind string

const (
	// RecipientRegistered is a directory user who gets the full
	// credential + session + dispatch pipeline.
	RecipientRegistered RecipientKind = "registered"
	// RecipientExternal is a bare address with no directory record; it
	// gets a link-only session and goes straight to manual delivery.
	RecipientExternal RecipientKind = "external"
)

// Recipient is a resolved assignment target. User is set only for the
// registered kind; Address is always set.
type Recipient struct {
	Kind    RecipientKind
	User    *User
	Address string
}

func (r Recipient) DisplayName() string {
	if r.Kind == RecipientRegistered && r.User != nil {
		return r.User.FullName()
	}
	return r.Address
}
