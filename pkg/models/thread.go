package models

import "fmt"

// Category groups threads by counterparty type.
type Category string

const (
	CategoryProfessional Category = "professional"
	CategoryStudent      Category = "student"
	CategoryPatient      Category = "patient"
)

func ParseCategory(s string) (Category, error) {
	switch Category(s) {
	case CategoryProfessional, CategoryStudent, CategoryPatient:
		return Category(s), nil
	}
	return "", fmt.Errorf("unknown thread category: %q", s)
}

// Presence is the counterparty's last reported availability.
type Presence string

const (
	PresenceOnline  Presence = "online"
	PresenceBusy    Presence = "busy"
	PresenceOffline Presence = "offline"
)

func ParsePresence(s string) (Presence, error) {
	switch Presence(s) {
	case PresenceOnline, PresenceBusy, PresenceOffline:
		return Presence(s), nil
	}
	return "", fmt.Errorf("unknown presence: %q", s)
}

type Thread struct {
	ID                  string   `json:"id"`
	DisplayName         string   `json:"display_name,omitempty"`
	CounterpartyName    string   `json:"counterparty_name,omitempty"`
	CounterpartyContact string   `json:"counterparty_contact,omitempty"`
	Category            Category `json:"category,omitempty"`
	Presence            Presence `json:"presence,omitempty"`
	// LastSeenAt is UTC nanoseconds of the last presence update.
	LastSeenAt int64 `json:"last_seen_at,omitempty"`
	// CreatedAt timestamp (ns)
	CreatedAt int64 `json:"created_at,omitempty"`
}
