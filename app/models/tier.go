package models

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownTier = errors.New("unknown tier")

// Tier is a subscription level. Only the values below are valid.
type Tier string

const (
	TierApprentice Tier = "APPRENTICE"
	TierJourneyman Tier = "JOURNEYMAN"
	TierMaster     Tier = "MASTER"
	TierHero       Tier = "HERO"
)

// ParseTier rejects anything that is not one of the defined tiers.
func ParseTier(s string) (Tier, error) {
	switch t := Tier(strings.ToUpper(strings.TrimSpace(s))); t {
	case TierApprentice, TierJourneyman, TierMaster, TierHero:
		return t, nil
	}
	return "", fmt.Errorf("ParseTier: %q: %w", s, ErrUnknownTier)
}

func (t *Tier) UnmarshalText(text []byte) error {
	parsed, err := ParseTier(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

type SubscriptionStatus string

const (
	SubscriptionStatusNone       SubscriptionStatus = "NONE"
	SubscriptionStatusActive     SubscriptionStatus = "ACTIVE"
	SubscriptionStatusPastDue    SubscriptionStatus = "PAST_DUE"
	SubscriptionStatusCanceled   SubscriptionStatus = "CANCELED"
	SubscriptionStatusTrialing   SubscriptionStatus = "TRIALING"
	SubscriptionStatusIncomplete SubscriptionStatus = "INCOMPLETE"
)
