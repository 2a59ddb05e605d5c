package plan

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ID identifies a subscription tier
type ID string

const (
	Free    ID = "free"
	Plus    ID = "plus"
	Premium ID = "premium"

	// Default is the plan used when nothing (or something unknown) is stored
	Default = Free
)

// ErrInvalidPlan is returned for plan ids outside the registry
var ErrInvalidPlan = errors.New("invalid plan")

// Entitlements holds the features a plan unlocks
type Entitlements struct {
	Plan          ID
	Name          string
	DurationLimit time.Duration // Call-duration ceiling
	HasLogAccess  bool
	HasWebSearch  bool
	Model         string // Chat-completions model id
}

var registry = map[ID]Entitlements{
	Free: {
		Plan:          Free,
		Name:          "Free",
		DurationLimit: 60 * time.Second,
		Model:         "gpt-4o-mini",
	},
	Plus: {
		Plan:          Plus,
		Name:          "Plus",
		DurationLimit: 180 * time.Second,
		HasLogAccess:  true,
		Model:         "gpt-4o-mini",
	},
	Premium: {
		Plan:          Premium,
		Name:          "Premium",
		DurationLimit: 300 * time.Second,
		HasLogAccess:  true,
		HasWebSearch:  true,
		Model:         "gpt-4o",
	},
}

// EntitlementsFor looks up the entitlements of a plan
func EntitlementsFor(id ID) (Entitlements, error) {
	ent, ok := registry[id]
	if !ok {
		return Entitlements{}, fmt.Errorf("%w: %q", ErrInvalidPlan, string(id))
	}
	return ent, nil
}

// Resolve returns the entitlements for id, falling back to the default plan
func Resolve(id ID) Entitlements {
	ent, err := EntitlementsFor(id)
	if err != nil {
		return registry[Default]
	}
	return ent
}

// Parse converts user input into a plan id
func Parse(s string) (ID, error) {
	id := ID(strings.ToLower(strings.TrimSpace(s)))
	if _, err := EntitlementsFor(id); err != nil {
		return "", err
	}
	return id, nil
}

// All returns every plan, cheapest first
func All() []Entitlements {
	return []Entitlements{registry[Free], registry[Plus], registry[Premium]}
}

// DurationLimitSeconds is the ceiling in whole seconds
func (e Entitlements) DurationLimitSeconds() int {
	return int(e.DurationLimit / time.Second)
}
