package session

import (
	"sort"
	"time"
)

// Role of a transcript message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message represents a single transcript turn
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Instruction is one scripted directive read aloud during a call
type Instruction struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Content      string `json:"content"`
	Order        int    `json:"order"`
	IsActive     bool   `json:"isActive"`
	UseWebSearch bool   `json:"useWebSearch"`
}

// CallLog is the immutable record of one finished call
type CallLog struct {
	ID           string        `json:"id"`
	Date         time.Time     `json:"date"`
	Duration     int           `json:"duration"` // seconds
	Instructions []Instruction `json:"instructions"`
	Conversation []Message     `json:"conversation"`
}

// ActiveInstructions returns the active instructions sorted by Order.
// Equal orders keep their position in all.
func ActiveInstructions(all []Instruction) []Instruction {
	active := make([]Instruction, 0, len(all))
	for _, inst := range all {
		if inst.IsActive {
			active = append(active, inst)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].Order < active[j].Order
	})
	return active
}

// WantsWebSearch reports whether any of the instructions asks for web search
func WantsWebSearch(instructions []Instruction) bool {
	for _, inst := range instructions {
		if inst.IsActive && inst.UseWebSearch {
			return true
		}
	}
	return false
}
