// package quota tracks the daily allowance of paid generation and image calls.
// counts live in a shared key-value record that several independent writers may
// touch; every mutation re-reads that record instead of trusting a cached counter.
package quota

import "fmt"

// identifies a resource class with its own daily allowance
type Kind string

const (
	KindGenerations Kind = "generations"
	KindImages      Kind = "images"
)

// calendar-day layout used in persisted records
const dateLayout = "2006-01-02"

func (k Kind) Valid() bool {
	return k == KindGenerations || k == KindImages
}

// the persisted daily usage record
type UsageState struct {
	Date        string `json:"date"`
	Generations int    `json:"generations"`
	Images      int    `json:"images"`
}

// returns the counter for kind
func (u UsageState) Count(kind Kind) int {
	switch kind {
	case KindGenerations:
		return u.Generations
	case KindImages:
		return u.Images
	default:
		return 0
	}
}

// returns a copy with the counter for kind replaced
func (u UsageState) with(kind Kind, n int) UsageState {
	switch kind {
	case KindGenerations:
		u.Generations = n
	case KindImages:
		u.Images = n
	}

	return u
}

// configured daily maximums
type Limits struct {
	Generations int `json:"generations"`
	Images      int `json:"images"`
}

// returns the limit for kind
func (l Limits) For(kind Kind) int {
	switch kind {
	case KindGenerations:
		return l.Generations
	case KindImages:
		return l.Images
	default:
		return 0
	}
}

func (l Limits) Validate() error {
	if l.Generations < 0 || l.Images < 0 {
		return fmt.Errorf("quota limits must be non-negative, got %+v", l)
	}

	return nil
}

// returns the stock daily allowance
func DefaultLimits() Limits {
	return Limits{Generations: 5, Images: 20}
}
