package models

import (
	"time"
)

// DefaultDailyBudget is the provider's default daily allowance per project, in quota units.
const DefaultDailyBudget = 10000

// Project is an API credential. Projects sharing a QuotaGroup may substitute for each other.
type Project struct {
	Name         string
	ClientID     string
	ClientSecret string
	TokenPath    string
	QuotaGroup   string
	Environment  string
	Priority     int // lower is preferred
	DailyBudget  int // 0 means [DefaultDailyBudget]
}

// Budget returns the project's daily budget, applying the default.
func (p Project) Budget() int {
	if p.DailyBudget <= 0 {
		return DefaultDailyBudget
	}
	return p.DailyBudget
}

// QuotaRecord is the consumption of one project on one provider day.
type QuotaRecord struct {
	Project   string
	Day       string // YYYY-MM-DD in the provider's reset zone
	UnitsUsed int
	UpdatedAt time.Time
}

// ContextSwitch records a credential substitution; ToProject is empty when no sibling had budget.
type ContextSwitch struct {
	ID          int64
	BatchID     string
	FromProject string
	ToProject   string
	QuotaGroup  string
	Reason      string
	CreatedAt   time.Time
}

// Found reports whether a replacement project was selected.
func (s ContextSwitch) Found() bool {
	return s.ToProject != ""
}
