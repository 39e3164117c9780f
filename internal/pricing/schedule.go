package pricing

import "strings"

// Step is one tier of a discount schedule: from DayOffset days after listing
// creation the price is Percent of list price.
type Step struct {
	DayOffset int
	Percent   int64
}

// Schedule is a named, time-indexed price decay table. Offsets strictly
// increase, percents never increase and the last step is 0, which marks the
// schedule as fully decayed (reserve-only).
type Schedule struct {
	Name      string
	Steps     []Step
	TotalDays int
}

const (
	ScheduleTurbo30   = "Turbo-30"
	ScheduleClassic60 = "Classic-60"
)

var schedules = map[string]Schedule{
	strings.ToLower(ScheduleTurbo30): {
		Name:      ScheduleTurbo30,
		TotalDays: 30,
		Steps: []Step{
			{DayOffset: 0, Percent: 100},
			{DayOffset: 7, Percent: 85},
			{DayOffset: 14, Percent: 70},
			{DayOffset: 21, Percent: 55},
			{DayOffset: 28, Percent: 40},
			{DayOffset: 30, Percent: 0},
		},
	},
	strings.ToLower(ScheduleClassic60): {
		Name:      ScheduleClassic60,
		TotalDays: 60,
		Steps: []Step{
			{DayOffset: 0, Percent: 100},
			{DayOffset: 14, Percent: 90},
			{DayOffset: 28, Percent: 80},
			{DayOffset: 42, Percent: 70},
			{DayOffset: 56, Percent: 60},
			{DayOffset: 60, Percent: 0},
		},
	},
}

// LookupSchedule resolves a schedule by name, case-insensitively. Unknown and
// empty names report false.
func LookupSchedule(name string) (Schedule, bool) {
	s, ok := schedules[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Schedule{}, false
	}
	steps := make([]Step, len(s.Steps))
	copy(steps, s.Steps)
	s.Steps = steps
	return s, true
}

// ScheduleNames lists the registered schedules in a stable order.
func ScheduleNames() []string {
	return []string{ScheduleTurbo30, ScheduleClassic60}
}

// percentAt returns the percent of the last step whose offset is <= days.
// Negative days keep the full price.
func (s Schedule) percentAt(days int) int64 {
	percent := int64(100)
	for _, step := range s.Steps {
		if step.DayOffset > days {
			break
		}
		percent = step.Percent
	}
	return percent
}

// nextStep returns the first step strictly after days.
func (s Schedule) nextStep(days int) (Step, bool) {
	for _, step := range s.Steps {
		if step.DayOffset > days {
			return step, true
		}
	}
	return Step{}, false
}
