// Package scheduling implements the fairness rules of the queue core as
// pure functions shared by the dispatch path and the position estimator.
package scheduling

import (
	"math"
	"sort"
)

// RegularsPerCycle is the number of regular clients served between two
// priority dispatches.
const RegularsPerCycle = 2

// Class weights used by the heuristic estimator.
const (
	regularDiscountForPriority  = 0.6
	priorityInflationForRegular = 1.25
)

// Entrant is a waiting ticket as seen by the fairness rule: identity and
// class, in creation order.
type Entrant struct {
	ID       string
	Priority bool
}

// PickNext applies the 2-regular:1-priority rule to the two class queues
// and returns the id to dispatch plus the advanced cycle count. Both
// slices must be oldest-first. ok is false when both queues are empty.
func PickNext(priority, regular []string, cycle int) (id string, next int, ok bool) {
	if len(priority) > 0 && cycle >= RegularsPerCycle {
		return priority[0], 0, true
	}
	if len(regular) > 0 {
		next = cycle + 1
		if next > RegularsPerCycle {
			next = RegularsPerCycle
		}
		return regular[0], next, true
	}
	if len(priority) > 0 {
		return priority[0], 0, true
	}
	return "", cycle, false
}

// SimulateOrder replays PickNext over the whole waiting set and returns
// the exact order in which tickets would be dispatched, starting from the
// given cycle count. Entrants must be in creation order.
func SimulateOrder(entrants []Entrant, cycle int) []string {
	var priority, regular []string
	for _, e := range entrants {
		if e.Priority {
			priority = append(priority, e.ID)
		} else {
			regular = append(regular, e.ID)
		}
	}

	order := make([]string, 0, len(entrants))
	for len(priority) > 0 || len(regular) > 0 {
		id, next, ok := PickNext(priority, regular, cycle)
		if !ok {
			break
		}
		if len(priority) > 0 && priority[0] == id {
			priority = priority[1:]
		} else {
			regular = regular[1:]
		}
		cycle = next
		order = append(order, id)
	}
	return order
}

// Position returns the 1-based index of targetID in the simulated
// dispatch order, or 0 when the target is not in the waiting set.
func Position(entrants []Entrant, targetID string, cycle int) int {
	for i, id := range SimulateOrder(entrants, cycle) {
		if id == targetID {
			return i + 1
		}
	}
	return 0
}

// RotateAfter orders candidate window ids ascending, then rotates the
// sequence so that it starts just past lastAssigned. When lastAssigned is
// empty or not a candidate the plain ascending order is returned.
func RotateAfter(ids []string, lastAssigned string) []string {
	ordered := make([]string, len(ids))
	copy(ordered, ids)
	sort.Strings(ordered)

	if lastAssigned == "" {
		return ordered
	}
	last := -1
	for i, id := range ordered {
		if id == lastAssigned {
			last = i
			break
		}
	}
	if last < 0 {
		return ordered
	}
	return append(append([]string{}, ordered[last+1:]...), ordered[:last+1]...)
}

// SlotsAhead converts raw ahead-counts into effective service slots for
// the heuristic estimator.
func SlotsAhead(priority bool, regularAhead, priorityAhead, calledAhead int) float64 {
	var effective float64
	if priority {
		effective = float64(regularAhead)*regularDiscountForPriority + float64(priorityAhead)
	} else {
		effective = float64(regularAhead) + float64(priorityAhead)*priorityInflationForRegular
	}
	slots := effective + float64(calledAhead)
	if slots < 0 {
		return 0
	}
	return slots
}

// EtaMinutes spreads the slots ahead over the staffed windows and rounds
// up to whole minutes.
func EtaMinutes(slots float64, avgServiceSeconds, activeWindows int) int {
	if activeWindows < 1 {
		activeWindows = 1
	}
	seconds := slots * float64(avgServiceSeconds) / float64(activeWindows)
	return int(math.Ceil(seconds / 60))
}
