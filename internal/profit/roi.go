package profit

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"tradePilot/internal/money"
)

// ROITable maps minutes-open thresholds to the minimum profit ratio required to exit.
type ROITable map[int]money.Decimal

// MinROI returns the entry with the largest threshold not above minutesOpen.
// ok is false when every threshold is above minutesOpen.
func (t ROITable) MinROI(minutesOpen int) (threshold int, ratio money.Decimal, ok bool) {
	threshold = -1
	for minutes, r := range t {
		if minutes <= minutesOpen && minutes > threshold {
			threshold, ratio = minutes, r
		}
	}
	if threshold < 0 {
		return 0, money.Zero, false
	}
	return threshold, ratio, true
}

// Reached reports whether profitRatio satisfies the requirement at minutesOpen.
func (t ROITable) Reached(profitRatio money.Decimal, minutesOpen int) bool {
	_, required, ok := t.MinROI(minutesOpen)
	if !ok {
		return false
	}
	return profitRatio.GreaterThanOrEqual(required)
}

// Thresholds returns the table's minute thresholds in ascending order.
func (t ROITable) Thresholds() []int {
	keys := make([]int, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// ParseROITable reads "minutes:ratio" pairs separated by commas, e.g. "0:0.04,30:0.02".
func ParseROITable(s string) (ROITable, error) {
	table := ROITable{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, ":", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid ROI entry %q: expected minutes:ratio", part)
		}
		minutes, err := strconv.Atoi(strings.TrimSpace(kv[0]))
		if err != nil || minutes < 0 {
			return nil, fmt.Errorf("invalid ROI minutes %q", kv[0])
		}
		ratio, err := money.Parse(strings.TrimSpace(kv[1]))
		if err != nil {
			return nil, fmt.Errorf("invalid ROI ratio %q: %w", kv[1], err)
		}
		table[minutes] = ratio
	}
	return table, nil
}
