package stats

import (
	"encoding/json"
	"sort"
	"time"
)

// malformedGroupID is the grouping id assigned to records without a usable
// creation date. Groups with this id never reach either series.
const malformedGroupID = "1"

// Point is one sample of a daily series: the day's local midnight in epoch
// milliseconds and a value. It encodes as a two element JSON array.
type Point struct {
	DayEpochMS int64
	Value      int64
}

// MarshalJSON encodes the point as [dayEpochMs, value].
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int64{p.DayEpochMS, p.Value})
}

// UnmarshalJSON decodes [dayEpochMs, value].
func (p *Point) UnmarshalJSON(data []byte) error {
	var pair [2]int64
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	p.DayEpochMS = pair[0]
	p.Value = pair[1]
	return nil
}

// DailySeries holds the per-day total and distinct-user counts, ascending by day.
type DailySeries struct {
	Counts  []Point
	Uniques []Point
}

// Sample is the projection of a track record the aggregation reads.
type Sample struct {
	CreatedDate *time.Time
	UserHash    string
}

type calendarDay struct {
	year  int
	month time.Month
	day   int
}

type dayUserGroup struct {
	id    string
	day   calendarDay
	count int64
}

type dayTotals struct {
	day           calendarDay
	count         int64
	distinctCount int64
}

// reducer performs the two-stage grouping. The first stage counts records per
// (day, user); the second folds those groups per day, summing their counts for
// the total and counting the groups themselves for the distinct users.
type reducer struct {
	location *time.Location
	groups   map[string]*dayUserGroup
}

func newReducer(location *time.Location) *reducer {
	if location == nil {
		location = time.UTC
	}
	return &reducer{location: location, groups: make(map[string]*dayUserGroup)}
}

func (r *reducer) add(sample Sample) {
	id, day := r.groupID(sample)
	group, ok := r.groups[id]
	if !ok {
		group = &dayUserGroup{id: id, day: day}
		r.groups[id] = group
	}
	group.count++
}

func (r *reducer) groupID(sample Sample) (string, calendarDay) {
	if sample.CreatedDate == nil || sample.CreatedDate.IsZero() {
		return malformedGroupID, calendarDay{}
	}
	local := sample.CreatedDate.In(r.location)
	day := calendarDay{year: local.Year(), month: local.Month(), day: local.Day()}
	return local.Format(time.DateOnly) + "\x00" + sample.UserHash, day
}

func (r *reducer) series() DailySeries {
	perDay := make(map[calendarDay]*dayTotals)
	for _, group := range r.groups {
		if group.id == malformedGroupID {
			continue
		}
		totals, ok := perDay[group.day]
		if !ok {
			totals = &dayTotals{day: group.day}
			perDay[group.day] = totals
		}
		totals.count += group.count
		totals.distinctCount++
	}

	days := make([]*dayTotals, 0, len(perDay))
	for _, totals := range perDay {
		days = append(days, totals)
	}
	sort.Slice(days, func(i, j int) bool {
		return days[i].day.before(days[j].day)
	})

	result := DailySeries{
		Counts:  make([]Point, 0, len(days)),
		Uniques: make([]Point, 0, len(days)),
	}
	for _, totals := range days {
		midnight := time.Date(totals.day.year, totals.day.month, totals.day.day, 0, 0, 0, 0, r.location).UnixMilli()
		result.Counts = append(result.Counts, Point{DayEpochMS: midnight, Value: totals.count})
		result.Uniques = append(result.Uniques, Point{DayEpochMS: midnight, Value: totals.distinctCount})
	}
	return result
}

func (d calendarDay) before(other calendarDay) bool {
	if d.year != other.year {
		return d.year < other.year
	}
	if d.month != other.month {
		return d.month < other.month
	}
	return d.day < other.day
}

// Reduce computes the daily series for samples, bucketing days in location.
func Reduce(samples []Sample, location *time.Location) DailySeries {
	r := newReducer(location)
	for _, sample := range samples {
		r.add(sample)
	}
	return r.series()
}
