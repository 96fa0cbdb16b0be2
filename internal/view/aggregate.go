package view

import (
	"sort"

	"telar/api/internal/record"
	"telar/api/internal/vocab"
)

// Bucket is one aggregation group.
type Bucket struct {
	Label   string `json:"label"`
	Meters  int    `json:"meters"`
	Changes int    `json:"changes"`
	Count   int    `json:"count"`
}

// Summary holds every grouped aggregate the dashboard consumes. Dimension
// groups (machine, shift, boss, day) are sorted by label; the free-text
// groups (operator, comment) are ranked and truncated to a top-N.
type Summary struct {
	TotalRecords int      `json:"totalRecords"`
	TotalMeters  int      `json:"totalMeters"`
	TotalChanges int      `json:"totalChanges"`
	ByMachine    []Bucket `json:"byMachine"`
	ByShift      []Bucket `json:"byShift"`
	ByBoss       []Bucket `json:"byBoss"`
	ByDay        []Bucket `json:"byDay"`
	ByOperator   []Bucket `json:"byOperator"`
	ByComment    []Bucket `json:"byComment"`
}

// TopN is how many operator and comment buckets the dashboard shows.
const TopN = 10

// Aggregate computes the summary for a record set. comments is the merged
// comment vocabulary: raw comment values fold into the vocabulary's exact
// spelling when their normalized forms match, so "Montado", "montado" and
// "Montádo" land in one bucket. Operators group by their raw value. A
// zero-length input yields an empty summary, never an error.
func Aggregate(records []record.Record, comments []string, topN int) Summary {
	if topN <= 0 {
		topN = TopN
	}

	summary := Summary{
		ByMachine:  []Bucket{},
		ByShift:    []Bucket{},
		ByBoss:     []Bucket{},
		ByDay:      []Bucket{},
		ByOperator: []Bucket{},
		ByComment:  []Bucket{},
	}

	machines := map[string]*Bucket{}
	shifts := map[string]*Bucket{}
	bosses := map[string]*Bucket{}
	days := map[string]*Bucket{}
	operators := map[string]*Bucket{}
	commentBuckets := map[string]*Bucket{}

	for _, r := range records {
		summary.TotalRecords++
		summary.TotalMeters += r.Meters
		summary.TotalChanges += r.Changes

		add(machines, r.Machine, r)
		add(shifts, string(r.Shift), r)
		add(bosses, r.Boss, r)
		add(days, r.Date, r)
		if r.Operator != "" {
			add(operators, r.Operator, r)
		}
		if r.ChangesComment != "" {
			label := vocab.CanonicalLabel(r.ChangesComment, comments)
			add(commentBuckets, label, r)
		}
	}

	summary.ByMachine = byLabel(machines)
	summary.ByShift = byLabel(shifts)
	summary.ByBoss = byLabel(bosses)
	summary.ByDay = byLabel(days)
	summary.ByOperator = ranked(operators, byMeters, topN)
	summary.ByComment = ranked(commentBuckets, byChanges, topN)
	return summary
}

func add(buckets map[string]*Bucket, label string, r record.Record) {
	if label == "" {
		return
	}
	b := buckets[label]
	if b == nil {
		b = &Bucket{Label: label}
		buckets[label] = b
	}
	b.Meters += r.Meters
	b.Changes += r.Changes
	b.Count++
}

func byLabel(buckets map[string]*Bucket) []Bucket {
	out := collect(buckets)
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

type rankFunc func(a, b Bucket) bool

func byMeters(a, b Bucket) bool {
	if a.Meters != b.Meters {
		return a.Meters > b.Meters
	}
	return a.Label < b.Label
}

func byChanges(a, b Bucket) bool {
	if a.Changes != b.Changes {
		return a.Changes > b.Changes
	}
	return a.Label < b.Label
}

func ranked(buckets map[string]*Bucket, rank rankFunc, topN int) []Bucket {
	out := collect(buckets)
	sort.Slice(out, func(i, j int) bool { return rank(out[i], out[j]) })
	if len(out) > topN {
		out = out[:topN]
	}
	return out
}

func collect(buckets map[string]*Bucket) []Bucket {
	out := make([]Bucket, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, *b)
	}
	return out
}
