package view

import (
	"fmt"
	"testing"

	"telar/api/internal/record"
)

func TestAggregateTotalsAndDimensions(t *testing.T) {
	s := Aggregate(sampleRecords(), nil, 0)

	if s.TotalRecords != 4 || s.TotalMeters != 650 || s.TotalChanges != 8 {
		t.Errorf("unexpected totals: %+v", s)
	}

	if len(s.ByMachine) != 3 {
		t.Fatalf("expected 3 machine buckets, got %v", s.ByMachine)
	}
	// Dimension buckets sort by label.
	if s.ByMachine[0].Label != "SL1" || s.ByMachine[1].Label != "WH1" || s.ByMachine[2].Label != "WH2" {
		t.Errorf("machine buckets out of order: %v", s.ByMachine)
	}
	for _, b := range s.ByMachine {
		if b.Label == "WH1" && (b.Meters != 400 || b.Count != 2) {
			t.Errorf("unexpected WH1 bucket: %+v", b)
		}
	}

	if len(s.ByDay) != 4 || s.ByDay[0].Label != "2024-01-05" {
		t.Errorf("unexpected day buckets: %v", s.ByDay)
	}
}

func TestAggregateOperatorsRankedByMeters(t *testing.T) {
	s := Aggregate(sampleRecords(), nil, 0)

	if len(s.ByOperator) != 3 {
		t.Fatalf("expected 3 operator buckets, got %v", s.ByOperator)
	}
	if s.ByOperator[0].Label != "Marta" || s.ByOperator[0].Meters != 400 {
		t.Errorf("expected Marta first with 400 meters, got %+v", s.ByOperator[0])
	}
	if s.ByOperator[1].Label != "Lucía" || s.ByOperator[2].Label != "Pedro" {
		t.Errorf("unexpected operator ranking: %v", s.ByOperator)
	}
}

func TestAggregateCommentsCanonicalizeIntoOneBucket(t *testing.T) {
	records := []record.Record{
		{ID: "r1", Date: "2024-01-01", Machine: "WH1", ChangesComment: "Montado", Changes: 2},
		{ID: "r2", Date: "2024-01-01", Machine: "WH1", ChangesComment: "montado", Changes: 3},
		{ID: "r3", Date: "2024-01-01", Machine: "WH1", ChangesComment: "Montádo", Changes: 1},
		{ID: "r4", Date: "2024-01-01", Machine: "WH1", ChangesComment: "Rotura", Changes: 1},
	}
	comments := []string{"Montado", "Rotura"}

	s := Aggregate(records, comments, 0)
	if len(s.ByComment) != 2 {
		t.Fatalf("expected 2 comment buckets, got %v", s.ByComment)
	}
	if s.ByComment[0].Label != "Montado" || s.ByComment[0].Changes != 6 || s.ByComment[0].Count != 3 {
		t.Errorf("variants did not fold into the canonical bucket: %+v", s.ByComment[0])
	}
}

func TestAggregateCommentsRankedByChanges(t *testing.T) {
	records := []record.Record{
		{ID: "r1", Date: "2024-01-01", Machine: "WH1", ChangesComment: "Bio", Changes: 1},
		{ID: "r2", Date: "2024-01-01", Machine: "WH1", ChangesComment: "Rotura", Changes: 5},
	}
	s := Aggregate(records, nil, 0)
	if s.ByComment[0].Label != "Rotura" || s.ByComment[1].Label != "Bio" {
		t.Errorf("unexpected comment ranking: %v", s.ByComment)
	}
}

func TestAggregateTruncatesToTopN(t *testing.T) {
	var records []record.Record
	for i := 0; i < 15; i++ {
		records = append(records, record.Record{
			ID:       fmt.Sprintf("r%02d", i),
			Date:     "2024-01-01",
			Machine:  "WH1",
			Operator: fmt.Sprintf("op%02d", i),
			Meters:   i * 10,
		})
	}

	s := Aggregate(records, nil, 0)
	if len(s.ByOperator) != TopN {
		t.Fatalf("expected %d operator buckets, got %d", TopN, len(s.ByOperator))
	}
	if s.ByOperator[0].Label != "op14" {
		t.Errorf("expected highest-meter operator first, got %+v", s.ByOperator[0])
	}

	small := Aggregate(records, nil, 3)
	if len(small.ByOperator) != 3 {
		t.Errorf("expected 3 buckets with explicit topN, got %d", len(small.ByOperator))
	}
}

func TestAggregateEmptyInput(t *testing.T) {
	s := Aggregate(nil, nil, 0)

	if s.TotalRecords != 0 || s.TotalMeters != 0 {
		t.Errorf("unexpected totals for empty input: %+v", s)
	}
	// Groups must be empty slices, not nil, so JSON encodes [] not null.
	if s.ByMachine == nil || s.ByOperator == nil || s.ByComment == nil {
		t.Error("empty summary groups must be non-nil")
	}
}

func TestAggregateSkipsBlankFreeText(t *testing.T) {
	records := []record.Record{
		{ID: "r1", Date: "2024-01-01", Machine: "WH1", Meters: 100},
	}
	s := Aggregate(records, nil, 0)
	if len(s.ByOperator) != 0 || len(s.ByComment) != 0 {
		t.Errorf("blank operator/comment must not bucket: %v / %v", s.ByOperator, s.ByComment)
	}
}
