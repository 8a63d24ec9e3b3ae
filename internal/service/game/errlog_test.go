package game

import (
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestErrorLogKeepsLastFive(t *testing.T) {
	var log ErrorLog
	for i := 0; i < 7; i++ {
		log.Add(ErrorRecord{Kind: SourceUnknown, Message: strconv.Itoa(i)})
	}
	if log.Len() != errorLogSize {
		t.Fatalf("len = %d, want %d", log.Len(), errorLogSize)
	}
	var got []string
	for _, rec := range log.Records() {
		got = append(got, rec.Message)
	}
	if diff := cmp.Diff([]string{"2", "3", "4", "5", "6"}, got); diff != "" {
		t.Fatalf("records mismatch (-want +got):\n%s", diff)
	}

	log.Clear()
	if log.Len() != 0 || len(log.Records()) != 0 {
		t.Fatalf("log not cleared")
	}
}

func TestErrorLogInsertionOrderBelowCapacity(t *testing.T) {
	var log ErrorLog
	log.Add(ErrorRecord{Message: "a"})
	log.Add(ErrorRecord{Message: "b"})
	recs := log.Records()
	if len(recs) != 2 || recs[0].Message != "a" || recs[1].Message != "b" {
		t.Fatalf("records = %+v", recs)
	}
}

func TestKindSources(t *testing.T) {
	cases := map[Kind]Source{
		KindRulesViolation:               SourceRulesOracle,
		KindHistoryReconstructionFailure: SourceRulesOracle,
		KindEngineCommunicationFailure:   SourceAnalysisEngine,
		KindPersistenceFailure:           SourcePersistence,
		KindUnknown:                      SourceUnknown,
	}
	for kind, want := range cases {
		if got := kind.Source(); got != want {
			t.Fatalf("%s.Source() = %s, want %s", kind, got, want)
		}
	}
}
