package game

import "time"

// Source is the error-log category of a record.
type Source string

const (
	SourceRulesOracle    Source = "rulesOracle"
	SourceAnalysisEngine Source = "analysisEngine"
	SourcePersistence    Source = "persistence"
	SourceUnknown        Source = "unknown"
)

const errorLogSize = 5

type ErrorRecord struct {
	Kind      Source    `json:"kind"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorLog keeps the most recent records, evicting the oldest.
type ErrorLog struct {
	buf   [errorLogSize]ErrorRecord
	start int
	n     int
}

func (l *ErrorLog) Add(rec ErrorRecord) {
	if l.n < errorLogSize {
		l.buf[(l.start+l.n)%errorLogSize] = rec
		l.n++
		return
	}
	l.buf[l.start] = rec
	l.start = (l.start + 1) % errorLogSize
}

// Records returns the records oldest first.
func (l *ErrorLog) Records() []ErrorRecord {
	out := make([]ErrorRecord, 0, l.n)
	for i := 0; i < l.n; i++ {
		out = append(out, l.buf[(l.start+i)%errorLogSize])
	}
	return out
}

func (l *ErrorLog) Len() int { return l.n }

func (l *ErrorLog) Clear() { *l = ErrorLog{} }
