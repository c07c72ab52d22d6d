package feed

import "fmt"

// FeedFormatError is returned when a feed document does not have the expected
// top-level vulnerability list. The feed is skipped; other feeds still load.
type FeedFormatError struct {
	Source string
	Err    error
}

func (e *FeedFormatError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("feed %s has unexpected structure", e.Source)
	}
	return fmt.Sprintf("feed %s has unexpected structure: %v", e.Source, e.Err)
}

func (e *FeedFormatError) Unwrap() error { return e.Err }

// RecordParseError describes a single malformed entry within an otherwise valid feed.
type RecordParseError struct {
	Source string
	Index  int
	Err    error
}

func (e *RecordParseError) Error() string {
	return fmt.Sprintf("feed %s: record %d: %v", e.Source, e.Index, e.Err)
}

func (e *RecordParseError) Unwrap() error { return e.Err }
