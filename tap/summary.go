package tap

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Summary totals one or more TAP streams.
type Summary struct {
	Planned int   `json:"planned"`
	Passed  int   `json:"passed"`
	Failed  int   `json:"failed"`
	Plans   int   `json:"plans"`
	Failing []int `json:"failing,omitempty"`
}

// Run returns the number of cases with a result line.
func (s Summary) Run() int { return s.Passed + s.Failed }

// Missing returns how many planned cases never reported.
func (s Summary) Missing() int {
	if m := s.Planned - s.Run(); m > 0 {
		return m
	}
	return 0
}

// Percent is the pass rate of the cases that ran.
func (s Summary) Percent() float64 {
	if s.Run() == 0 {
		return 0
	}
	return float64(s.Passed) / float64(s.Run()) * 100
}

func (s Summary) String() string {
	return fmt.Sprintf("Passed %d/%d tests, %.2f%% okay", s.Passed, s.Run(), s.Percent())
}

// Add accumulates another summary.
func (s *Summary) Add(o Summary) {
	s.Planned += o.Planned
	s.Passed += o.Passed
	s.Failed += o.Failed
	s.Plans += o.Plans
	s.Failing = append(s.Failing, o.Failing...)
}

// Summarize reads TAP text and counts plans and results. Streams of several
// runs may be concatenated; lines that are not TAP are ignored.
func Summarize(r io.Reader) (Summary, error) {
	var s Summary
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		switch {
		case strings.HasPrefix(line, "1.."):
			if n, err := strconv.Atoi(line[3:]); err == nil {
				s.Planned += n
				s.Plans++
			}
		case strings.HasPrefix(line, "not ok"):
			s.Failed++
			if n, ok := testNumber(line[len("not ok"):]); ok {
				s.Failing = append(s.Failing, n)
			}
		case strings.HasPrefix(line, "ok"):
			s.Passed++
		}
	}
	if err := sc.Err(); err != nil {
		return s, fmt.Errorf("failed to read TAP stream: %w", err)
	}
	return s, nil
}

func testNumber(rest string) (int, bool) {
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(fields[0])
	return n, err == nil
}
