// Package tap emits test results as a TAP stream and, optionally, a JUnit
// XML report.
package tap

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/rs/zerolog"
)

// Result records the outcome of the test cases of one suite run against one
// target. Every line written to the output is also copied to the sink.
type Result struct {
	logger  zerolog.Logger
	out     io.Writer
	sink    io.Writer
	clk     clock.Clock
	xmlPath string
	suite   string

	mu        sync.Mutex
	numCases  int
	testsRun  int
	failures  []int
	start     time.Time
	caseStart time.Time
	xml       *junitSuite
}

// Option configures a Result.
type Option func(*Result)

// WithOutput sets where the TAP stream is written. The default is stdout.
func WithOutput(w io.Writer) Option {
	return func(r *Result) { r.out = w }
}

// WithSink copies every TAP line to w. Write errors on the sink are logged
// and otherwise ignored.
func WithSink(w io.Writer) Option {
	return func(r *Result) { r.sink = w }
}

// WithClock replaces the clock used to time cases.
func WithClock(clk clock.Clock) Option {
	return func(r *Result) { r.clk = clk }
}

// WithXML writes a JUnit report to path when the run is reported.
func WithXML(path string) Option {
	return func(r *Result) { r.xmlPath = path }
}

// WithLogger sets the logger for sink and report failures.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Result) { r.logger = logger }
}

// New starts a result for numCases cases of the named suite and writes the
// plan line.
func New(suite string, numCases int, opts ...Option) *Result {
	r := &Result{
		logger:   zerolog.Nop(),
		out:      os.Stdout,
		clk:      clock.NewClock(),
		suite:    suite,
		numCases: numCases,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.start = r.clk.Now()
	r.caseStart = r.start
	if r.xmlPath != "" {
		r.xml = &junitSuite{}
	}
	r.output(fmt.Sprintf("1..%d\n", numCases))
	return r
}

func (r *Result) output(text string) {
	if _, err := io.WriteString(r.out, text); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to write TAP output")
	}
	if r.sink != nil {
		if _, err := io.WriteString(r.sink, text); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to send TAP output to result server")
		}
	}
}

// StartTest numbers the next case and returns its number.
func (r *Result) StartTest() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.testsRun++
	return r.testsRun
}

// AddSuccess records that the current case passed.
func (r *Result) AddSuccess(class, description string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.output(fmt.Sprintf("ok %d - %s : %s\n", r.testsRun, class, description))
	if r.xml != nil {
		r.addCase(class)
	}
}

// AddFailure records that the current case failed. The traceback is written
// as diagnostic lines ahead of the "not ok" line; its last line is the
// failure message.
func (r *Result) AddFailure(class, description, traceback string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, r.testsRun)
	lines := strings.Split(strings.TrimRight(traceback, "\n"), "\n")
	for _, line := range lines {
		r.output("# " + line + "\n")
	}
	r.output(fmt.Sprintf("not ok %d - %s : %s\n", r.testsRun, class, description))
	if r.xml != nil {
		c := r.addCase(class)
		c.Error = &junitError{
			Message: strings.TrimSpace(lines[len(lines)-1]),
			Text:    traceback,
		}
	}
}

func (r *Result) addCase(class string) *junitCase {
	now := r.clk.Now()
	elapsed := now.Sub(r.caseStart)
	r.caseStart = now
	r.xml.Cases = append(r.xml.Cases, junitCase{
		ClassName: r.suite,
		Name:      class,
		Time:      seconds(elapsed),
	})
	return &r.xml.Cases[len(r.xml.Cases)-1]
}

// Diagnostic writes text as TAP comment lines.
func (r *Result) Diagnostic(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.diagnostic(text)
}

func (r *Result) diagnostic(text string) {
	for _, line := range strings.Split(text, "\n") {
		r.output("# " + line + "\n")
	}
}

// TestsRun returns the number of cases started so far.
func (r *Result) TestsRun() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.testsRun
}

// Failures returns the numbers of the failed cases.
func (r *Result) Failures() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.failures...)
}

// Report writes the summary diagnostics and, when configured, the JUnit
// report. Only a failure to write the XML file is returned.
func (r *Result) Report() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	elapsed := r.clk.Now().Sub(r.start)
	if len(r.failures) > 0 {
		nums := make([]string, len(r.failures))
		for i, n := range r.failures {
			nums[i] = strconv.Itoa(n)
		}
		plural := ""
		if len(r.failures) > 1 {
			plural = "s"
		}
		r.diagnostic(fmt.Sprintf("FAILED test%s %s", plural, strings.Join(nums, ",")))
	}
	passed := r.testsRun - len(r.failures)
	percent := 0.0
	if r.testsRun > 0 {
		percent = float64(passed) / float64(r.testsRun) * 100
	}
	r.diagnostic(fmt.Sprintf("Passed %d/%d tests, %.2f%% okay, in %.2fs", passed, r.testsRun, percent, elapsed.Seconds()))

	if r.xml == nil {
		return nil
	}
	r.xml.Failures = len(r.failures)
	r.xml.Tests = r.testsRun
	r.xml.Time = seconds(elapsed)
	r.xml.Timestamp = r.start.Format(time.RFC3339)
	if err := r.xml.writeFile(r.xmlPath); err != nil {
		r.logger.Warn().Err(err).Str("file", r.xmlPath).Msg("Failed to write JUnit report")
		return err
	}
	return nil
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}
