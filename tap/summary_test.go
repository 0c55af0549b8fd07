package tap

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarize(t *testing.T) {
	stream := strings.Join([]string{
		"1..3",
		"ok 1 - A : a",
		"# AssertionError: 5 != 6",
		"not ok 2 - B : b",
		"ok 3 - C : c",
		"# Passed 2/3 tests, 66.67% okay, in 0.01s",
		"some stray output",
		"1..2",
		"ok 1 - A : a",
		"not ok 2 - B : b",
	}, "\n")

	s, err := Summarize(strings.NewReader(stream))
	require.NoError(t, err)
	assert.Equal(t, Summary{Planned: 5, Passed: 3, Failed: 2, Plans: 2, Failing: []int{2, 2}}, s)
	assert.Equal(t, 5, s.Run())
	assert.Equal(t, 0, s.Missing())
	assert.Equal(t, "Passed 3/5 tests, 60.00% okay", s.String())
}

func TestSummarize_RoundTrip(t *testing.T) {
	tests := []struct {
		pass, fail int
		percent    string
	}{
		{pass: 2, fail: 1, percent: "66.67%"},
		{pass: 0, fail: 4, percent: "0.00%"},
		{pass: 5, fail: 0, percent: "100.00%"},
		{pass: 1, fail: 2, percent: "33.33%"},
	}
	for _, tt := range tests {
		var out strings.Builder
		r := New("S", tt.pass+tt.fail, WithOutput(&out))
		for i := 0; i < tt.pass+tt.fail; i++ {
			r.StartTest()
			if i < tt.pass {
				r.AddSuccess("C", "d")
			} else {
				r.AddFailure("C", "d", "AssertionError: x")
			}
		}
		require.NoError(t, r.Report())

		s, err := Summarize(strings.NewReader(out.String()))
		require.NoError(t, err)
		assert.Equal(t, tt.pass, s.Passed)
		assert.Equal(t, tt.fail, s.Failed)
		assert.Contains(t, out.String(), tt.percent+" okay")
	}
}

func TestSummary_Missing(t *testing.T) {
	s, err := Summarize(strings.NewReader("1..4\nok 1 - A : a\n"))
	require.NoError(t, err)
	assert.Equal(t, 3, s.Missing())

	var total Summary
	total.Add(s)
	total.Add(Summary{Planned: 1, Failed: 1, Failing: []int{1}})
	assert.Equal(t, Summary{Planned: 5, Passed: 1, Failed: 1, Plans: 1, Failing: []int{1}}, total)
}
