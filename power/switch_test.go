package power

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// panel emulates the control panel of an IP power switch.
type panel struct {
	mu       sync.Mutex
	commands []string
	reply    func(cmd string) string
}

func (p *panel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, pass, ok := r.BasicAuth()
	if !ok || user != DefaultUser || pass != DefaultPassword {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if r.URL.Path != "/Set.cmd" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	cmd := strings.TrimPrefix(r.URL.RawQuery, "CMD=SetPower+")
	p.mu.Lock()
	p.commands = append(p.commands, cmd)
	p.mu.Unlock()

	reply := cmd
	if p.reply != nil {
		reply = p.reply(cmd)
	}
	fmt.Fprintf(w, "<html>%s</html>\n", reply)
}

func (p *panel) seen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.commands...)
}

func TestSwitch_OnOff(t *testing.T) {
	p := &panel{}
	srv := httptest.NewServer(p)
	defer srv.Close()

	s := NewSwitch(zerolog.Nop(), srv.URL, 3)
	ctx := context.Background()
	require.NoError(t, s.On(ctx))
	require.NoError(t, s.Off(ctx))
	assert.Equal(t, []string{"P63=1", "P63=0"}, p.seen())
}

func TestSwitch_UnexpectedReply(t *testing.T) {
	p := &panel{reply: func(string) string { return "P63=0" }}
	srv := httptest.NewServer(p)
	defer srv.Close()

	s := NewSwitch(zerolog.Nop(), srv.URL, 3)
	err := s.On(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `expected "P63=1"`)
}

func TestSwitch_BadCredentials(t *testing.T) {
	srv := httptest.NewServer(&panel{})
	defer srv.Close()

	s := NewSwitch(zerolog.Nop(), srv.URL, 1, WithCredentials("admin", "wrong"))
	assert.Error(t, s.On(context.Background()))
}

func TestSwitch_ResetWaitsBetweenOffAndOn(t *testing.T) {
	p := &panel{}
	srv := httptest.NewServer(p)
	defer srv.Close()

	clk := fakeclock.NewFakeClock(time.Now())
	s := NewSwitch(zerolog.Nop(), srv.URL, 2, WithClock(clk), WithResetDelay(5*time.Second))

	done := make(chan error, 1)
	go func() { done <- s.Reset(context.Background()) }()

	require.Eventually(t, func() bool { return len(p.seen()) == 1 && clk.WatcherCount() == 1 },
		2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"P62=0"}, p.seen())

	clk.Increment(5 * time.Second)
	require.NoError(t, <-done)
	assert.Equal(t, []string{"P62=0", "P62=1"}, p.seen())
}

func TestParseReply(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    string
		wantErr bool
	}{
		{name: "plain", body: "<html>P61=1</html>", want: "P61=1"},
		{name: "whitespace", body: "<html>\n P61=0 \n</html>", want: "P61=0"},
		{name: "nested markup", body: "<html>P62=1<br></html>", want: "P62=1"},
		{name: "missing", body: "<body>P61=1</body>", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseReply(strings.NewReader(tt.body))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
