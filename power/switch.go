// Package power drives the hardware used to force a board reset: networked
// power switches and VME crate monitors.
package power

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/rs/zerolog"
)

const (
	DefaultUser     = "admin"
	DefaultPassword = "12345678"

	// DefaultResetDelay is how long a channel stays off during Reset.
	DefaultResetDelay = 5 * time.Second
)

// Switch controls one channel of an IP power switch through its HTTP control
// panel.
type Switch struct {
	logger     zerolog.Logger
	host       string
	channel    int
	user       string
	password   string
	resetDelay time.Duration
	client     *http.Client
	clk        clock.Clock
}

// SwitchOption configures a Switch.
type SwitchOption func(*Switch)

// WithCredentials sets the control panel login.
func WithCredentials(user, password string) SwitchOption {
	return func(s *Switch) {
		s.user = user
		s.password = password
	}
}

// WithResetDelay sets how long Reset keeps the channel switched off.
func WithResetDelay(d time.Duration) SwitchOption {
	return func(s *Switch) {
		s.resetDelay = d
	}
}

// WithHTTPClient replaces the HTTP client used to reach the control panel.
func WithHTTPClient(c *http.Client) SwitchOption {
	return func(s *Switch) {
		s.client = c
	}
}

// WithClock replaces the clock used for the reset delay.
func WithClock(clk clock.Clock) SwitchOption {
	return func(s *Switch) {
		s.clk = clk
	}
}

// NewSwitch returns a Switch for channel on the control panel at host. host
// may carry a port and a scheme; plain http is assumed otherwise.
func NewSwitch(logger zerolog.Logger, host string, channel int, opts ...SwitchOption) *Switch {
	s := &Switch{
		logger:     logger,
		host:       host,
		channel:    channel,
		user:       DefaultUser,
		password:   DefaultPassword,
		resetDelay: DefaultResetDelay,
		client:     &http.Client{Timeout: 10 * time.Second},
		clk:        clock.NewClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// On switches the channel on.
func (s *Switch) On(ctx context.Context) error {
	return s.set(ctx, 1)
}

// Off switches the channel off.
func (s *Switch) Off(ctx context.Context) error {
	return s.set(ctx, 0)
}

// Reset power cycles the channel.
func (s *Switch) Reset(ctx context.Context) error {
	if err := s.Off(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.clk.After(s.resetDelay):
	}
	return s.On(ctx)
}

func (s *Switch) set(ctx context.Context, state int) error {
	want := fmt.Sprintf("P6%d=%d", s.channel, state)
	u := s.commandURL(want)

	s.logger.Info().Str("host", s.host).Int("channel", s.channel).Int("state", state).Msg("Setting power switch")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create power switch request: %w", err)
	}
	rsp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach power switch %s: %w", s.host, err)
	}
	defer rsp.Body.Close()
	if rsp.StatusCode != http.StatusOK {
		return fmt.Errorf("power switch %s returned %s", s.host, rsp.Status)
	}

	reply, err := parseReply(rsp.Body)
	if err != nil {
		return err
	}
	if reply != want {
		return fmt.Errorf("power switch %s replied %q, expected %q", s.host, reply, want)
	}
	return nil
}

// commandURL builds the SetPower request. The command is sent unescaped
// because the panel firmware does not decode percent escapes.
func (s *Switch) commandURL(cmd string) string {
	base := s.host
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	u, err := url.Parse(base)
	if err != nil {
		u = &url.URL{Scheme: "http", Host: s.host}
	}
	u.User = url.UserPassword(s.user, s.password)
	u.Path = "/Set.cmd"
	u.RawQuery = "CMD=SetPower+" + cmd
	return u.String()
}

// parseReply extracts the text of the first <html> element.
func parseReply(r io.Reader) (string, error) {
	d := xml.NewDecoder(r)
	d.Strict = false
	d.AutoClose = xml.HTMLAutoClose
	d.Entity = xml.HTMLEntity

	inHTML := false
	var text strings.Builder
	for {
		tok, err := d.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to parse power switch reply: %w", err)
		}
		switch tok := tok.(type) {
		case xml.StartElement:
			if strings.EqualFold(tok.Name.Local, "html") {
				inHTML = true
			} else if inHTML {
				return strings.TrimSpace(text.String()), nil
			}
		case xml.CharData:
			if inHTML {
				text.Write(tok)
			}
		case xml.EndElement:
			if inHTML {
				return strings.TrimSpace(text.String()), nil
			}
		}
	}
	if !inHTML {
		return "", fmt.Errorf("power switch reply has no html element")
	}
	return strings.TrimSpace(text.String()), nil
}
