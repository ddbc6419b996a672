package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/newtron-network/newtval/pkg/util"
)

// Config describes one console line and the credentials for both login stages.
type Config struct {
	Host string
	Port int // SSH port of the console server; 22 when zero
	Type Type

	// Outer stage: console server account and the physical line.
	ConsoleUser     string
	ConsolePassword string
	ConsolePort     int

	// Inner stage: device account. Passwords are tried in order.
	DeviceUser      string
	DevicePasswords []string

	// DelayFactor scales every pause; values below 1 are raised to 1.
	DelayFactor float64

	Patterns *Patterns // DefaultPatterns() when nil
	Dialer   Dialer    // DialSSH when nil
}

// Conn is a console session. It owns its Channel exclusively and is not
// safe for concurrent use.
type Conn struct {
	cfg      Config
	username string // outer login user, "<user>:<port>" for TypeSSH
	menuPort string // non-empty for menu-port consoles
	patterns *Patterns
	delay    float64
	log      *logrus.Entry

	ch         Channel
	basePrompt string
	ready      bool
	closed     bool

	sleep func(time.Duration)
}

// New validates cfg and derives the outer login user. It does not connect.
func New(cfg Config) (*Conn, error) {
	if cfg.ConsoleUser == "" {
		return nil, &ConfigError{Field: "console_username"}
	}
	if cfg.ConsolePassword == "" {
		return nil, &ConfigError{Field: "console_password"}
	}
	if cfg.Host == "" {
		return nil, &ConfigError{Field: "console_host"}
	}
	if cfg.Type == "" {
		return nil, &ConfigError{Field: "console_type"}
	}
	if !cfg.Type.IsConfig() {
		if cfg.DeviceUser == "" {
			return nil, &ConfigError{Field: "sonic_username"}
		}
		if len(cfg.DevicePasswords) == 0 {
			return nil, &ConfigError{Field: "sonic_password"}
		}
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.Patterns == nil {
		cfg.Patterns = DefaultPatterns()
	}
	if cfg.Dialer == nil {
		cfg.Dialer = DialSSH
	}

	c := &Conn{
		cfg:      cfg,
		patterns: cfg.Patterns,
		delay:    cfg.DelayFactor,
		log:      util.WithConsole(cfg.Host, cfg.ConsolePort),
		sleep:    time.Sleep,
	}
	if c.delay < 1 {
		c.delay = 1
	}

	switch {
	case cfg.Type == TypeSSH:
		c.username = cfg.ConsoleUser + ":" + strconv.Itoa(cfg.ConsolePort)
	case cfg.Type.IsConfig():
		c.username = cfg.ConsoleUser
	default:
		c.username = cfg.ConsoleUser
		c.menuPort = strconv.Itoa(cfg.ConsolePort)
	}
	return c, nil
}

// Username returns the user presented to the console server.
func (c *Conn) Username() string { return c.username }

// MenuPort returns the line selected from the port menu, or "".
func (c *Conn) MenuPort() string { return c.menuPort }

// BasePrompt returns the normalized shell prompt found after login.
func (c *Conn) BasePrompt() string { return c.basePrompt }

// Ready reports whether the session finished login and is at a prompt.
func (c *Conn) Ready() bool { return c.ready && !c.closed }

// Open authenticates to the console server and runs session preparation.
// On any error the channel is closed.
func (c *Conn) Open(ctx context.Context) error {
	if c.closed {
		return ErrClosed
	}
	if c.ch != nil {
		return nil
	}
	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	c.log.Debugf("Connecting to console server %s as %s", addr, c.username)

	ch, err := c.cfg.Dialer(ctx, addr, c.username, c.cfg.ConsolePassword)
	if err != nil {
		return err
	}
	c.ch = ch

	if err := c.prepareSession(ctx); err != nil {
		c.drop()
		return err
	}
	c.log.Infof("Console session ready, prompt %q", c.basePrompt)
	return nil
}

// prepareSession checks the banner, logs into the device and normalizes
// the prompt.
func (c *Conn) prepareSession(ctx context.Context) error {
	banner, err := c.readBanner(ctx)
	if err != nil {
		return err
	}
	c.log.Debug(banner)

	if c.patterns.PortBusy.MatchString(banner) {
		return &PortInUseError{Host: c.cfg.Host, Port: c.cfg.ConsolePort}
	}

	if c.cfg.Type.IsConfig() {
		return c.finalize()
	}

	if c.menuPort != "" {
		// The console server re-authenticates the outer account on the
		// selected line before handing over to the device.
		_, err := c.LoginStage2(ctx, StageOptions{
			Username:      c.username,
			Password:      c.cfg.ConsolePassword,
			MenuPort:      c.menuPort,
			PrimaryPrompt: c.patterns.MenuLoginPrompt,
		})
		if err != nil {
			return err
		}
	}

	var lastErr error
	for i, password := range c.cfg.DevicePasswords {
		_, err := c.LoginStage2(ctx, StageOptions{
			Username: c.cfg.DeviceUser,
			Password: password,
		})
		if err == nil {
			lastErr = nil
			break
		}
		var authErr *AuthError
		if !errors.As(err, &authErr) {
			return err
		}
		c.log.Debugf("Device login with password %d of %d failed: %s", i+1, len(c.cfg.DevicePasswords), authErr.Reason)
		lastErr = err
		if c.ch == nil {
			// EOF closed the channel; later candidates have nothing to talk to.
			break
		}
	}
	if lastErr != nil {
		return lastErr
	}
	return c.finalize()
}

// readBanner waits for the console server's first output, nudging the
// line with a newline while nothing has arrived.
func (c *Conn) readBanner(ctx context.Context) (string, error) {
	const maxPolls = 40
	for i := 0; i < maxPolls; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		out, err := c.ch.Read()
		if err != nil {
			return "", c.eof(err, c.username, "")
		}
		if out != "" {
			return out, nil
		}
		if err := c.ch.Write(Return); err != nil {
			return "", c.eof(err, c.username, "")
		}
		c.pause(0.2)
	}
	return "", fmt.Errorf("console %s: no banner: %w", c.cfg.Host, util.ErrTimeout)
}

func (c *Conn) finalize() error {
	if c.cfg.Type == TypeSSHDigiConfig {
		if err := c.setBasePrompt(c.patterns.ConfigTerminator); err != nil {
			return err
		}
	} else if err := c.setBasePrompt(c.patterns.PromptTerminators...); err != nil {
		return err
	}
	c.pause(0.3)
	if err := c.ch.Clear(); err != nil {
		return err
	}
	c.ready = true
	return nil
}

// setBasePrompt sends a newline and takes the last output line ending in
// one of terminators, minus the terminator.
func (c *Conn) setBasePrompt(terminators ...string) error {
	if err := c.ch.Write(Return); err != nil {
		return c.eof(err, c.username, "")
	}
	var output string
	for i := 0; i < 20; i++ {
		c.pause(0.2)
		out, err := c.ch.Read()
		if err != nil {
			return c.eof(err, c.username, output)
		}
		output += out
		if prompt, ok := lastPrompt(output, terminators); ok {
			c.basePrompt = prompt
			return nil
		}
	}
	return fmt.Errorf("console %s: router prompt not found in %q: %w", c.cfg.Host, output, util.ErrTimeout)
}

func lastPrompt(output string, terminators []string) (string, bool) {
	lines := util.NonEmptyLines(output)
	for i := len(lines) - 1; i >= 0; i-- {
		for _, t := range terminators {
			if strings.HasSuffix(lines[i], t) {
				return strings.TrimSpace(strings.TrimSuffix(lines[i], t)), true
			}
		}
	}
	return "", false
}

// WriteAndPoll writes cmd and reads until pattern matches the accumulated
// output. It returns the output read.
func (c *Conn) WriteAndPoll(ctx context.Context, cmd string, pattern *regexp.Regexp) (string, error) {
	if c.closed || c.ch == nil {
		return "", ErrClosed
	}
	if err := c.ch.Write(cmd + Return); err != nil {
		return "", c.eof(err, c.username, "")
	}
	return c.readUntil(ctx, pattern, 50)
}

// SendCommand runs cmd at the device prompt and returns its output once
// expect (the base prompt when nil) appears.
func (c *Conn) SendCommand(ctx context.Context, cmd string, expect *regexp.Regexp) (string, error) {
	if !c.Ready() {
		return "", ErrClosed
	}
	if expect == nil {
		expect = regexp.MustCompile(regexp.QuoteMeta(c.basePrompt))
	}
	return c.WriteAndPoll(ctx, cmd, expect)
}

func (c *Conn) readUntil(ctx context.Context, pattern *regexp.Regexp, loops int) (string, error) {
	var output string
	for i := 0; i < loops; i++ {
		if err := ctx.Err(); err != nil {
			return output, err
		}
		out, err := c.ch.Read()
		if err != nil {
			return output, c.eof(err, c.username, output)
		}
		output += out
		if pattern.MatchString(output) {
			return output, nil
		}
		c.pause(0.2)
	}
	return output, fmt.Errorf("console %s: pattern %q not detected: %w", c.cfg.Host, pattern, util.ErrTimeout)
}

// Interact copies in to the console and console output to out until ctx is
// cancelled, in reaches EOF, or the console closes.
func (c *Conn) Interact(ctx context.Context, in io.Reader, out io.Writer) error {
	if !c.Ready() {
		return ErrClosed
	}
	inputErr := make(chan error, 1)
	go func() {
		buf := make([]byte, 256)
		for {
			n, err := in.Read(buf)
			if n > 0 {
				if werr := c.ch.Write(string(buf[:n])); werr != nil {
					inputErr <- werr
					return
				}
			}
			if err != nil {
				inputErr <- err
				return
			}
		}
	}()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-inputErr:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		case <-ticker.C:
			s, err := c.ch.Read()
			if s != "" {
				if _, werr := io.WriteString(out, s); werr != nil {
					return werr
				}
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
		}
	}
}

// Close logs out of the device (except on config consoles) and always
// closes the channel. The Conn cannot be reused.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.ready = false
	if c.ch == nil {
		return nil
	}

	var logoutErr error
	if !c.cfg.Type.IsConfig() {
		if err := c.ch.Write(c.patterns.LogoutCommand + Return); err != nil {
			logoutErr = fmt.Errorf("console logout: %w", err)
		} else if _, err := c.readUntil(context.Background(), c.patterns.LogoutPrompt, 50); err != nil {
			logoutErr = fmt.Errorf("console logout: %w", err)
		}
	}
	closeErr := c.ch.Close()
	c.ch = nil
	return errors.Join(logoutErr, closeErr)
}

// drop closes the channel without logging out.
func (c *Conn) drop() {
	if c.ch != nil {
		c.ch.Close()
		c.ch = nil
	}
	c.ready = false
}

// eof converts end-of-stream into an AuthError after closing the channel.
// Other errors pass through.
func (c *Conn) eof(err error, user, transcript string) error {
	if !errors.Is(err, io.EOF) {
		return err
	}
	c.drop()
	return &AuthError{Host: c.cfg.Host, User: user, Reason: ReasonEOF, Transcript: transcript}
}

// pause sleeps for seconds scaled by the session delay factor.
func (c *Conn) pause(seconds float64) {
	c.pauseScaled(seconds, c.delay)
}

func (c *Conn) pauseScaled(seconds, factor float64) {
	c.sleep(time.Duration(seconds * factor * float64(time.Second)))
}
