package console

import (
	"context"
	"errors"
	"io"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/newtron-network/newtval/pkg/util"
)

// fakeChannel is an in-memory Channel. Every Write is recorded and handed
// to reply, which may queue output for the next Read.
type fakeChannel struct {
	pending string
	writes  []string
	reply   func(f *fakeChannel, s string)
	eof     bool
	closed  int
	cleared int
}

func (f *fakeChannel) Write(s string) error {
	if f.eof {
		return io.EOF
	}
	f.writes = append(f.writes, s)
	if f.reply != nil {
		f.reply(f, s)
	}
	return nil
}

func (f *fakeChannel) Read() (string, error) {
	if f.pending == "" && f.eof {
		return "", io.EOF
	}
	s := f.pending
	f.pending = ""
	return s, nil
}

func (f *fakeChannel) Clear() error {
	f.pending = ""
	f.cleared++
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed++
	return nil
}

// fakeDevice answers like a SONiC serial line.
type fakeDevice struct {
	password string
	state    string // "login", "password", "shell"
	// eofOnAttempt closes the stream when the nth password is submitted.
	eofOnAttempt int
	attempts     int
}

func (d *fakeDevice) reply(f *fakeChannel, s string) {
	s = strings.TrimSuffix(s, Return)
	switch d.state {
	case "", "login":
		if s == "" {
			f.pending += "\r\nsonic login: "
			return
		}
		d.state = "password"
		f.pending += "Password: "
	case "password":
		d.attempts++
		if d.eofOnAttempt == d.attempts {
			f.eof = true
			return
		}
		if s == d.password {
			d.state = "shell"
			f.pending += "\r\nLinux sonic 5.10.0\r\nadmin@sonic:~$ "
			return
		}
		d.state = "login"
		f.pending += "\r\nLogin incorrect\r\nsonic login: "
	case "shell":
		if s == "exit" {
			d.state = "login"
			f.pending += "logout\r\n\r\nsonic login: "
			return
		}
		f.pending += "\r\nadmin@sonic:~$ "
	}
}

func noSleep(time.Duration) {}

func dialerFor(ch Channel) Dialer {
	return func(context.Context, string, string, string) (Channel, error) {
		return ch, nil
	}
}

func newTestConn(t *testing.T, cfg Config, ch *fakeChannel) *Conn {
	t.Helper()
	cfg.Dialer = dialerFor(ch)
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	c.sleep = noSleep
	return c
}

func sshConfig(passwords ...string) Config {
	return Config{
		Host:            "console-1",
		Type:            TypeSSH,
		ConsoleUser:     "cuser",
		ConsolePassword: "cpass",
		ConsolePort:     7,
		DeviceUser:      "admin",
		DevicePasswords: passwords,
	}
}

func TestNew_MissingCredentials(t *testing.T) {
	tests := []struct {
		name  string
		mod   func(*Config)
		field string
	}{
		{"no console user", func(c *Config) { c.ConsoleUser = "" }, "console_username"},
		{"no console password", func(c *Config) { c.ConsolePassword = "" }, "console_password"},
		{"no device passwords", func(c *Config) { c.DevicePasswords = nil }, "sonic_password"},
		{"no device user", func(c *Config) { c.DeviceUser = "" }, "sonic_username"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := sshConfig("pw")
			tt.mod(&cfg)
			_, err := New(cfg)
			var cerr *ConfigError
			if !errors.As(err, &cerr) {
				t.Fatalf("New() error = %v, want *ConfigError", err)
			}
			if cerr.Field != tt.field {
				t.Errorf("Field = %q, want %q", cerr.Field, tt.field)
			}
			if !errors.Is(err, util.ErrInvalidConfig) {
				t.Error("ConfigError should match util.ErrInvalidConfig")
			}
		})
	}
}

func TestNew_UsernameByType(t *testing.T) {
	tests := []struct {
		typ      Type
		username string
		menuPort string
	}{
		{TypeSSH, "cuser:7", ""},
		{TypeSSHMenuPorts, "cuser", "7"},
		{TypeSSHDigiConfig, "cuser", ""},
		{Type("console_ssh_other_config"), "cuser", ""},
	}
	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			cfg := sshConfig("pw")
			cfg.Type = tt.typ
			c, err := New(cfg)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if c.Username() != tt.username {
				t.Errorf("Username() = %q, want %q", c.Username(), tt.username)
			}
			if c.MenuPort() != tt.menuPort {
				t.Errorf("MenuPort() = %q, want %q", c.MenuPort(), tt.menuPort)
			}
		})
	}
}

func TestOpen_PortInUse(t *testing.T) {
	banners := []string{
		"Port is in use. Closing connection...\r\n",
		"Cannot connect: line 07 is busy\r\n",
		"Cannot connect: line [07] is busy\r\n",
	}
	for _, banner := range banners {
		t.Run(banner, func(t *testing.T) {
			dev := &fakeDevice{password: "pw"}
			ch := &fakeChannel{pending: banner, reply: dev.reply}
			c := newTestConn(t, sshConfig("pw"), ch)

			err := c.Open(context.Background())
			if !errors.Is(err, ErrPortInUse) {
				t.Fatalf("Open() error = %v, want ErrPortInUse", err)
			}
			if errors.Is(err, ErrAuthFailed) {
				t.Error("port-in-use must not match ErrAuthFailed")
			}
			var perr *PortInUseError
			if !errors.As(err, &perr) || perr.Port != 7 {
				t.Errorf("PortInUseError = %+v, want Port 7", perr)
			}
			if len(ch.writes) != 0 {
				t.Errorf("writes = %q, want none", ch.writes)
			}
			if ch.closed != 1 {
				t.Errorf("channel closed %d times, want 1", ch.closed)
			}
		})
	}
}

func TestOpen_ConfigTypeSkipsDeviceLogin(t *testing.T) {
	ch := &fakeChannel{pending: "Digi Connect\r\n"}
	ch.reply = func(f *fakeChannel, s string) {
		f.pending += "\r\n----->"
	}
	cfg := sshConfig()
	cfg.Type = TypeSSHDigiConfig
	c := newTestConn(t, cfg, ch)

	if err := c.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if len(ch.writes) != 1 || ch.writes[0] != Return {
		t.Errorf("writes = %q, want a single newline", ch.writes)
	}
	if c.BasePrompt() != "-----" {
		t.Errorf("BasePrompt() = %q, want %q", c.BasePrompt(), "-----")
	}
	if !c.Ready() {
		t.Error("Ready() = false after Open")
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if len(ch.writes) != 1 {
		t.Errorf("config console sent %q on Close, want nothing", ch.writes[1:])
	}
	if ch.closed != 1 {
		t.Errorf("channel closed %d times, want 1", ch.closed)
	}
}

func TestOpen_RotatesDevicePasswords(t *testing.T) {
	dev := &fakeDevice{password: "good"}
	ch := &fakeChannel{pending: "Connected to line 7\r\n", reply: dev.reply}
	c := newTestConn(t, sshConfig("bad", "good"), ch)

	if err := c.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if dev.attempts != 2 {
		t.Errorf("password attempts = %d, want 2", dev.attempts)
	}
	if c.BasePrompt() != "admin@sonic:~" {
		t.Errorf("BasePrompt() = %q", c.BasePrompt())
	}
	if ch.cleared == 0 {
		t.Error("buffer not cleared after login")
	}

	out, err := c.SendCommand(context.Background(), "show version", nil)
	if err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	if !strings.Contains(out, "admin@sonic:~$") {
		t.Errorf("SendCommand() output = %q", out)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if last := ch.writes[len(ch.writes)-1]; last != "exit"+Return {
		t.Errorf("last write = %q, want exit", last)
	}
	if dev.state != "login" {
		t.Errorf("device state = %q after Close, want login", dev.state)
	}
	if ch.closed != 1 {
		t.Errorf("channel closed %d times, want 1", ch.closed)
	}
	if _, err := c.SendCommand(context.Background(), "show version", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("SendCommand() after Close error = %v, want ErrClosed", err)
	}
	if err := c.Open(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Open() after Close error = %v, want ErrClosed", err)
	}
}

func TestOpen_AllPasswordsFailReturnsLastError(t *testing.T) {
	dev := &fakeDevice{password: "never", eofOnAttempt: 2}
	ch := &fakeChannel{pending: "Connected\r\n", reply: dev.reply}
	c := newTestConn(t, sshConfig("first", "second"), ch)

	err := c.Open(context.Background())
	var aerr *AuthError
	if !errors.As(err, &aerr) {
		t.Fatalf("Open() error = %v, want *AuthError", err)
	}
	if aerr.Reason != ReasonEOF {
		t.Errorf("Reason = %q, want the final attempt's %q", aerr.Reason, ReasonEOF)
	}
	if !errors.Is(err, ErrAuthFailed) {
		t.Error("AuthError should match ErrAuthFailed")
	}
	if ch.closed != 1 {
		t.Errorf("channel closed %d times, want 1", ch.closed)
	}
	if c.Ready() {
		t.Error("Ready() = true after failed login")
	}
}

func TestOpen_ThreePasswords(t *testing.T) {
	tests := []struct {
		name         string
		eofOnAttempt int
		wantAttempts int
		wantReason   string
	}{
		{"all incorrect", 0, 3, ReasonIncorrect},
		{"eof on the second", 2, 2, ReasonEOF},
		{"eof on the last", 3, 3, ReasonEOF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := &fakeDevice{password: "never", eofOnAttempt: tt.eofOnAttempt}
			ch := &fakeChannel{pending: "Connected\r\n", reply: dev.reply}
			c := newTestConn(t, sshConfig("first", "second", "third"), ch)

			err := c.Open(context.Background())
			var aerr *AuthError
			if !errors.As(err, &aerr) {
				t.Fatalf("Open() error = %v, want *AuthError", err)
			}
			if aerr.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", aerr.Reason, tt.wantReason)
			}
			if dev.attempts != tt.wantAttempts {
				t.Errorf("password attempts = %d, want %d", dev.attempts, tt.wantAttempts)
			}
			if c.Ready() {
				t.Error("Ready() = true after failed login")
			}
		})
	}
}

func TestLoginStage2_IncorrectPassword(t *testing.T) {
	dev := &fakeDevice{password: "good"}
	ch := &fakeChannel{reply: dev.reply}
	c := newTestConn(t, sshConfig("bad"), ch)
	c.ch = ch

	_, err := c.LoginStage2(context.Background(), StageOptions{Username: "admin", Password: "bad"})
	var aerr *AuthError
	if !errors.As(err, &aerr) || aerr.Reason != ReasonIncorrect {
		t.Fatalf("LoginStage2() error = %v, want incorrect AuthError", err)
	}
	if !strings.Contains(aerr.Transcript, "Login incorrect") {
		t.Errorf("Transcript = %q", aerr.Transcript)
	}
	if ch.closed != 0 {
		t.Error("incorrect login must leave the channel open for the next password")
	}
}

func TestLoginStage2_PasswordPromptBeforeUsername(t *testing.T) {
	dev := &fakeDevice{password: "good"}
	ch := &fakeChannel{pending: "Password: ", reply: dev.reply}
	c := newTestConn(t, sshConfig("good"), ch)
	c.ch = ch

	res, err := c.LoginStage2Result(context.Background(), StageOptions{Username: "admin", Password: "good"})
	if err != nil {
		t.Fatalf("LoginStage2Result() error = %v", err)
	}
	want := []string{Return, "admin" + Return, "good" + Return}
	if len(ch.writes) != len(want) {
		t.Fatalf("writes = %q, want %q", ch.writes, want)
	}
	for i := range want {
		if ch.writes[i] != want[i] {
			t.Errorf("writes[%d] = %q, want %q", i, ch.writes[i], want[i])
		}
	}
	if res.Terminator != "alternate" {
		t.Errorf("Terminator = %q, want alternate", res.Terminator)
	}
}

func TestLoginStage2_LatePrompt(t *testing.T) {
	ch := &fakeChannel{}
	ch.reply = func(f *fakeChannel, s string) {
		if len(f.writes) == 4 {
			f.pending = "root@sonic:~# "
		}
	}
	c := newTestConn(t, sshConfig("pw"), ch)
	c.ch = ch

	res, err := c.LoginStage2Result(context.Background(), StageOptions{Username: "admin", Password: "pw", MaxLoops: 3})
	if err != nil {
		t.Fatalf("LoginStage2Result() error = %v", err)
	}
	if res.Terminator != "primary" {
		t.Errorf("Terminator = %q, want primary", res.Terminator)
	}
	if ch.closed != 0 {
		t.Error("channel closed after late prompt")
	}
}

func TestLoginStage2_LoopExhausted(t *testing.T) {
	ch := &fakeChannel{}
	c := newTestConn(t, sshConfig("pw"), ch)
	c.ch = ch

	_, err := c.LoginStage2(context.Background(), StageOptions{Username: "admin", Password: "pw"})
	var aerr *AuthError
	if !errors.As(err, &aerr) || aerr.Reason != ReasonNoPrompt {
		t.Fatalf("LoginStage2() error = %v, want no-prompt AuthError", err)
	}
	if len(ch.writes) != DefaultMaxLoops+1 {
		t.Errorf("newlines sent = %d, want %d", len(ch.writes), DefaultMaxLoops+1)
	}
	if ch.closed != 1 {
		t.Errorf("channel closed %d times, want 1", ch.closed)
	}
	if _, err := c.LoginStage2(context.Background(), StageOptions{Username: "admin"}); !errors.Is(err, ErrClosed) {
		t.Errorf("LoginStage2() on dropped channel error = %v, want ErrClosed", err)
	}
}

func TestLoginStage2_EOF(t *testing.T) {
	ch := &fakeChannel{pending: "sonic login: "}
	ch.reply = func(f *fakeChannel, s string) { f.eof = true }
	c := newTestConn(t, sshConfig("pw"), ch)
	c.ch = ch

	_, err := c.LoginStage2(context.Background(), StageOptions{Username: "admin", Password: "pw"})
	var aerr *AuthError
	if !errors.As(err, &aerr) || aerr.Reason != ReasonEOF {
		t.Fatalf("LoginStage2() error = %v, want EOF AuthError", err)
	}
	if ch.closed != 1 {
		t.Errorf("channel closed %d times, want 1", ch.closed)
	}
}

func TestOpen_MenuPorts(t *testing.T) {
	dev := &fakeDevice{password: "good"}
	outer := "menu"
	ch := &fakeChannel{pending: "Welcome to the console server\r\n"}
	ch.reply = func(f *fakeChannel, s string) {
		line := strings.TrimSuffix(s, Return)
		switch outer {
		case "menu":
			switch line {
			case "menu ports":
				f.pending += " 1 rack1-sw1\r\n 7 rack1-sw7\r\nSelection: "
			case "7":
				outer = "user"
				f.pending += "\r\nport 7 login: "
			}
		case "user":
			outer = "password"
			f.pending += "Password: "
		case "password":
			outer = "device"
			f.pending += "\r\nsonic login: "
		default:
			dev.reply(f, s)
		}
	}
	cfg := sshConfig("good")
	cfg.Type = TypeSSHMenuPorts
	c := newTestConn(t, cfg, ch)

	if err := c.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	want := []string{"menu ports" + Return, "7" + Return, "cuser" + Return, "cpass" + Return}
	for i := range want {
		if ch.writes[i] != want[i] {
			t.Errorf("writes[%d] = %q, want %q", i, ch.writes[i], want[i])
		}
	}
	if dev.state != "shell" {
		t.Errorf("device state = %q, want shell", dev.state)
	}
}

func TestWriteAndPoll_Timeout(t *testing.T) {
	ch := &fakeChannel{}
	c := newTestConn(t, sshConfig("pw"), ch)
	c.ch = ch

	_, err := c.WriteAndPoll(context.Background(), "menu ports", regexp.MustCompile("Selection:"))
	if !errors.Is(err, util.ErrTimeout) {
		t.Errorf("WriteAndPoll() error = %v, want ErrTimeout", err)
	}
}

func TestLastPrompt(t *testing.T) {
	tests := []struct {
		output string
		terms  []string
		want   string
		ok     bool
	}{
		{"\r\nadmin@sonic:~$ ", []string{"#", "$"}, "admin@sonic:~", true},
		{"junk\r\nroot@sonic:/# \r\n", []string{"#", "$"}, "root@sonic:/", true},
		{"\r\n----->", []string{">"}, "-----", true},
		{"sonic login: ", []string{"#", "$"}, "", false},
	}
	for _, tt := range tests {
		got, ok := lastPrompt(tt.output, tt.terms)
		if got != tt.want || ok != tt.ok {
			t.Errorf("lastPrompt(%q) = %q, %v; want %q, %v", tt.output, got, ok, tt.want, tt.ok)
		}
	}
}
