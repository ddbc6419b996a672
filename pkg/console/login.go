package console

import (
	"context"
	"regexp"
)

// DefaultMaxLoops bounds the stage-2 polling loop.
const DefaultMaxLoops = 20

// StageOptions parameterizes one stage-2 login attempt. Nil patterns fall
// back to the session's Patterns.
type StageOptions struct {
	Username string
	Password string
	MenuPort string // when set, the line is picked from the port menu first

	PrimaryPrompt   *regexp.Regexp
	AlternatePrompt *regexp.Regexp
	UsernamePrompt  *regexp.Regexp
	PasswordPrompt  *regexp.Regexp

	DelayFactor float64
	MaxLoops    int
}

// StageResult reports which terminator ended a successful stage.
type StageResult struct {
	Transcript string
	Terminator string // "primary" or "alternate"
}

func (o *StageOptions) withDefaults(p *Patterns) StageOptions {
	out := *o
	if out.PrimaryPrompt == nil {
		out.PrimaryPrompt = p.PrimaryPrompt
	}
	if out.AlternatePrompt == nil {
		out.AlternatePrompt = p.AlternatePrompt
	}
	if out.UsernamePrompt == nil {
		out.UsernamePrompt = p.UsernamePrompt
	}
	if out.PasswordPrompt == nil {
		out.PasswordPrompt = p.PasswordPrompt
	}
	if out.MaxLoops <= 0 {
		out.MaxLoops = DefaultMaxLoops
	}
	return out
}

// LoginStage2 answers a device's login prompts on an already-open line and
// returns the transcript once a shell prompt appears.
//
// Each iteration reads the line and reacts to the first unanswered prompt.
// The password is only sent after the username. An iteration that matches
// nothing sends a newline to elicit the next prompt. A "login incorrect"
// message fails the attempt after a pause. End-of-stream closes the channel.
// Every failure is an *AuthError.
func (c *Conn) LoginStage2(ctx context.Context, opts StageOptions) (string, error) {
	res, err := c.LoginStage2Result(ctx, opts)
	return res.Transcript, err
}

// LoginStage2Result is LoginStage2 reporting which prompt terminator matched.
func (c *Conn) LoginStage2Result(ctx context.Context, opts StageOptions) (StageResult, error) {
	if c.closed || c.ch == nil {
		return StageResult{}, ErrClosed
	}
	o := opts.withDefaults(c.patterns)
	delay := c.delay
	if o.DelayFactor > delay {
		delay = o.DelayFactor
	}
	log := c.log.WithField("user", o.Username)

	var (
		transcript   string
		menuPortSent bool
		userSent     bool
		passwordSent bool
	)
	fail := func(reason string) (StageResult, error) {
		return StageResult{Transcript: transcript}, &AuthError{
			Host:       c.cfg.Host,
			User:       o.Username,
			Reason:     reason,
			Transcript: transcript,
		}
	}
	// eofFail closes the channel on end-of-stream; other errors pass through.
	eofFail := func(err error) (StageResult, error) {
		return StageResult{Transcript: transcript}, c.eof(err, o.Username, transcript)
	}
	terminator := func(out string) string {
		switch {
		case o.PrimaryPrompt.MatchString(out):
			return "primary"
		case o.AlternatePrompt.MatchString(out):
			return "alternate"
		}
		return ""
	}
	read := func() (string, error) {
		out, err := c.ch.Read()
		transcript += out
		return out, err
	}

	c.pauseScaled(1, delay)

	for i := 1; i <= o.MaxLoops; i++ {
		if err := ctx.Err(); err != nil {
			return StageResult{Transcript: transcript}, err
		}

		if o.MenuPort != "" && !menuPortSent {
			log.Debugf("Selecting menu port %s", o.MenuPort)
			out, err := c.WriteAndPoll(ctx, c.patterns.MenuCommand, c.patterns.MenuSelection)
			transcript += out
			if err != nil {
				return eofFail(err)
			}
			if err := c.ch.Write(o.MenuPort + Return); err != nil {
				return eofFail(err)
			}
			menuPortSent = true
		}

		out, err := read()
		if err != nil {
			return eofFail(err)
		}

		if !userSent && o.UsernamePrompt.MatchString(out) {
			if err := c.ch.Write(o.Username + Return); err != nil {
				return eofFail(err)
			}
			c.pauseScaled(1, delay)
			if out, err = read(); err != nil {
				return eofFail(err)
			}
			userSent = true
		}

		if userSent && !passwordSent && o.PasswordPrompt.MatchString(out) {
			if err := c.ch.Write(o.Password + Return); err != nil {
				return eofFail(err)
			}
			c.pauseScaled(0.5, delay)
			if out, err = read(); err != nil {
				return eofFail(err)
			}
			passwordSent = true
			if t := terminator(out); t != "" {
				return StageResult{Transcript: transcript, Terminator: t}, nil
			}
		}

		if t := terminator(out); t != "" {
			return StageResult{Transcript: transcript, Terminator: t}, nil
		}

		if c.patterns.LoginFailure.MatchString(out) {
			// The device refuses an immediate retry.
			c.pauseScaled(1, delay)
			log.Debug("Device reported login incorrect")
			return fail(ReasonIncorrect)
		}

		if err := c.ch.Write(Return); err != nil {
			return eofFail(err)
		}
		c.pauseScaled(0.5, delay)
	}

	// The prompt may have arrived after the last poll.
	if err := c.ch.Write(Return); err != nil {
		return eofFail(err)
	}
	c.pauseScaled(0.5, delay)
	out, err := read()
	if err != nil {
		return eofFail(err)
	}
	if t := terminator(out); t != "" {
		return StageResult{Transcript: transcript, Terminator: t}, nil
	}

	c.drop()
	return fail(ReasonNoPrompt)
}
