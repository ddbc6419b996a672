// Package console logs into SONiC devices through an SSH console server.
//
// A console session is a two-stage login: the outer stage authenticates to
// the console server (selecting a physical line either with a ":port" user
// suffix or through a menu), the inner stage answers the device's own
// login/password prompts on the serial line. The inner stage is a bounded
// polling loop over a noisy character stream; every prompt it reacts to is
// a regular expression in Patterns.
package console

import (
	"regexp"
	"strings"
)

// Type identifies how a console server selects the physical line.
type Type string

const (
	// TypeSSH selects the line by logging in as "<user>:<port>".
	TypeSSH Type = "console_ssh"
	// TypeSSHMenuPorts logs in as the bare user and picks the line from a
	// "menu ports" listing.
	TypeSSHMenuPorts Type = "console_ssh_menu_ports"
	// TypeSSHDigiConfig reaches the Digi configuration menu; there is no
	// device behind it, so the inner login is skipped.
	TypeSSHDigiConfig Type = "console_ssh_digi_config"
)

// IsConfig reports whether the type lands in a console-server configuration
// menu rather than on a device line.
func (t Type) IsConfig() bool {
	return strings.HasSuffix(string(t), "config")
}

// Return is the line terminator sent to the console.
const Return = "\n"

// Patterns holds every prompt and banner expression the login driver reacts
// to. New firmware wording is supported by editing a Patterns value.
type Patterns struct {
	PrimaryPrompt   *regexp.Regexp // shell prompt, root style
	AlternatePrompt *regexp.Regexp // shell prompt, user style
	UsernamePrompt  *regexp.Regexp
	PasswordPrompt  *regexp.Regexp
	LoginFailure    *regexp.Regexp
	PortBusy        *regexp.Regexp

	// Menu-port consoles
	MenuCommand     string
	MenuSelection   *regexp.Regexp
	MenuLoginPrompt *regexp.Regexp

	// Logout on Close
	LogoutCommand string
	LogoutPrompt  *regexp.Regexp

	// PromptTerminators are accepted when auto-detecting the base prompt.
	PromptTerminators []string
	// ConfigTerminator ends the Digi configuration menu prompt ("----->").
	ConfigTerminator string
}

// DefaultPatterns returns the prompt set that matches SONiC behind Digi and
// plain SSH console servers.
func DefaultPatterns() *Patterns {
	return &Patterns{
		PrimaryPrompt:   regexp.MustCompile(`(?m).*# `),
		AlternatePrompt: regexp.MustCompile(`(?m).*\$ `),
		UsernamePrompt:  regexp.MustCompile(`(?i)(?:user:|username|login|user name)`),
		PasswordPrompt:  regexp.MustCompile(`(?i)assword`),
		LoginFailure:    regexp.MustCompile(`(?im).*incorrect`),
		PortBusy: regexp.MustCompile(
			`(?m)(Port is in use\. Closing connection\.\.\.|Cannot connect: line \[?\d{2}\]? is busy)`),

		MenuCommand:     "menu ports",
		MenuSelection:   regexp.MustCompile(`Selection:`),
		MenuLoginPrompt: regexp.MustCompile(`(?m).*login`),

		LogoutCommand: "exit",
		LogoutPrompt:  regexp.MustCompile(`login:`),

		PromptTerminators: []string{"#", "$"},
		ConfigTerminator:  ">",
	}
}
