package session

// Session decides under which user account suite commands are launched.

import "fmt"

// Session describes the user context of a suite. The zero value runs
// commands as the current user.
type Session struct {
	User string `yaml:"user"`
}

// Current returns a Session for the user running the scheduler.
func Current() Session {
	return Session{}
}

// String returns a human-readable name used in logs.
func (s Session) String() string {
	if s.User == "" {
		return "current user"
	}
	return fmt.Sprintf("user %s", s.User)
}

// WrapCommand returns the command line that runs args in this session.
// Commands for other users go through non-interactive sudo.
func (s Session) WrapCommand(args []string) []string {
	if s.User == "" {
		return args
	}
	return append([]string{"sudo", "-n", "-u", s.User, "--"}, args...)
}
