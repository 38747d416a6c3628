// Package config parses the redirect/service configuration file
// format: one command per line, blank lines and '#'-comments ignored.
//
// The grammar is small and bespoke to this project, so unlike the
// rest of the ambient stack this package is deliberately built on
// bufio/strings rather than reaching for a config library: nothing in
// the dependency set (cobra/pflag flags, docker-compose's YAML
// loader) shares this line-command shape, and introducing a generic
// config-file library (e.g. an INI or HCL parser) for six fixed verbs
// would add a dependency with no real leverage over a scanner loop.
package config

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// AuthKind names which gate kind the `auth` directive installs.
type AuthKind int

const (
	AuthNone AuthKind = iota
	AuthBasic
	AuthCookie
)

// ServiceBinding is one `service <prefix> <name>` directive, with any
// `option <prefix> <k>=<v>` directives for the same prefix folded in.
type ServiceBinding struct {
	Prefix  string
	Name    string
	Options map[string]string
}

// User is one `user <name> <password>` directive.
type User struct {
	Name     string
	Password string
}

// Config is the fully parsed configuration file.
type Config struct {
	// Paths are plugin/resource search directories, in file order.
	Paths []string

	Services []*ServiceBinding

	Auth AuthKind

	// Restricted is the set of prefixes requiring the installed auth
	// gate.
	Restricted []string

	Users []User
}

// Parse reads the line-command grammar described above from r.
func Parse(r io.Reader) (*Config, error) {
	cfg := &Config{}
	byPrefix := make(map[string]*ServiceBinding) // pointers into cfg.Services; safe since Services holds pointers, not values

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		cmd := fields[0]
		args := fields[1:]

		switch cmd {
		case "path":
			if len(args) != 1 {
				return nil, lineErr(lineNo, "path requires exactly one directory argument")
			}
			cfg.Paths = append(cfg.Paths, args[0])

		case "service":
			if len(args) != 2 {
				return nil, lineErr(lineNo, "service requires <prefix> <name>")
			}
			b := &ServiceBinding{Prefix: args[0], Name: args[1], Options: make(map[string]string)}
			cfg.Services = append(cfg.Services, b)
			byPrefix[args[0]] = b

		case "option":
			if len(args) != 2 {
				return nil, lineErr(lineNo, "option requires <prefix> <k>=<v>")
			}
			b, ok := byPrefix[args[0]]
			if !ok {
				return nil, lineErr(lineNo, "option for unknown prefix %q (service must come first)", args[0])
			}
			kv := strings.SplitN(args[1], "=", 2)
			if len(kv) != 2 {
				return nil, lineErr(lineNo, "option value %q is not k=v", args[1])
			}
			b.Options[kv[0]] = kv[1]

		case "auth":
			if len(args) != 1 {
				return nil, lineErr(lineNo, "auth requires exactly one kind")
			}
			switch args[0] {
			case "basic":
				cfg.Auth = AuthBasic
			case "cookie":
				cfg.Auth = AuthCookie
			default:
				return nil, lineErr(lineNo, "auth kind must be basic or cookie, got %q", args[0])
			}

		case "restrict":
			if len(args) != 1 {
				return nil, lineErr(lineNo, "restrict requires exactly one prefix")
			}
			cfg.Restricted = append(cfg.Restricted, args[0])

		case "user":
			if len(args) != 2 {
				return nil, lineErr(lineNo, "user requires <name> <password>")
			}
			cfg.Users = append(cfg.Users, User{Name: args[0], Password: args[1]})

		default:
			return nil, lineErr(lineNo, "unrecognised command %q", cmd)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func lineErr(lineNo int, format string, a ...interface{}) error {
	return fmt.Errorf("config: line %d: "+format, append([]interface{}{lineNo}, a...)...)
}
