// Command pion-web is a small standalone server binary built on top
// of the pion package: it reads the redirect/service configuration
// grammar, wires the named services it finds against a fixed
// in-process handler registry, and serves until interrupted.
//
// It exists to exercise the library end to end; pion itself is meant
// to be embedded, not run from this binary in production.
package main

import (
	"crypto/tls"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pionweb/pion"
	"github.com/pionweb/pion/auth/basic"
	"github.com/pionweb/pion/auth/cookie"
	"github.com/pionweb/pion/config"
	"github.com/pionweb/pion/scheduler"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type cliFlags struct {
	port       int
	ip         string
	sslPEM     string
	configFile string
	pluginDir  string
	options    []string
}

func newRootCmd() *cobra.Command {
	flags := &cliFlags{}
	cmd := &cobra.Command{
		Use:   "pion-web RESOURCE HANDLER",
		Short: "run a pion server for one resource/handler pair, optionally extended by a config file",
		Args:  cobra.RangeArgs(0, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(flags, args)
		},
	}
	f := cmd.Flags()
	f.IntVarP(&flags.port, "port", "p", 8080, "TCP port to listen on")
	f.StringVarP(&flags.ip, "ip", "i", "", "IP address to bind (default: all interfaces)")
	f.StringVar(&flags.sslPEM, "ssl", "", "PEM file (cert followed by key) enabling TLS")
	f.StringVarP(&flags.configFile, "config", "c", "", "redirect/service configuration file")
	f.StringVarP(&flags.pluginDir, "plugin-dir", "d", "", "directory served by the built-in static handler")
	f.StringArrayVarP(&flags.options, "option", "o", nil, "NAME=VALUE option passed to RESOURCE HANDLER")
	return cmd
}

func run(flags *cliFlags, args []string) error {
	log := logrus.StandardLogger()

	sched := scheduler.New(scheduler.OneToOne, log)
	sched.Start(4)
	defer sched.Stop()

	addr := fmt.Sprintf("%s:%d", flags.ip, flags.port)
	srv := pion.NewServer(addr, sched, log)

	registry := defaultRegistry(flags.pluginDir)

	if len(args) == 2 {
		resource, handlerName := args[0], args[1]
		factory, ok := registry[handlerName]
		if !ok {
			return fmt.Errorf("pion-web: unknown handler %q", handlerName)
		}
		opts, err := parseOptions(flags.options)
		if err != nil {
			return err
		}
		srv.AddResource(resource, factory(opts))
	}

	if flags.configFile != "" {
		if err := loadConfigFile(srv, registry, flags.configFile); err != nil {
			return err
		}
	}

	if flags.sslPEM != "" {
		cert, err := loadPEMPair(flags.sslPEM)
		if err != nil {
			return err
		}
		srv.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sig:
		log.Info("pion-web: shutting down")
		return srv.Stop(true)
	}
}

// loadPEMPair expects a single file containing both the certificate
// chain and the private key as concatenated PEM blocks, in either order, and splits them into the two PEM
// streams tls.X509KeyPair expects.
func loadPEMPair(path string) (tls.Certificate, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, err
	}

	var certPEM, keyPEM []byte
	rest := raw
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		encoded := pem.EncodeToMemory(block)
		if block.Type == "CERTIFICATE" {
			certPEM = append(certPEM, encoded...)
		} else {
			keyPEM = append(keyPEM, encoded...)
		}
	}
	if len(certPEM) == 0 || len(keyPEM) == 0 {
		return tls.Certificate{}, errors.New("pion-web: PEM file must contain both a certificate and a private key")
	}
	return tls.X509KeyPair(certPEM, keyPEM)
}

// loadConfigFile parses a config file with config.Parse and wires its
// directives against srv and registry.
func loadConfigFile(srv *pion.Server, registry map[string]handlerFactory, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	cfg, err := config.Parse(f)
	if err != nil {
		return err
	}

	var gate pion.Gate
	switch cfg.Auth {
	case config.AuthBasic:
		gate = basic.New("pion-web")
	case config.AuthCookie:
		gate = cookie.New("/login", "/logout", "/")
	}
	for _, u := range cfg.Users {
		switch g := gate.(type) {
		case *basic.Gate:
			g.AddUser(u.Name, u.Password)
		case *cookie.Gate:
			g.AddUser(u.Name, u.Password)
		}
	}
	restricted := make(map[string]bool, len(cfg.Restricted))
	for _, prefix := range cfg.Restricted {
		restricted[prefix] = true
	}

	for _, svc := range cfg.Services {
		factory, ok := registry[svc.Name]
		if !ok {
			return fmt.Errorf("pion-web: config %s: unknown handler %q for %s", path, svc.Name, svc.Prefix)
		}
		h := factory(svc.Options)
		if restricted[svc.Prefix] && gate != nil {
			srv.AddGatedResource(svc.Prefix, h, gate)
		} else {
			srv.AddResource(svc.Prefix, h)
		}
	}
	if gate != nil {
		srv.SetAuth(gate)
	}
	return nil
}

func parseOptions(raw []string) (map[string]string, error) {
	opts := make(map[string]string, len(raw))
	for _, kv := range raw {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("pion-web: option %q is not NAME=VALUE", kv)
		}
		opts[parts[0]] = parts[1]
	}
	return opts, nil
}
