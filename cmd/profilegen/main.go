// Command profilegen writes a non-removable configuration profile for a supervised device.
// The desktop helper installs its output after placing the device in supervised mode.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/altrii/altrii/internal/app"
	"github.com/altrii/altrii/internal/blocking"
	"github.com/altrii/altrii/internal/profile"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
	deviceID   string
	deviceName string
	email      string
	categories string
	allow      string
	out        string
}

func run(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("altrii-profilegen", flag.ContinueOnError)
	fs.SetOutput(stdout)

	var opts options
	fs.StringVar(&opts.configPath, "config", "", "Configuration directory (profile and signing settings)")
	fs.StringVar(&opts.deviceID, "device-id", "", "Device identifier (UDID or registered device id)")
	fs.StringVar(&opts.deviceName, "device-name", "", "Human readable device name")
	fs.StringVar(&opts.email, "email", "", "Owner email shown in the profile description")
	fs.StringVar(&opts.categories, "categories", "adult", "Comma separated categories to block ("+strings.Join(blocking.CategoryNames(), ", ")+")")
	fs.StringVar(&opts.allow, "allow", "", "Comma separated domains that are always allowed")
	fs.StringVar(&opts.out, "out", "", "Output file; defaults to a name derived from the device name, - for stdout")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}

	settings, err := parseSettings(opts.categories, opts.allow)
	if err != nil {
		return err
	}

	resolver := blocking.NewResolver(nil)
	if path := strings.TrimSpace(cfg.Blocking.CategoriesFile); path != "" {
		registry, err := blocking.LoadRegistry(path)
		if err != nil {
			return err
		}
		resolver = blocking.NewResolver(registry)
	}

	doc, err := profile.NewBuilder(cfg.Profile.BuilderConfig()).Build(profile.Input{
		DeviceID:            opts.deviceID,
		DeviceName:          opts.deviceName,
		OwnerEmail:          opts.email,
		Resolved:            resolver.Resolve(settings),
		Removable:           false,
		IncludeRestrictions: true,
	})
	if err != nil {
		return err
	}

	body, err := profile.Encode(doc)
	if err != nil {
		return err
	}

	var signer profile.Signer = profile.NopSigner{}
	if cfg.Profile.Signing.Enabled() {
		if signer, err = profile.LoadCMSSigner(cfg.Profile.Signing.CertFile, cfg.Profile.Signing.KeyFile); err != nil {
			return err
		}
	}
	if body, err = signer.Sign(body); err != nil {
		return err
	}

	out := strings.TrimSpace(opts.out)
	if out == "-" {
		_, err = stdout.Write(body)
		return err
	}
	if out == "" {
		out = profile.Filename(opts.deviceName)
	}
	if err := os.WriteFile(out, body, 0o600); err != nil {
		return fmt.Errorf("write profile: %w", err)
	}
	fmt.Fprintf(stdout, "wrote %s (signed=%t)\n", out, signer.Signed())
	return nil
}

func loadConfig(path string) (*app.Config, error) {
	if strings.TrimSpace(path) == "" {
		return app.LoadConfig()
	}
	return app.LoadConfig(path)
}

// parseSettings turns the flag values into blocking settings; unknown categories are rejected.
func parseSettings(categories, allow string) (blocking.Settings, error) {
	settings := blocking.Settings{CustomAllowedDomains: []string{}}

	for _, name := range splitList(categories) {
		category := blocking.Category(strings.ToLower(name))
		switch category {
		case blocking.CategoryAdult:
			settings.Adult = true
		case blocking.CategorySocial:
			settings.Social = true
		case blocking.CategoryGambling:
			settings.Gambling = true
		default:
			return settings, fmt.Errorf("unknown category %q (known: %s)", name, strings.Join(blocking.CategoryNames(), ", "))
		}
	}

	for _, raw := range splitList(allow) {
		domain, ok := blocking.Normalize(raw)
		if !ok {
			return settings, fmt.Errorf("invalid allowed domain %q", raw)
		}
		settings.CustomAllowedDomains = append(settings.CustomAllowedDomains, domain)
	}
	return settings.Normalized(), nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
