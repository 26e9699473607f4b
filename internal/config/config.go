// Package config loads the process-wide configuration (via
// github.com/ardanlabs/conf, the pattern OpenTransitTools-transitcast's
// app/gtfs-monitor/main.go uses) and decodes each network's own
// config.json (spec.md Section 6).
package config

import (
	"fmt"
	"os"

	"github.com/ardanlabs/conf"
)

// Global is the process-wide configuration: the HTTP port and the
// directories holding per-network config and cache state.
type Global struct {
	conf.Version
	Args conf.Args

	Web struct {
		Port int `conf:"default:3000"`
	}
	Paths struct {
		RailNetworksDir string `conf:"default:railNetworks"`
		CacheDir        string `conf:"default:cache"`
	}
}

const confPrefix = "LTM"

// ParseGlobal parses args into a Global config. A help or version request
// is printed and the process exits 0, matching conf.Parse's conventional
// caller pattern.
func ParseGlobal(build string, args []string) (*Global, error) {
	var cfg Global
	cfg.Version.SVN = build
	cfg.Version.Desc = "Live-tracking middleware for transit real-time feeds"

	if err := conf.Parse(args, confPrefix, &cfg); err != nil {
		switch err {
		case conf.ErrHelpWanted:
			usage, uerr := conf.Usage(confPrefix, &cfg)
			if uerr != nil {
				return nil, fmt.Errorf("config: generating usage: %w", uerr)
			}
			fmt.Fprintln(os.Stdout, usage)
			os.Exit(0)
		case conf.ErrVersionWanted:
			version, verr := conf.VersionString(confPrefix, &cfg)
			if verr != nil {
				return nil, fmt.Errorf("config: generating version string: %w", verr)
			}
			fmt.Fprintln(os.Stdout, version)
			os.Exit(0)
		default:
			return nil, fmt.Errorf("config: parsing: %w", err)
		}
	}
	return &cfg, nil
}
