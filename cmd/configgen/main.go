package main

import (
	"flag"
	"log"

	"github.com/danmuck/stackwire/internal/config"
)

func defaultPath(kind string) string {
	switch kind {
	case "profiles":
		return "cmd/stackctl/profiles.toml"
	case "stackctl":
		return "cmd/stackctl/config.toml"
	}
	log.Fatalf("unknown kind: %s", kind)
	return ""
}

func main() {
	kind := flag.String("kind", "profiles", "config kind: profiles|stackctl")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing profiles file")
	input := flag.String("input", "", "config path for validation (defaults to per-kind cmd path)")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		path := *input
		if path == "" {
			path = defaultPath(*kind)
		}
		if *kind != "profiles" {
			log.Fatalf("validation supports kind=profiles only (stackctl validates its own config)")
		}
		cfg, err := config.LoadProfiles(path)
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated %d profiles at %s (default %q)", len(cfg.Profiles), path, cfg.Default)
		return
	}

	target := *output
	if target == "" {
		target = defaultPath(*kind)
	}
	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *kind, target)
}
