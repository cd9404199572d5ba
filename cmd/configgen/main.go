package main

import (
	"flag"
	"log"

	"github.com/danmuck/rsockcore/internal/config"
)

const defaultPath = "cmd/rrctl/config.toml"

func main() {
	kind := flag.String("kind", config.RoleServer, "config kind: client|server")
	output := flag.String("output", defaultPath, "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", defaultPath, "config path for validation")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		cfg, err := config.Load(*input)
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated %s config at %s", cfg.Role, *input)
		return
	}

	if err := config.WriteTemplate(*output, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *kind, *output)
}
