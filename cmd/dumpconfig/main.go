package main

import (
	"flag"
	"log"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ncecere/sophnet_gateway/internal/config"
)

func main() {
	configFile := flag.String("config", "", "path to sophnet.yaml (defaults to the usual search path)")
	envFile := flag.String("env", "", "path to a .env file")
	flag.Parse()

	cfg, err := config.Load(config.Options{ConfigFile: *configFile, EnvFile: *envFile})
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	settings, err := cfg.Redacted().Settings()
	if err != nil {
		log.Fatalf("render config: %v", err)
	}

	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(settings); err != nil {
		log.Fatalf("encode config: %v", err)
	}
	_ = enc.Close()
}
