package main

import "github.com/tonimelisma/tonies-go/internal/config"

func main() {
	if err := config.LoadDotEnv(config.DotEnvPaths()...); err != nil {
		exitOnError(err)
	}

	if err := newRootCmd().Execute(); err != nil {
		exitOnError(err)
	}
}
