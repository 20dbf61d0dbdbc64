package main

import (
	"os"

	"github.com/sandeepkv93/idp-session-core/internal/tools/sessionctl"
)

func main() {
	if err := sessionctl.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
