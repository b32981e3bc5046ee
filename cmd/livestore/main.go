package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/roach88/livestore/internal/cli"
)

// Version may be set at build time via -ldflags "-X main.Version=...".
var Version = "dev"

func effectiveVersion() string {
	if Version != "dev" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return Version
}

func main() {
	root := cli.NewRootCommand()
	root.Version = effectiveVersion()

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
