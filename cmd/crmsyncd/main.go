package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"go.uber.org/fx"
	"go.uber.org/zap/zapcore"

	"github.com/matheus3301/crmsync/internal/daemon"
	"github.com/matheus3301/crmsync/internal/profile"
)

func main() {
	profileFlag := pflag.StringP("profile", "p", "", "profile name (overrides config default)")
	socketFlag := pflag.String("socket", "", "local API socket path (overrides profile setting)")
	levelFlag := pflag.String("log-level", "info", "log level: debug, info, warn, error")
	pflag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	level, err := zapcore.ParseLevel(*levelFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{
			ProfileName: profileName,
			SocketPath:  *socketFlag,
			LogLevel:    level,
		}),
	)

	app.Run()
}
