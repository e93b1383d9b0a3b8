package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"tilsynsapp/internal/app"
	"tilsynsapp/internal/config"
	"tilsynsapp/internal/logger"
	"tilsynsapp/internal/remote"
	"tilsynsapp/internal/services"

	"go.uber.org/zap"
)

const (
	exitOK             = 0
	exitFailure        = 1
	exitUpdateRequired = 2
)

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, a *app.App, out io.Writer, args []string) error
}

var commands = []command{
	{"login", "login -email <adresse>", cmdLogin},
	{"logout", "logout", cmdLogout},
	{"status", "status", cmdStatus},
	{"refresh", "refresh", cmdRefresh},
	{"list", "list [-status Ny] [-q tekst] [-lat 56.15 -lon 10.2] [-json]", cmdList},
	{"show", "show -id <id>", cmdShow},
	{"edit", "edit -id <id> [-kvm 12,5] [-type <tilladelsestype>] [-slut dd-mm-åååå] [-status <ny status>]", cmdEdit},
	{"regelrytteren", "regelrytteren [-bikes 1] [-cars 1] [-vejman=true] [-henstillinger=true]", cmdRegelRytteren},
	{"version", "version", cmdVersion},
	{"serve", "serve", cmdServe},
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return exitFailure
	}

	var cmd *command
	for i := range commands {
		if commands[i].name == args[0] {
			cmd = &commands[i]
		}
	}
	if cmd == nil {
		fmt.Fprintf(stderr, "ukendt kommando %q\n\n", args[0])
		usage(stderr)
		return exitFailure
	}

	cfg := config.Load()
	logr := logger.New(cfg)

	a, err := app.New(cfg, logr)
	if err != nil {
		logr.Error("failed to start", zap.Error(err))
		return exitFailure
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cmd.name != "version" {
		if check := a.Version.Check(ctx); check.UpdateRequired {
			fmt.Fprintln(stderr, check.Message)
			return exitUpdateRequired
		}
	}

	if err := cmd.run(ctx, a, stdout, args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitFailure
		}
		fmt.Fprintln(stderr, describeError(err))
		return exitFailure
	}
	return exitOK
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "brug: tilsyn <kommando> [flag]")
	fmt.Fprintln(w)
	for _, c := range commands {
		fmt.Fprintf(w, "  %s\n", c.usage)
	}
}

// describeError turns known failures into the messages the app shows.
func describeError(err error) string {
	var se *remote.StatusError
	switch {
	case errors.Is(err, services.ErrNotLoggedIn), errors.Is(err, remote.ErrNoAPIKey):
		return "Du er ikke logget ind. Brug: tilsyn login -email <adresse>"
	case errors.Is(err, services.ErrNoChanges):
		return "Ingen ændringer at gemme"
	case errors.Is(err, services.ErrRowNotFound):
		return "Sagen blev ikke fundet"
	case errors.As(err, &se):
		return fmt.Sprintf("Fejl: %d - %s", se.Code, se.Status)
	default:
		return err.Error()
	}
}
