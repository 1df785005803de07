package config

import (
	"flag"
	"os"
)

// parses CLI flags for the status subcommand
func ParseStatusFlags() Flags {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	clientID := fs.String("client", "anonymous", "client id whose usage to show")
	asJSON := fs.Bool("json", false, "print raw JSON")
	fs.Parse(subcommandArgs()) //nolint:errcheck,gosec // G104: ExitOnError flag set handles errors

	return Flags{ClientID: *clientID, JSON: *asJSON}
}

// parses CLI flags for the reset subcommand
func ParseResetFlags() Flags {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	clientID := fs.String("client", "anonymous", "client id whose usage to reset")
	fs.Parse(subcommandArgs()) //nolint:errcheck,gosec // G104: ExitOnError flag set handles errors

	return Flags{ClientID: *clientID}
}

// parses CLI flags for the search subcommand
func ParseSearchFlags() Flags {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	query := fs.String("q", "", "image search query")
	language := fs.String("lang", "en", "target language of the lesson")
	asJSON := fs.Bool("json", false, "print raw JSON")
	fs.Parse(subcommandArgs()) //nolint:errcheck,gosec // G104: ExitOnError flag set handles errors

	return Flags{Query: *query, Language: *language, JSON: *asJSON}
}

func subcommandArgs() []string {
	if len(os.Args) < 3 {
		return nil
	}

	return os.Args[2:]
}
