// Command abpfilter matches requests and documents against Adblock Plus filter
// lists.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/abpkit/abpfilter"
	"github.com/abpkit/abpfilter/filterlist"
	"github.com/abpkit/abpfilter/internal/statestore"
	"github.com/abpkit/abpfilter/rules"
	goFlags "github.com/jessevdk/go-flags"
)

// options are the global command-line options.
type options struct {
	// ConfigPath is the path to the YAML configuration file.
	ConfigPath string `short:"c" long:"config" description:"Path to the YAML configuration file (optional)."`

	// StateDB is the path to the rule state database.
	StateDB string `short:"s" long:"state-db" description:"Path to the rule state database (optional)."`

	// Filters are the paths to the filter lists.
	Filters []string `short:"f" long:"filter" description:"Path to the filter list. Can be specified multiple times."`

	// IgnoreCosmetic makes the lists skip content rules.
	IgnoreCosmetic bool `long:"ignore-cosmetic" description:"Skip element hiding and snippet rules."`

	// Verbose enables debug logging.
	Verbose bool `short:"v" long:"verbose" description:"Verbose output (optional)."`
}

func main() {
	opts := &options{}
	parser := goFlags.NewParser(opts, goFlags.Default)

	addCommand(parser, "match", "Match a request", &matchCommand{opts: opts})
	addCommand(parser, "css", "Print the element hiding style sheet", &cssCommand{opts: opts})
	addCommand(parser, "check", "Report invalid rules", &checkCommand{opts: opts})
	addCommand(parser, "watch", "Reload lists on change and serve metrics", &watchCommand{opts: opts})

	_, err := parser.Parse()
	if err == nil {
		return
	}

	if flagsErr, ok := err.(*goFlags.Error); ok && flagsErr.Type == goFlags.ErrHelp {
		os.Exit(0)
	}

	var exitErr exitCodeError
	if errors.As(err, &exitErr) {
		os.Exit(int(exitErr))
	}

	// goFlags.Default prints parsing errors, but not the errors of commands.
	if _, ok := err.(*goFlags.Error); !ok {
		_, _ = fmt.Fprintln(os.Stderr, err)
	}

	os.Exit(1)
}

// addCommand adds a command to the parser and panics on errors.
func addCommand(parser *goFlags.Parser, name, short string, cmd goFlags.Commander) {
	_, err := parser.AddCommand(name, short, "", cmd)
	if err != nil {
		panic(fmt.Errorf("adding command %q: %w", name, err))
	}
}

// exitCodeError is returned by commands to exit with a status code without
// printing an error.
type exitCodeError int

// Error implements the error interface for exitCodeError.
func (e exitCodeError) Error() (msg string) {
	return fmt.Sprintf("exit code %d", int(e))
}

// environment is the engine with the lists and the state store built from the
// options.
type environment struct {
	logger  *slog.Logger
	conf    *fileConfig
	engine  *abpfilter.Engine
	storage *filterlist.RuleStorage
	lists   []*filterlist.FileRuleList
	store   *statestore.Store
}

// newEnvironment reads the configuration and opens the lists.  The lists are
// not loaded into the engine.
func newEnvironment(ctx context.Context, opts *options) (env *environment, err error) {
	conf := &fileConfig{}
	if opts.ConfigPath != "" {
		conf, err = readConfig(opts.ConfigPath)
		if err != nil {
			return nil, err
		}
	}

	conf.merge(opts)
	if len(conf.Filters) == 0 {
		return nil, errors.Error("no filter lists")
	}

	level := slog.LevelInfo
	if conf.Verbose {
		level = slog.LevelDebug
	}

	env = &environment{
		logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})),
		conf:   conf,
	}

	var sink rules.StateSink
	if conf.StateDB != "" {
		env.store, err = statestore.Open(ctx, &statestore.Config{
			Logger: env.logger.With(slogutil.KeyPrefix, "statestore"),
			Path:   conf.StateDB,
		})
		if err != nil {
			return nil, err
		}

		sink = env.store
	}

	env.engine = abpfilter.NewEngine(&abpfilter.Config{
		StateSink:           sink,
		ResultCacheSize:     conf.ResultCacheSize,
		StyleSheetCacheSize: conf.StyleSheetCacheSize,
	})

	if env.store != nil {
		var n int
		n, err = env.store.Load(ctx, env.engine)
		if err != nil {
			return nil, errors.WithDeferred(err, env.close())
		}

		env.logger.DebugContext(ctx, "restored rule states", "count", n)
	}

	err = env.openLists()
	if err != nil {
		return nil, errors.WithDeferred(err, env.close())
	}

	return env, nil
}

// openLists opens the filter list files.  The list identifiers are the
// positions of the paths starting from 1.
func (env *environment) openLists() (err error) {
	lists := make([]filterlist.RuleList, 0, len(env.conf.Filters))
	for i, path := range env.conf.Filters {
		var l *filterlist.FileRuleList
		l, err = filterlist.NewFileRuleList(i+1, path, env.conf.IgnoreCosmetic)
		if err != nil {
			return err
		}

		env.lists = append(env.lists, l)
		lists = append(lists, l)
	}

	env.storage, err = filterlist.NewRuleStorage(lists)

	return err
}

// load loads all lists into the engine and logs the invalid rules.
func (env *environment) load(ctx context.Context) (err error) {
	res, err := env.engine.LoadStorage(env.storage)
	if err != nil {
		return fmt.Errorf("loading lists: %w", err)
	}

	for _, r := range res.Invalid {
		env.logger.DebugContext(ctx, "invalid rule", "rule", r.Text, slogutil.KeyError, r.Reason)
	}

	env.logger.DebugContext(ctx, "loaded lists", "rules", res.Added, "invalid", len(res.Invalid))

	return nil
}

// close closes the lists and the state store.
func (env *environment) close() (err error) {
	var errs []error
	if env.storage != nil {
		errs = append(errs, env.storage.Close())
	} else {
		for _, l := range env.lists {
			errs = append(errs, l.Close())
		}
	}

	if env.store != nil {
		errs = append(errs, env.store.Close())
	}

	return errors.Join(errs...)
}
