package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/abpkit/abpfilter"
	"github.com/abpkit/abpfilter/filterlist"
	"github.com/abpkit/abpfilter/filterstats"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// matchCommand matches a request against the URL rules.
type matchCommand struct {
	opts *options

	URL          string `short:"u" long:"url" description:"URL of the request." required:"true"`
	Domain       string `short:"d" long:"domain" description:"Hostname of the document making the request."`
	Types        string `short:"t" long:"type" description:"Comma-separated content types of the request." default:"other"`
	Sitekey      string `short:"k" long:"sitekey" description:"Sitekey of the document."`
	SpecificOnly bool   `long:"specific-only" description:"Ignore generic blocking rules."`
}

// Execute implements the [goFlags.Commander] interface for *matchCommand.  It
// prints the verdict and the deciding rule.
func (c *matchCommand) Execute(_ []string) (err error) {
	err = validateDomain(c.Domain)
	if err != nil {
		return err
	}

	mask, err := parseTypes(c.Types)
	if err != nil {
		return err
	}

	ctx := context.Background()
	env, err := newEnvironment(ctx, c.opts)
	if err != nil {
		return err
	}
	defer func() { err = errors.WithDeferred(err, env.close()) }()

	err = env.load(ctx)
	if err != nil {
		return err
	}

	r := env.engine.Match(abpfilter.Query{
		URL:            c.URL,
		DocumentDomain: c.Domain,
		Sitekey:        c.Sitekey,
		TypeMask:       mask,
		SpecificOnly:   c.SpecificOnly,
	})
	if r == nil {
		_, err = fmt.Println("no match")

		return err
	}

	env.engine.RegisterHit(r.Text)
	_, err = fmt.Printf("%s\t%s\n", r.Kind, r.Text)

	return err
}

// cssCommand prints the element hiding style sheet for a domain.
type cssCommand struct {
	opts *options

	Domain       string `short:"d" long:"domain" description:"Hostname of the document." required:"true"`
	SpecificOnly bool   `long:"specific-only" description:"Ignore generic element hiding rules."`
	Exceptions   bool   `long:"exceptions" description:"Print the applied exceptions as comments."`
}

// Execute implements the [goFlags.Commander] interface for *cssCommand.
func (c *cssCommand) Execute(_ []string) (err error) {
	err = validateDomain(c.Domain)
	if err != nil {
		return err
	}

	ctx := context.Background()
	env, err := newEnvironment(ctx, c.opts)
	if err != nil {
		return err
	}
	defer func() { err = errors.WithDeferred(err, env.close()) }()

	err = env.load(ctx)
	if err != nil {
		return err
	}

	ss := env.engine.StyleSheet(c.Domain, abpfilter.StyleSheetOptions{
		SpecificOnly:      c.SpecificOnly,
		IncludeExceptions: c.Exceptions,
	})

	for _, exc := range ss.Exceptions {
		_, err = fmt.Printf("/* %s */\n", exc.Text)
		if err != nil {
			return err
		}
	}

	for _, r := range env.engine.EmulationRules(c.Domain) {
		_, err = fmt.Printf("/* emulation: %s */\n", r.Body)
		if err != nil {
			return err
		}
	}

	_, err = fmt.Print(ss.CSS)

	return err
}

// checkCommand reports the invalid rules of the lists.
type checkCommand struct {
	opts *options
}

// Execute implements the [goFlags.Commander] interface for *checkCommand.  It
// exits with status 2 if there are invalid rules.
func (c *checkCommand) Execute(_ []string) (err error) {
	ctx := context.Background()
	env, err := newEnvironment(ctx, c.opts)
	if err != nil {
		return err
	}
	defer func() { err = errors.WithDeferred(err, env.close()) }()

	var total, invalid int
	sc := env.storage.NewRuleStorageScanner(nil)
	for sc.Scan() {
		r, idx := sc.Rule()
		total++
		if r.Reason == nil {
			continue
		}

		invalid++
		listID, offset := filterlist.StorageIdxToRuleListIdx(idx)
		_, err = fmt.Printf(
			"%s:%d: %s: %s\n",
			env.conf.Filters[listID-1],
			offset,
			r.Reason,
			r.Text,
		)
		if err != nil {
			return err
		}
	}

	err = sc.Err()
	if err != nil {
		return err
	}

	_, err = fmt.Printf("%d rules, %d invalid\n", total, invalid)
	if err == nil && invalid > 0 {
		err = exitCodeError(2)
	}

	return err
}

// watchCommand keeps the lists loaded, reloads them on change and serves the
// metrics.
type watchCommand struct {
	opts *options

	ListenAddr string        `short:"l" long:"listen" description:"Address of the metrics server." default:"127.0.0.1:9090"`
	Debounce   time.Duration `long:"debounce" description:"Delay before reloading a changed list." default:"100ms"`
}

// Execute implements the [goFlags.Commander] interface for *watchCommand.
func (c *watchCommand) Execute(_ []string) (err error) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	env, err := newEnvironment(ctx, c.opts)
	if err != nil {
		return err
	}
	defer func() { err = errors.WithDeferred(err, env.close()) }()

	err = env.load(ctx)
	if err != nil {
		return err
	}

	w, err := filterlist.NewWatcher(&filterlist.WatcherConfig{
		Logger:   env.logger.With(slogutil.KeyPrefix, "watcher"),
		Loader:   env.engine,
		Lists:    env.lists,
		Debounce: c.Debounce,
	})
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(filterstats.New(&filterstats.Config{Source: env.engine}))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              c.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		env.logger.InfoContext(ctx, "serving metrics", "addr", c.ListenAddr)
		if serr := srv.ListenAndServe(); !errors.Is(serr, http.ErrServerClosed) {
			env.logger.ErrorContext(ctx, "serving metrics", slogutil.KeyError, serr)
			cancel()
		}
	}()

	err = w.Run(ctx)
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	return errors.Join(err, srv.Shutdown(shutdownCtx), w.Close())
}
