// Command sublight searches subtitle providers and downloads the best
// rated subtitles for your videos.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"github.com/sublight/sublight/internal/api"
	"github.com/sublight/sublight/internal/config"
	"github.com/sublight/sublight/internal/engine"
	"github.com/sublight/sublight/internal/language"
	"github.com/sublight/sublight/internal/provider/pool"
	"github.com/sublight/sublight/internal/scanner"
	"github.com/sublight/sublight/internal/video"
	"github.com/sublight/sublight/internal/watcher"

	// Providers and refiners register themselves.
	_ "github.com/sublight/sublight/internal/provider/gestdown"
	_ "github.com/sublight/sublight/internal/provider/napiprojekt"
	_ "github.com/sublight/sublight/internal/provider/opensubtitles"
	_ "github.com/sublight/sublight/internal/provider/podnapisi"
	_ "github.com/sublight/sublight/internal/provider/tvsubtitles"
	_ "github.com/sublight/sublight/internal/refiner/omdb"
	_ "github.com/sublight/sublight/internal/refiner/tmdb"
	_ "github.com/sublight/sublight/internal/refiner/tvdb"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	// A local .env feeds the SUBLIGHT_ environment overrides, so
	// provider credentials can stay out of the config file.
	_ = godotenv.Load()

	cmd := "download"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "download":
		return runDownload(args)
	case "serve":
		return runServe(args)
	case "watch":
		return runWatch(args)
	case "history":
		return runHistory(args)
	case "version":
		fmt.Println(config.Version)
		return 0
	case "help":
		usage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		usage()
		return 2
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `Usage: sublight [command] [flags] [paths...]

Commands:
  download   Download the best subtitles for the given paths (default)
  serve      Run the HTTP API
  watch      Periodically scan directories and download subtitles
  history    Show recent downloads
  version    Print the version

Run 'sublight <command> -h' for command flags.
`)
}

func parseFlags(fs *flag.FlagSet, args []string) (int, bool) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0, false
		}
		return 2, false
	}
	return 0, true
}

func runDownload(args []string) int {
	fs := flag.NewFlagSet("download", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config file")
	languages := fs.String("languages", "", "comma-separated languages, overrides config")
	minScore := fs.Int("min-score", 0, "minimum score as a percentage (0-100)")
	age := fs.Duration("age", 0, "only handle videos newer than this age, e.g. 168h")
	force := fs.Bool("force", false, "redownload even when subtitles exist")
	onlyOne := fs.Bool("only-one", false, "download a single best subtitle per video")
	directory := fs.String("directory", "", "save subtitles into this directory")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	paths := fs.Args()
	if len(paths) == 0 {
		fmt.Fprintln(os.Stderr, "no paths given")
		return 2
	}

	a, err := newApp(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer a.close()

	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	opts := a.options()
	if set["min-score"] {
		opts.MinScore = *minScore
	}
	if set["age"] {
		opts.Age = *age
	}
	if set["force"] {
		opts.Force = *force
	}
	if set["only-one"] {
		opts.OnlyOne = *onlyOne
	}
	if set["directory"] {
		opts.Directory = *directory
	}

	langs, err := a.languages()
	if set["languages"] {
		langs, err = language.ParseSet(strings.Split(*languages, ","))
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	videos, err := collectVideos(paths)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if len(videos) == 0 {
		fmt.Println("No videos found")
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := a.engine.DownloadBestSubtitles(ctx, videos, langs, opts)
	if result != nil {
		printResult(result)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return engine.ExitCode(result, len(videos))
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config file")
	host := fs.String("host", "", "bind address, overrides config")
	port := fs.Int("port", 0, "listen port, overrides config")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	a, err := newApp(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer a.close()

	if *host != "" {
		a.cfg.Server.Host = *host
	}
	if *port != 0 {
		a.cfg.Server.Port = *port
	}

	pl, err := pool.New(a.poolConfig(), a.cache, a.log.Logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	server := api.NewServer(a.cfg, a.engine, pl, a.hist, a.notifier, a.log.Logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(a.cfg.Server.Address())
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error().Err(err).Msg("server failed")
			return 1
		}
	case <-sigCh:
		a.log.Info().Msg("received shutdown signal")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			a.log.Error().Err(err).Msg("server shutdown error")
		}
	}
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config file")
	interval := fs.Duration("interval", 0, "scan interval, overrides config")
	jitter := fs.Duration("jitter", 0, "random delay added to each interval")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	a, err := newApp(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer a.close()

	dirs := fs.Args()
	if len(dirs) == 0 {
		dirs = a.cfg.Watch.Directories
	}
	cfg := watcher.Config{
		Directories: dirs,
		Interval:    a.cfg.Watch.Interval,
		Jitter:      a.cfg.Watch.Jitter,
		Options:     a.options(),
		Notifier:    a.notifier,
	}
	if *interval > 0 {
		cfg.Interval = *interval
	}
	if *jitter > 0 {
		cfg.Jitter = *jitter
	}
	cfg.Languages, err = a.languages()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	w, err := watcher.New(cfg, a.engine, a.log.Logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if err := w.Start(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	if err := w.Stop(); err != nil {
		a.log.Error().Err(err).Msg("watcher shutdown error")
	}
	return 0
}

func runHistory(args []string) int {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config file")
	limit := fs.Int("limit", 20, "number of entries to show")
	videoPath := fs.String("video", "", "show downloads for this video only")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	a, err := newApp(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer a.close()

	if a.hist == nil {
		fmt.Fprintln(os.Stderr, "history is disabled (history.path is empty)")
		return 1
	}

	ctx := context.Background()
	entries, err := a.hist.Recent(ctx, *limit)
	if *videoPath != "" {
		entries, err = a.hist.ForVideo(ctx, *videoPath)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if len(entries) == 0 {
		fmt.Println("No downloads recorded")
		return 0
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tPROVIDER\tLANGUAGE\tSCORE\tVIDEO")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			e.DownloadedAt.Local().Format("2006-01-02 15:04"),
			e.Provider, e.Language, e.Score, e.VideoPath)
	}
	w.Flush()
	return 0
}

// collectVideos expands the path arguments: directories are walked
// recursively, files must be videos.
func collectVideos(paths []string) ([]*video.Video, error) {
	var videos []*video.Video
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			found, err := video.ScanDirectory(path)
			if err != nil {
				return nil, err
			}
			videos = append(videos, found...)
			continue
		}
		if !scanner.IsVideoFile(path) {
			return nil, fmt.Errorf("%s is not a video file", path)
		}
		v, err := video.Scan(path)
		if err != nil {
			return nil, err
		}
		videos = append(videos, v)
	}
	return videos, nil
}

func printResult(result engine.Result) {
	names := make([]string, 0, len(result))
	byName := make(map[string][]string)
	for v, subs := range result {
		if len(subs) == 0 {
			continue
		}
		names = append(names, v.Name)
		for _, s := range subs {
			byName[v.Name] = append(byName[v.Name], s.String())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		fmt.Println(name)
		for _, s := range byName[name] {
			fmt.Printf("  %s\n", s)
		}
	}
	if total := result.Count(); total == 0 {
		fmt.Println("No subtitles downloaded")
	} else {
		fmt.Printf("Downloaded %d subtitle(s) for %d video(s)\n", total, len(names))
	}
}
