package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gonzalop/bbdl"
	"github.com/gonzalop/bbdl/internal/ftpcontainer"
	"github.com/gonzalop/bbdl/internal/logging"
	"github.com/gonzalop/bbdl/internal/scheduler"
	"github.com/gonzalop/bbdl/internal/store"
	"github.com/gonzalop/bbdl/mockserver"
	"github.com/rs/zerolog"
)

const dateLayout = "2006-01-02"

// splitList splits a comma separated flag value, dropping empty items.
func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", s)
	}
	return t, nil
}

// clientFlags are shared by request and schedule.
type clientFlags struct {
	config  *string
	key     *string
	catalog *string
	db      *string
	bwlimit *int64
}

func addClientFlags(fs *flag.FlagSet) clientFlags {
	return clientFlags{
		config:  fs.String("config", "bbdl.yaml", "YAML settings file"),
		key:     fs.String("key", "bbg.data.ftp", "settings block inside the config file"),
		catalog: fs.String("catalog", "", "fields.csv to use instead of the embedded catalog"),
		db:      fs.String("db", "", "SQLite file the results are saved to"),
		bwlimit: fs.Int64("bwlimit", 0, "transfer bandwidth limit in bytes per second (0: none)"),
	}
}

func (f clientFlags) client(log zerolog.Logger) (*bbdl.Client, error) {
	cfg, err := bbdl.LoadConfig(*f.config)
	if err != nil {
		return nil, err
	}
	if err := cfg.LoadEnv(bbdl.EnvPrefix); err != nil {
		return nil, err
	}
	cfg.Lock()

	opts := []bbdl.Option{
		bbdl.WithLogger(logging.Slog(log)),
		bbdl.WithProgress(func(name string, n int64) {
			log.Debug().Str("file", name).Int64("bytes", n).Msg("Transfer progress")
		}),
		bbdl.WithBandwidthLimit(*f.bwlimit),
	}
	if *f.catalog != "" {
		catalog, err := bbdl.LoadCatalogFile(*f.catalog)
		if err != nil {
			return nil, err
		}
		opts = append(opts, bbdl.WithCatalog(catalog))
	}
	return bbdl.NewFromConfig(cfg, *f.key, opts...)
}

func (f clientFlags) store(ctx context.Context) (*store.Store, error) {
	if *f.db == "" {
		return nil, nil
	}
	return store.New(ctx, *f.db)
}

func runRequest(ctx context.Context, log zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("request", flag.ExitOnError)
	cf := addClientFlags(fs)
	ids := fs.String("ids", "", "comma separated identifiers, e.g. 'IBM US Equity,88160RAG6|CUSIP'")
	fields := fs.String("fields", "", "comma separated field mnemonics")
	categories := fs.String("categories", "", "comma separated categories the fields are limited to")
	bval := fs.Bool("bval", false, "request BVAL pricing")
	beg := fs.String("beg", "", "history start date (YYYY-MM-DD)")
	end := fs.String("end", "", "history end date (YYYY-MM-DD)")
	noOpen := fs.Bool("no-open", false, "do not allow open fields outside the categories")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var opts []bbdl.RequestOption
	if *bval {
		opts = append(opts, bbdl.WithBVAL())
	}
	if *noOpen {
		opts = append(opts, bbdl.WithoutOpenFields())
	}
	begDate, err := parseDate(*beg)
	if err != nil {
		return err
	}
	endDate, err := parseDate(*end)
	if err != nil {
		return err
	}
	if !begDate.IsZero() || !endDate.IsZero() {
		opts = append(opts, bbdl.WithDateRange(begDate, endDate))
	}

	client, err := cf.client(log)
	if err != nil {
		return err
	}
	defer client.Close()

	res, err := client.Request(ctx, splitList(*ids), splitList(*fields), splitList(*categories), opts...)
	if err != nil {
		return err
	}
	log.Info().
		Str("request_id", res.RequestID).
		Int("records", len(res.Data)).
		Int("errors", len(res.Errors)).
		Msg("Request completed")

	db, err := cf.store(ctx)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
		if _, err := db.Save(ctx, res, time.Now()); err != nil {
			return err
		}
	}
	return writeJSON(os.Stdout, res)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runFields(_ context.Context, _ zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("fields", flag.ExitOnError)
	catalogPath := fs.String("catalog", "", "fields.csv to use instead of the embedded catalog")
	categories := fs.String("categories", "", "comma separated categories to list fields from")
	invert := fs.Bool("invert", false, "list fields outside the categories")
	breakdown := fs.String("breakdown", "", "comma separated fields to group by category")
	if err := fs.Parse(args); err != nil {
		return err
	}

	catalog := bbdl.DefaultCatalog()
	if *catalogPath != "" {
		var err error
		if catalog, err = bbdl.LoadCatalogFile(*catalogPath); err != nil {
			return err
		}
	}

	switch {
	case *breakdown != "":
		return writeJSON(os.Stdout, catalog.ToCategories(splitList(*breakdown)))
	case *categories != "":
		for _, f := range catalog.FromCategories(splitList(*categories), *invert) {
			fmt.Println(f)
		}
	default:
		for _, c := range catalog.Categories() {
			fmt.Println(c)
		}
	}
	return nil
}

func runSchedule(ctx context.Context, log zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("schedule", flag.ExitOnError)
	cf := addClientFlags(fs)
	jobsPath := fs.String("jobs", "jobs.yaml", "YAML file listing the jobs")
	once := fs.Bool("once", false, "run every job once and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	specs, err := scheduler.LoadJobs(*jobsPath)
	if err != nil {
		return err
	}
	client, err := cf.client(log)
	if err != nil {
		return err
	}
	defer client.Close()

	db, err := cf.store(ctx)
	if err != nil {
		return err
	}
	var saver scheduler.Saver
	if db != nil {
		defer db.Close()
		saver = db
	}

	s := scheduler.New(log)
	var errs []error
	for _, spec := range specs {
		job := &scheduler.RequestJob{Spec: spec, Client: client, Store: saver}
		if *once {
			errs = append(errs, s.RunNow(job))
			continue
		}
		if err := s.AddJob(spec.Schedule, job); err != nil {
			return fmt.Errorf("job %s: %w", spec.Name, err)
		}
	}
	if *once {
		return errors.Join(errs...)
	}

	s.Start()
	<-ctx.Done()
	s.Stop()
	return nil
}

func runMockServer(ctx context.Context, log zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("mock-server", flag.ExitOnError)
	addr := fs.String("addr", ":2121", "listen address")
	root := fs.String("root", "", "directory served (default: a temporary directory)")
	user := fs.String("user", "foo", "FTP user")
	pass := fs.String("pass", "bar", "FTP password")
	delay := fs.Duration("delay", 0, "delay before a reply is written")
	if err := fs.Parse(args); err != nil {
		return err
	}

	opts := []mockserver.Option{
		mockserver.WithCredentials(*user, *pass),
		mockserver.WithDelay(*delay),
		mockserver.WithLogger(logging.Slog(log)),
	}
	if *root != "" {
		opts = append(opts, mockserver.WithRoot(*root))
	}
	srv, err := mockserver.New(opts...)
	if err != nil {
		return err
	}
	if err := srv.Start(*addr); err != nil {
		return err
	}
	log.Info().
		Str("addr", srv.Addr()).
		Str("root", srv.Root()).
		Str("user", *user).
		Msg("Mock Data License server started")

	<-ctx.Done()
	log.Info().Msg("Shutting down mock server")
	return srv.Close()
}

func runFTPServer(ctx context.Context, log zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("ftp-server", flag.ExitOnError)
	user := fs.String("user", "foo", "FTP user")
	pass := fs.String("pass", "bar", "FTP password")
	dir := fs.String("dir", "", "host directory mounted at /data (default: the system temp dir)")
	name := fs.String("name", "ftp_server", "container name")
	printOnly := fs.Bool("print", false, "print the equivalent docker command and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := ftpcontainer.Config{User: *user, Pass: *pass, DataDir: *dir, Name: *name}
	if *printOnly {
		dockerArgs, err := ftpcontainer.DockerArgs(cfg)
		if err != nil {
			return err
		}
		fmt.Println("docker " + strings.Join(dockerArgs, " "))
		return nil
	}

	c, err := ftpcontainer.Start(ctx, cfg)
	if err != nil {
		return err
	}
	log.Info().
		Str("image", ftpcontainer.Image).
		Str("data", c.DataDir()).
		Str("addr", c.Settings().Addr()).
		Msg("FTP server container started")

	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return c.Terminate(stopCtx)
}

func runUpdateFields(_ context.Context, log zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("update-fields", flag.ExitOnError)
	in := fs.String("in", "", "Bloomberg's full fields.csv")
	out := fs.String("out", filepath.Join("assets", "fields.csv"), "simplified catalog written here")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return errors.New("-in is required")
	}

	src, err := os.Open(*in)
	if err != nil {
		return err
	}
	defer src.Close()

	tmp := *out + ".tmp"
	dst, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := bbdl.SimplifyCatalog(src, dst); err != nil {
		dst.Close()
		os.Remove(tmp)
		return err
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, *out); err != nil {
		return err
	}

	catalog, err := bbdl.LoadCatalogFile(*out)
	if err != nil {
		return err
	}
	log.Info().Str("file", *out).Int("fields", catalog.Len()).Msg("Field catalog updated")
	return nil
}
