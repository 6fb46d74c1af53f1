package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/rater/internal/blind"
	"github.com/pavelanni/rater/internal/dataset"
	"github.com/pavelanni/rater/internal/handler"
	appI18n "github.com/pavelanni/rater/internal/i18n"
	"github.com/pavelanni/rater/internal/metrics"
	"github.com/pavelanni/rater/internal/model"
	"github.com/pavelanni/rater/internal/persist"
	"github.com/pavelanni/rater/internal/remote"
	"github.com/pavelanni/rater/internal/seed"
	"github.com/pavelanni/rater/internal/session"
	"github.com/pavelanni/rater/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "rater",
		Short: "Blinded rating of model outputs over deterministic per-rater samples",
	}

	serve := serveCmd()
	root.AddCommand(serve, exportCmd(), sampleCmd(), seedCmd(), resetCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `rater --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP rating server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.StringP("lang", "l", "en", "Default message language (en, tr)")
	f.Duration("autosave-interval", 30*time.Second, "Interval between local snapshots of live sessions (0 = only on shutdown)")
	addStoreFlags(cmd)
	addLogFlags(cmd)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export rating results as JSON",
		Long:  "Export one rater's results, or every session in the local cache when --user is omitted.",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.StringP("user", "u", "", "Rater user ID")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addStoreFlags(cmd)
	addLogFlags(cmd)
	return cmd
}

func sampleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Print the cases and blinded model orders a rater would get",
		RunE:  runSample,
	}
	f := cmd.Flags()
	f.StringP("user", "u", "", "Rater user ID (required)")
	f.String("dataset", "", "Only this dataset key")
	f.Int("sample-size", 0, "Sample size (0 = manifest default)")
	f.String("manifest", "", "Manifest YAML path (empty = built-in default)")
	f.String("data-dir", ".", "Directory or base URL holding dataset files")
	addLogFlags(cmd)
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed KEY...",
		Short: "Print the 32-bit seed derived from each key",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, k := range args {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", seed.Derive(k), k)
			}
			return nil
		},
	}
}

func resetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete a rater's session from the local cache and the remote store",
		RunE:  runReset,
	}
	cmd.Flags().StringP("user", "u", "", "Rater user ID (required)")
	addStoreFlags(cmd)
	addLogFlags(cmd)
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func addStoreFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("db", "rater.db", "SQLite session cache path")
	f.String("manifest", "", "Manifest YAML path (empty = built-in default)")
	f.String("data-dir", ".", "Directory or base URL holding dataset files")
	f.String("remote-endpoint", "", "S3-compatible endpoint (host:port or URL; empty = AWS)")
	f.String("remote-bucket", "", "Bucket for session snapshots (empty disables the remote store)")
	f.String("remote-access-key", "", "Remote access key")
	f.String("remote-secret-key", "", "Remote secret key")
	f.String("remote-region", "us-east-1", "Remote region")
}

func addLogFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("RATER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("rater")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/rater")
	v.AddConfigPath("/etc/rater")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// backend is everything a command needs to reach stored sessions.
type backend struct {
	db       *store.Store
	facade   *persist.Facade
	manifest model.Manifest
}

func openBackend(ctx context.Context, v *viper.Viper) (*backend, error) {
	manifest, err := dataset.LoadManifest(v.GetString("manifest"))
	if err != nil {
		return nil, fmt.Errorf("load manifest: %w", err)
	}
	if err := dataset.Validate(manifest); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	var remoteStore persist.Store
	rcfg := remote.Config{
		Endpoint:  v.GetString("remote-endpoint"),
		Bucket:    v.GetString("remote-bucket"),
		AccessKey: v.GetString("remote-access-key"),
		SecretKey: v.GetString("remote-secret-key"),
		Region:    v.GetString("remote-region"),
	}
	if rcfg.Enabled() {
		client, err := remote.New(ctx, rcfg)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("create remote store: %w", err)
		}
		if err := client.Check(ctx); err != nil {
			slog.Warn("remote store unreachable; logins without a local copy will fail until it recovers", "bucket", rcfg.Bucket, "error", err)
		} else {
			slog.Info("remote store OK", "endpoint", rcfg.Endpoint, "bucket", rcfg.Bucket)
		}
		remoteStore = client
	} else {
		slog.Info("no remote bucket configured; using the local cache only")
	}

	return &backend{
		db:       db,
		facade:   persist.New(db, remoteStore, manifest),
		manifest: manifest,
	}, nil
}

func (b *backend) Close() error {
	return b.db.Close()
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	ctx, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	b, err := openBackend(ctx, v)
	if err != nil {
		return err
	}
	defer b.Close()

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	loader := dataset.NewLoader(dataset.NewSource(v.GetString("data-dir")), b.manifest.Models)
	if err := recordManifest(b.db, b.manifest); err != nil {
		return fmt.Errorf("record manifest: %w", err)
	}
	checkDatasets(ctx, b.db, loader, b.manifest)

	machine := session.New(b.manifest, loader)
	h := handler.New(machine, b.facade)
	metrics.Init()

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)
	r.Handle("/metrics", metrics.Handler())

	autosaver := persist.NewAutosaver(b.db, v.GetDuration("autosave-interval"), h.VisitLive)
	stopAutosave := autosaver.Start(context.Background())
	defer stopAutosave()

	addr := v.GetString("addr")
	srv := &http.Server{Addr: addr, Handler: r}
	errc := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	slog.Info("starting server",
		"addr", addr,
		"lang", lang,
		"data_dir", v.GetString("data-dir"),
		"phases", len(b.manifest.Phases),
		"models", len(b.manifest.Models),
		"sample_sizes", b.manifest.SampleSizes,
		"remote", b.facade.HasRemote(),
		"autosave_interval", v.GetDuration("autosave-interval"),
	)

	select {
	case err, ok := <-errc:
		if ok {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}
	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("server forced to shutdown", "error", err)
	}
	stopAutosave()
	slog.Info("flushed live sessions to the local cache")
	return nil
}

// recordManifest stores the manifest digest and warns when it changed since the
// last start. Existing sessions keep their sampled cases either way.
func recordManifest(db *store.Store, m model.Manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	hash := sha256sum(data)
	stored, err := db.GetMetadata("manifest_hash")
	if err != nil {
		return err
	}
	if stored != "" && stored != hash {
		slog.Warn("manifest changed since last start; sessions created earlier keep their phases")
	}
	return db.SetMetadata("manifest_hash", hash)
}

// checkDatasets reads every dataset once, records its fingerprint and warns about
// files that changed since the last start or cannot be read.
func checkDatasets(ctx context.Context, db *store.Store, loader *dataset.Loader, m model.Manifest) {
	for _, ps := range m.Phases {
		for _, ds := range ps.Datasets {
			loaded, err := loader.Load(ctx, []model.DatasetSpec{ds})
			if err != nil {
				var le *model.LoadError
				if errors.As(err, &le) {
					slog.Warn("dataset unavailable; logins will fail until it is fixed",
						"dataset", ds.Key, "path", ds.File, "error", le.Err, "hint", le.Hint())
				} else {
					slog.Warn("dataset unavailable", "dataset", ds.Key, "error", err)
				}
				continue
			}
			l := loaded[ds.Key]
			prev, err := db.GetFingerprint(ds.Key)
			if err != nil {
				slog.Warn("could not read dataset fingerprint", "dataset", ds.Key, "error", err)
				continue
			}
			switch {
			case prev == nil:
				slog.Info("dataset recorded", "dataset", ds.Key, "cases", len(l.Cases))
			case prev.Hash == l.Hash:
				slog.Info("dataset unchanged", "dataset", ds.Key, "cases", len(l.Cases))
			default:
				slog.Warn("dataset changed since last start; existing sessions keep their sampled cases",
					"dataset", ds.Key, "path", ds.File, "cases_before", prev.Cases, "cases_now", len(l.Cases))
			}
			if err := db.SetFingerprint(store.Fingerprint{DatasetKey: ds.Key, Path: ds.File, Hash: l.Hash, Cases: len(l.Cases)}); err != nil {
				slog.Warn("could not record dataset fingerprint", "dataset", ds.Key, "error", err)
			}
		}
	}
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	b, err := openBackend(ctx, v)
	if err != nil {
		return err
	}
	defer b.Close()

	var out any
	if user := strings.TrimSpace(v.GetString("user")); user != "" {
		s, src, err := b.facade.Load(ctx, user)
		if err != nil {
			return fmt.Errorf("load session %s: %w", user, err)
		}
		slog.Info("exporting session", "user", user, "source", src)
		out = model.BuildExport(s, b.manifest.Models, uuid.NewString(), time.Now().UTC())
	} else {
		docs, err := exportAll(ctx, b)
		if err != nil {
			return err
		}
		out = docs
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = cmd.OutOrStdout()
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	_, err = w.Write(data)
	if err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)

	return nil
}

// exportAll builds export documents for every session in the local cache.
func exportAll(ctx context.Context, b *backend) ([]model.ExportDocument, error) {
	snaps, err := b.db.AllSnapshots(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	docs := make([]model.ExportDocument, 0, len(snaps))
	for _, snap := range snaps {
		s, err := persist.Upgrade(snap.Data, b.manifest)
		if err != nil {
			slog.Warn("skipping unreadable session", "user", snap.UserID, "error", err)
			continue
		}
		docs = append(docs, model.BuildExport(s, b.manifest.Models, uuid.NewString(), now))
	}
	slog.Info("exported sessions", "count", len(docs))
	return docs, nil
}

func runReset(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	b, err := openBackend(ctx, v)
	if err != nil {
		return err
	}
	defer b.Close()

	user := strings.TrimSpace(v.GetString("user"))
	if err := b.facade.Delete(ctx, user); err != nil {
		return fmt.Errorf("reset %s: %w", user, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted session for %s\n", user)
	return nil
}

type sampledDataset struct {
	Dataset string        `json:"dataset"`
	Seed    uint32        `json:"seed"`
	Cases   []sampledCase `json:"cases"`
}

type sampledCase struct {
	ID    string   `json:"id"`
	Order []string `json:"order,omitempty"`
}

func runSample(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	manifest, err := dataset.LoadManifest(v.GetString("manifest"))
	if err != nil {
		return fmt.Errorf("load manifest: %w", err)
	}
	if err := dataset.Validate(manifest); err != nil {
		return fmt.Errorf("invalid manifest: %w", err)
	}
	user := strings.TrimSpace(v.GetString("user"))
	only := v.GetString("dataset")

	loader := dataset.NewLoader(dataset.NewSource(v.GetString("data-dir")), manifest.Models)
	m := session.New(manifest, loader)
	s, err := m.Login(ctx, nil, user, "", v.GetInt("sample-size"))
	if err != nil {
		return err
	}

	var out []sampledDataset
	for _, p := range s.Phases {
		for _, d := range p.Datasets {
			if only != "" && d.Key != only {
				continue
			}
			sd := sampledDataset{Dataset: d.Key, Seed: seed.Sample(user, d.Key).Seed()}
			for _, c := range d.Cases {
				sc := sampledCase{ID: c.ID}
				if p.Kind == model.PhaseEvaluation {
					for _, slot := range blind.Slots(m.Order(s, d.Key, c.ID)) {
						sc.Order = append(sc.Order, slot.Label+"="+slot.Model)
					}
				}
				sd.Cases = append(sd.Cases, sc)
			}
			out = append(out, sd)
		}
	}
	if only != "" && len(out) == 0 {
		return fmt.Errorf("unknown dataset %q", only)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
