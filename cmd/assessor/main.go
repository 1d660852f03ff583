package main

import (
	"context"
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

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/assessor/internal/assessment"
	"github.com/pavelanni/assessor/internal/course"
	"github.com/pavelanni/assessor/internal/courses"
	"github.com/pavelanni/assessor/internal/dispatch"
	"github.com/pavelanni/assessor/internal/handler"
	"github.com/pavelanni/assessor/internal/i18n"
	"github.com/pavelanni/assessor/internal/llm"
	"github.com/pavelanni/assessor/internal/model"
	"github.com/pavelanni/assessor/internal/registry"
	"github.com/pavelanni/assessor/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "assessor",
		Short:        "Course assessment dispatcher and grading service",
		SilenceUsage: true,
	}

	serve := serveCmd()
	root.AddCommand(serve, checkCmd(), gradesCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP dispatch server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	addStoreFlags(cmd)
	f.StringP("courses", "c", "courses", "Directory with course configuration files")
	f.String("redis-addr", "", "Redis address for attempt counters (empty = use the database)")
	f.String("redis-password", "", "Redis password")
	f.Int("redis-db", 0, "Redis database number")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL (empty disables question generation)")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.Int("llm-retries", 3, "Retries for a failed question generation")
	f.StringP("lang", "l", "en", "Default response language (en, ru)")
	f.StringSlice("cors-origins", nil, "Allowed CORS origins (repeatable)")
	f.Int("grade-write-retries", 3, "Retries for a failed grade write")
	f.Duration("request-timeout", 60*time.Second, "Per-request timeout (0 = none)")
	f.Int64("max-body-bytes", 32<<20, "Maximum request body size")
	addLogFlags(cmd)
	return cmd
}

func checkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate course configurations against the registered handlers",
		RunE:  runCheck,
	}
	cmd.Flags().StringP("courses", "c", "courses", "Directory with course configuration files")
	addLogFlags(cmd)
	return cmd
}

func gradesCmd() *cobra.Command {
	grades := &cobra.Command{
		Use:   "grades",
		Short: "Inspect recorded grades",
	}
	export := &cobra.Command{
		Use:   "export",
		Short: "Export a course's grades as JSON",
		RunE:  runExport,
	}
	f := export.Flags()
	addStoreFlags(export)
	f.String("course", "", "Course identifier (required)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addLogFlags(export)
	_ = export.MarkFlagRequired("course")

	grades.AddCommand(export)
	return grades
}

func addStoreFlags(cmd *cobra.Command) {
	cmd.Flags().String("db-driver", string(store.DriverSQLite), "Database driver (sqlite, postgres)")
	cmd.Flags().String("db", "assessor.db", "SQLite path or PostgreSQL DSN")
}

func addLogFlags(cmd *cobra.Command) {
	cmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().String("log-format", "text", "Log format (text, json)")
}

func setupLogging(v *viper.Viper) {
	var level slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		h = slog.NewJSONHandler(os.Stderr, opts)
	default:
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("ASSESSOR")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("assessor")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/assessor")
	v.AddConfigPath("/etc/assessor")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}
	return v
}

// loadCourses reads the course configurations and builds the handler
// registry, failing when the two disagree.
func loadCourses(dir string) (*course.Store, *registry.Registry, error) {
	cs := course.NewStore()
	if err := cs.LoadDir(dir); err != nil {
		return nil, nil, fmt.Errorf("load courses: %w", err)
	}
	reg := registry.New()
	if err := courses.RegisterAll(reg); err != nil {
		return nil, nil, err
	}
	if err := reg.Check(cs); err != nil {
		return nil, nil, fmt.Errorf("course check failed:\n%w", err)
	}
	return cs, reg, nil
}

func openStore(ctx context.Context, v *viper.Viper) (*store.Store, error) {
	db, err := store.Open(ctx, store.Driver(v.GetString("db-driver")), v.GetString("db"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()

	cs, reg, err := loadCourses(v.GetString("courses"))
	if err != nil {
		return err
	}

	checks := map[string]handler.Pinger{"database": db}
	var attempts dispatch.AttemptStore = db
	if addr := v.GetString("redis-addr"); addr != "" {
		ra, err := store.NewRedisAttempts(ctx, addr, v.GetString("redis-password"), v.GetInt("redis-db"))
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer ra.Close()
		attempts = ra
		checks["redis"] = ra
		slog.Info("attempt counters in redis", "addr", addr)
	}

	var generator assessment.Generator
	if url := v.GetString("llm-url"); url != "" {
		generator = llm.New(url, v.GetString("llm-key"), v.GetString("llm-model"), v.GetInt("llm-retries"))
	} else {
		slog.Warn("no LLM endpoint configured, AI-generated assessments will fail")
	}

	tr, err := i18n.New(v.GetString("lang"))
	if err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	d := dispatch.New(dispatch.Config{
		Handlers:          reg,
		Courses:           cs,
		Attempts:          attempts,
		Grades:            db,
		Questions:         db,
		Generator:         generator,
		GradeWriteRetries: v.GetInt("grade-write-retries"),
	})
	h := handler.New(d, tr, handler.Options{
		Grades:       db,
		Courses:      cs,
		Checks:       checks,
		MaxBodyBytes: v.GetInt64("max-body-bytes"),
	})
	router := handler.NewRouter(h, handler.RouterOptions{
		AllowedOrigins: v.GetStringSlice("cors-origins"),
		RequestTimeout: v.GetDuration("request-timeout"),
	})

	srv := &http.Server{
		Addr:              v.GetString("addr"),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			"addr", srv.Addr,
			"db_driver", db.Driver(),
			"courses", cs.Courses(),
			"llm_url", v.GetString("llm-url"),
			"model", v.GetString("llm-model"),
			"lang", v.GetString("lang"),
		)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func runCheck(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	cs, reg, err := loadCourses(v.GetString("courses"))
	if err != nil {
		return err
	}
	for _, id := range cs.Courses() {
		fmt.Fprintf(cmd.OutOrStdout(), "course %s: %d assessments OK\n", id, len(reg.Assessments(id)))
	}
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	db, err := openStore(cmd.Context(), v)
	if err != nil {
		return err
	}
	defer db.Close()

	export, err := db.ExportGrades(cmd.Context(), model.CourseID(v.GetString("course")))
	if err != nil {
		return fmt.Errorf("export grades: %w", err)
	}
	data, err := json.MarshalIndent(export, "", "  ")
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
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	_, _ = fmt.Fprintln(w)

	slog.Info("exported grades", "course_id", export.CourseID, "students", len(export.Students))
	return nil
}
