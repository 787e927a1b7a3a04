// Package main implements the surrogate binary.
// It captures a relational database into a compact snapshot, stores the
// snapshot in local or S3 storage, and restores snapshots into a database.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/arkilian/surrogate/internal/cache"
	"github.com/arkilian/surrogate/internal/config"
	"github.com/arkilian/surrogate/internal/dataset"
	"github.com/arkilian/surrogate/internal/snapshot"
	"github.com/arkilian/surrogate/internal/sqlsource"
	"github.com/arkilian/surrogate/internal/storage"
	"github.com/arkilian/surrogate/internal/surrogate"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile  string
		dataDir     string
		storageType string
		showVersion bool
		showHelp    bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for all data files")
	flag.StringVar(&storageType, "storage", "", "Storage type: local, s3")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showHelp, "help", false, "Show help message")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Surrogate - portable snapshots of relational datasets\n\n")
		fmt.Fprintf(os.Stderr, "Usage: surrogate [options] <command> [command options]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  capture   Read a database and store it as a snapshot\n")
		fmt.Fprintf(os.Stderr, "  restore   Write a stored snapshot into an empty database\n")
		fmt.Fprintf(os.Stderr, "  inspect   Show the schema and row states of a snapshot\n")
		fmt.Fprintf(os.Stderr, "  list      List stored snapshots\n")
		fmt.Fprintf(os.Stderr, "  delete    Remove a stored snapshot\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  surrogate capture -driver sqlite3 -dsn ./shop.db\n")
		fmt.Fprintf(os.Stderr, "  surrogate restore -id 0192f1c4-... -driver postgres -dsn postgres://localhost/shop_copy\n")
		fmt.Fprintf(os.Stderr, "  surrogate --config /etc/surrogate/config.yaml list\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  SURROGATE_DATA_DIR        Base directory for data files\n")
		fmt.Fprintf(os.Stderr, "  SURROGATE_STORAGE_TYPE    Storage type (local, s3)\n")
		fmt.Fprintf(os.Stderr, "  SURROGATE_S3_*            S3 bucket, region, endpoint\n")
		fmt.Fprintf(os.Stderr, "  SURROGATE_SOURCE_DRIVER   Database driver (sqlite3, postgres, mysql)\n")
		fmt.Fprintf(os.Stderr, "  SURROGATE_SOURCE_DSN      Database connection string\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if showVersion {
		fmt.Printf("surrogate version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := loadConfig(configFile, dataDir, storageType)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := run(ctx, cfg, args[0], args[1:]); err != nil {
		log.Fatalf("%s: %v", args[0], err)
	}
}

// loadConfig loads configuration from file, environment, and command line flags.
func loadConfig(configFile, dataDir, storageType string) (*config.Config, error) {
	var cfg *config.Config
	var err error

	// Start with defaults or load from file
	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	// Apply environment variables
	config.LoadFromEnv(cfg)

	// Apply command line flags (highest priority)
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if storageType != "" {
		cfg.Storage.Type = storageType
	}

	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config, cmd string, args []string) error {
	switch cmd {
	case "capture":
		return runCapture(ctx, cfg, args)
	case "restore":
		return runRestore(ctx, cfg, args)
	case "inspect":
		return runInspect(ctx, cfg, args)
	case "list":
		return runList(ctx, cfg, args)
	case "delete":
		return runDelete(ctx, cfg, args)
	}
	flag.Usage()
	return fmt.Errorf("unknown command %q", cmd)
}

// openStorage creates the blob storage named by the configuration.
func openStorage(ctx context.Context, cfg *config.Config) (storage.BlobStorage, error) {
	switch cfg.Storage.Type {
	case "local":
		return storage.NewLocalStorage(cfg.Storage.Path)
	case "s3":
		s3Cfg := storage.DefaultS3Config()
		if cfg.Storage.S3.Region != "" {
			s3Cfg.Region = cfg.Storage.S3.Region
		}
		if cfg.Storage.S3.Endpoint != "" {
			s3Cfg.Endpoint = cfg.Storage.S3.Endpoint
		}
		s3Cfg.UsePathStyle = cfg.Storage.S3.UsePathStyle
		s3Cfg.MultipartConfig.PartSize = int64(cfg.Storage.S3.PartSizeMB) << 20
		log.Printf("Storage: s3 bucket=%s region=%s endpoint=%s",
			cfg.Storage.S3.Bucket, s3Cfg.Region, s3Cfg.Endpoint)
		return storage.NewS3Storage(ctx, cfg.Storage.S3.Bucket, s3Cfg)
	}
	return nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
}

// openArchive opens the configured archive. Remote storage is fronted by a
// local disk cache when one is configured. The returned func releases it.
func openArchive(ctx context.Context, cfg *config.Config) (*snapshot.Archive, func(), error) {
	store, err := openStorage(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	closer := func() {}
	if cfg.Storage.Type != "local" && cfg.Storage.CacheMB > 0 {
		dc, err := cache.NewDiskCache(cfg.Storage.CachePath, int64(cfg.Storage.CacheMB)<<20)
		if err != nil {
			return nil, nil, err
		}
		store = cache.NewCachedStorage(store, dc)
		closer = dc.Close
	}
	return snapshot.NewArchive(store, snapshot.Options{
		Prefix:      cfg.Archive.Prefix,
		Compress:    cfg.Codec.Compress,
		Concurrency: cfg.Archive.Concurrency,
	}), closer, nil
}

// sourceFlags registers the database flags shared by capture and restore,
// defaulting to the configured source.
func sourceFlags(fs *flag.FlagSet, cfg *config.Config) (driver, dsn *string) {
	driver = fs.String("driver", cfg.Source.Driver, "Database driver: sqlite3, postgres, mysql")
	dsn = fs.String("dsn", cfg.Source.DSN, "Database connection string")
	return driver, dsn
}

func runCapture(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("capture", flag.ExitOnError)
	driver, dsn := sourceFlags(fs, cfg)
	name := fs.String("name", "", "Dataset name recorded in the snapshot")
	tables := fs.String("tables", strings.Join(cfg.Source.Tables, ","), "Comma-separated tables to capture (default all)")
	maxRows := fs.Int("max-rows", cfg.Source.MaxRows, "Maximum rows captured per table (0 for no limit)")
	fs.Parse(args)

	d, err := sqlsource.ParseDialect(*driver)
	if err != nil {
		return err
	}
	if *dsn == "" {
		return fmt.Errorf("-dsn is required")
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Source.Timeout)
	defer cancel()

	db, err := sqlsource.Open(ctx, d, *dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	ds, err := sqlsource.Load(ctx, db, d, sqlsource.Options{
		Name:    *name,
		Tables:  splitList(*tables),
		MaxRows: *maxRows,
	})
	if err != nil {
		return err
	}

	archive, closeArchive, err := openArchive(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeArchive()
	id, err := archive.Save(ctx, ds)
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}

func runRestore(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("restore", flag.ExitOnError)
	driver, dsn := sourceFlags(fs, cfg)
	idFlag := fs.String("id", "", "Snapshot ID (default latest)")
	fs.Parse(args)

	d, err := sqlsource.ParseDialect(*driver)
	if err != nil {
		return err
	}
	if *dsn == "" {
		return fmt.Errorf("-dsn is required")
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Source.Timeout)
	defer cancel()

	archive, closeArchive, err := openArchive(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeArchive()
	id, err := resolveID(ctx, archive, *idFlag)
	if err != nil {
		return err
	}
	ds, err := archive.Load(ctx, id)
	if err != nil {
		return err
	}

	db, err := sqlsource.Open(ctx, d, *dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := sqlsource.Write(ctx, db, d, ds); err != nil {
		return err
	}
	log.Printf("Restored snapshot %s (%s) into %s", id, ds.Name, d)
	return nil
}

func runInspect(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	idFlag := fs.String("id", "", "Snapshot ID (default latest)")
	fs.Parse(args)

	archive, closeArchive, err := openArchive(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeArchive()
	id, err := resolveID(ctx, archive, *idFlag)
	if err != nil {
		return err
	}
	d, err := archive.Descriptor(ctx, id)
	if err != nil {
		return err
	}
	printDescriptor(os.Stdout, id, d)
	return nil
}

func runList(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	fs.Parse(args)

	archive, closeArchive, err := openArchive(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeArchive()
	summaries, err := archive.Summaries(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tDATASET\tTABLES\tROWS\tBYTES")
	for _, s := range summaries {
		created := s.ID.Created().UTC().Format("2006-01-02 15:04:05")
		if s.Err != nil {
			fmt.Fprintf(w, "%s\t%s\t<error: %v>\t\t\t\n", s.ID, created, s.Err)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\n", s.ID, created, s.Dataset, s.Tables, s.Rows, s.Size)
	}
	return w.Flush()
}

func runDelete(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	idFlag := fs.String("id", "", "Snapshot ID")
	fs.Parse(args)

	if *idFlag == "" {
		return fmt.Errorf("-id is required")
	}
	id, err := snapshot.ParseID(*idFlag)
	if err != nil {
		return err
	}
	archive, closeArchive, err := openArchive(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeArchive()
	return archive.Delete(ctx, id)
}

// resolveID parses s, or picks the newest snapshot when s is empty.
func resolveID(ctx context.Context, archive *snapshot.Archive, s string) (snapshot.ID, error) {
	if s != "" {
		return snapshot.ParseID(s)
	}
	ids, err := archive.List(ctx)
	if err != nil {
		return snapshot.ID{}, err
	}
	if len(ids) == 0 {
		return snapshot.ID{}, fmt.Errorf("no snapshots stored")
	}
	return ids[len(ids)-1], nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// printDescriptor writes a human-readable outline of a snapshot.
func printDescriptor(out io.Writer, id snapshot.ID, d *surrogate.DatasetDescriptor) {
	fmt.Fprintf(out, "Snapshot %s (created %s)\n", id, id.Created().UTC().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(out, "Dataset %q, constraints enforced: %v\n\n", d.Name, d.EnforceConstraints)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TABLE\tCOLUMNS\tUNCHANGED\tADDED\tMODIFIED\tDELETED\tKEYS")
	for _, t := range d.Tables {
		counts := make(map[dataset.RowState]int)
		for _, r := range t.Rows {
			counts[r.State]++
		}
		var keys []string
		for _, u := range t.Uniques {
			cols := make([]string, len(u.Columns))
			for i, o := range u.Columns {
				cols[i] = t.Columns[o].Name
			}
			kind := "UNIQUE"
			if u.IsPrimaryKey {
				kind = "PK"
			}
			keys = append(keys, kind+"("+strings.Join(cols, ",")+")")
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%s\n", t.Name, len(t.Columns),
			counts[dataset.RowUnchanged], counts[dataset.RowAdded],
			counts[dataset.RowModified], counts[dataset.RowDeleted],
			strings.Join(keys, " "))
	}
	w.Flush()

	if len(d.ForeignKeys) > 0 {
		fmt.Fprintln(out, "\nForeign keys:")
		for _, fk := range d.ForeignKeys {
			fmt.Fprintf(out, "  %s: %s -> %s (update %s, delete %s)\n", fk.Name,
				keyName(d, fk.Child), keyName(d, fk.Parent), fk.UpdateRule, fk.DeleteRule)
		}
	}
	if len(d.Relations) > 0 {
		fmt.Fprintln(out, "\nRelations:")
		for _, rel := range d.Relations {
			fmt.Fprintf(out, "  %s: %s -> %s\n", rel.Name, keyName(d, rel.Parent), keyName(d, rel.Child))
		}
	}
}

func keyName(d *surrogate.DatasetDescriptor, ref surrogate.KeyRef) string {
	t := d.Tables[ref.Table]
	cols := make([]string, len(ref.Columns))
	for i, o := range ref.Columns {
		cols[i] = t.Columns[o].Name
	}
	return t.Name + "(" + strings.Join(cols, ",") + ")"
}
