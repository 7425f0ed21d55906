// Package bootstrap wires the configured AWS clients, reference table,
// runner, writer, and driver for the CLI and Lambda entry points.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsathena "github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dwsmith1983/evextract/internal/athena"
	"github.com/dwsmith1983/evextract/internal/awsclient"
	"github.com/dwsmith1983/evextract/internal/catalog"
	"github.com/dwsmith1983/evextract/internal/driver"
	"github.com/dwsmith1983/evextract/internal/objstore"
	"github.com/dwsmith1983/evextract/internal/output"
	"github.com/dwsmith1983/evextract/internal/subjects"
	"github.com/dwsmith1983/evextract/internal/telemetry"
	"github.com/dwsmith1983/evextract/pkg/types"
)

// Deps holds the wired components for one process.
type Deps struct {
	Config    *types.ProjectConfig
	Logger    *slog.Logger
	Runner    *athena.Runner
	Reference *subjects.Reference
	Writer    *output.Writer
	Driver    *driver.Driver
	Store     *objstore.Store

	shutdown telemetry.ShutdownFunc
}

// Clients lets callers inject AWS clients; nil fields are built from config.
type Clients struct {
	Athena athena.AthenaAPI
	S3     objstore.S3API
	Glue   catalog.GlueAPI
}

// NewLogger returns a JSON logger at the named level.
func NewLogger(w io.Writer, level string) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}

// ParseLevel maps debug, info, warn, and error to slog levels.
func ParseLevel(level string) (slog.Level, error) {
	var lvl slog.Level
	if level == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", level)
	}
	return lvl, nil
}

// Init builds every dependency from cfg.
func Init(ctx context.Context, cfg *types.ProjectConfig, logger *slog.Logger, clients Clients) (*Deps, error) {
	if logger == nil {
		var err error
		logger, err = NewLogger(os.Stderr, cfg.LogLevel)
		if err != nil {
			return nil, err
		}
	}

	shutdown, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("setting up telemetry: %w", err)
	}
	d := &Deps{Config: cfg, Logger: logger, shutdown: shutdown}

	if err := d.init(ctx, clients); err != nil {
		_ = d.Close(ctx)
		return nil, err
	}
	return d, nil
}

func (d *Deps) init(ctx context.Context, clients Clients) error {
	cfg := d.Config
	if clients.Athena == nil || clients.S3 == nil || (cfg.Athena.Preflight && clients.Glue == nil) {
		awsCfg, err := awsclient.Load(ctx, cfg.AWS)
		if err != nil {
			return err
		}
		fillClients(&clients, awsCfg)
	}
	d.Store = objstore.New(clients.S3)

	runnerCfg, err := athena.ConfigFromProject(cfg.Athena)
	if err != nil {
		return fmt.Errorf("athena config: %w", err)
	}
	d.Runner = athena.NewRunner(runnerCfg,
		athena.WithAthenaClient(clients.Athena),
		athena.WithS3Client(clients.S3),
		athena.WithLogger(d.Logger),
	)

	if cfg.Athena.Preflight {
		info, err := catalog.Check(ctx, clients.Glue, cfg.Athena.Database, cfg.Athena.Table)
		if err != nil {
			return fmt.Errorf("preflight: %w", err)
		}
		d.Logger.Info("catalog table found", "database", info.Database, "table", info.Name, "location", info.Location)
	}

	d.Reference, err = LoadReference(ctx, cfg.Reference, d.Store)
	if err != nil {
		return err
	}
	d.Logger.Info("reference table loaded", "path", cfg.Reference.Path, "rows", len(d.Reference.Rows))

	writerOpts := []output.WriterOption{output.WithIndexColumn(cfg.Output.IndexColumn)}
	if cfg.Output.S3Bucket != "" {
		writerOpts = append(writerOpts, output.WithS3Mirror(d.Store, cfg.Output.S3Bucket, cfg.Output.S3Prefix))
	}
	d.Writer, err = output.NewWriter(cfg.Output.Dir, writerOpts...)
	if err != nil {
		return err
	}

	d.Driver = driver.New(driver.Config{
		Athena:   cfg.Athena,
		Batch:    cfg.Batch,
		Manifest: cfg.Output.Manifest,
	}, d.Runner, d.Reference, d.Writer, driver.WithLogger(d.Logger))
	return nil
}

func fillClients(c *Clients, awsCfg aws.Config) {
	if c.Athena == nil {
		c.Athena = awsathena.NewFromConfig(awsCfg)
	}
	if c.S3 == nil {
		c.S3 = s3.NewFromConfig(awsCfg)
	}
	if c.Glue == nil {
		c.Glue = glue.NewFromConfig(awsCfg)
	}
}

// LoadReference reads the reference table from a local path or an s3:// URI.
func LoadReference(ctx context.Context, cfg types.ReferenceConfig, store *objstore.Store) (*subjects.Reference, error) {
	if !strings.HasPrefix(cfg.Path, "s3://") {
		ref, err := subjects.LoadFile(cfg)
		if err != nil {
			return nil, fmt.Errorf("loading reference: %w", err)
		}
		return ref, nil
	}

	bucket, key, err := objstore.ParseURI(cfg.Path)
	if err != nil {
		return nil, err
	}
	format, err := subjects.FormatFor(path.Base(key))
	if err != nil {
		return nil, err
	}
	body, err := store.Get(ctx, bucket, key)
	if err != nil {
		return nil, fmt.Errorf("loading reference: %w", err)
	}
	defer body.Close()

	ref, err := subjects.Parse(body, format, cfg)
	if err != nil {
		return nil, fmt.Errorf("loading reference: %w", err)
	}
	return ref, nil
}

// Close flushes telemetry.
func (d *Deps) Close(ctx context.Context) error {
	if d.shutdown == nil {
		return nil
	}
	return d.shutdown(ctx)
}
