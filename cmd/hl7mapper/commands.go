package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hl7mapper/hl7mapper/internal/config"
	"github.com/hl7mapper/hl7mapper/internal/domain/profile"
	"github.com/hl7mapper/hl7mapper/internal/platform/db"
	"github.com/hl7mapper/hl7mapper/internal/platform/definitions"
	"github.com/hl7mapper/hl7mapper/internal/platform/hl7v2"
)

// loadCLIConfig loads configuration for the one-shot commands. Only the
// definition service URL is required; --base-url overrides it.
func loadCLIConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if u, _ := cmd.Flags().GetString("base-url"); u != "" {
		cfg.DefinitionsBaseURL = strings.TrimRight(u, "/")
	}
	if cfg.DefinitionsBaseURL == "" {
		return nil, errors.New("DEFINITIONS_BASE_URL is required (or pass --base-url)")
	}
	return cfg, nil
}

func cliLogger(cmd *cobra.Command) zerolog.Logger {
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		return newLogger(os.Stderr, true)
	}
	return zerolog.Nop()
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// versionOrDefault prefers the flag, then DEFAULT_HL7_VERSION.
func versionOrDefault(flag string, cfg *config.Config) string {
	if strings.TrimSpace(flag) != "" {
		return definitions.NormalizeVersion(flag)
	}
	return definitions.NormalizeVersion(cfg.DefaultHL7Version)
}

func segmentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "segments",
		Short: "List the segments defined for an HL7 version",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadCLIConfig(cmd)
			if err != nil {
				return err
			}
			v, _ := cmd.Flags().GetString("version")
			defs := newDefinitionCache(cfg, cliLogger(cmd))
			return runSegments(cmd.Context(), cmd.OutOrStdout(), defs, versionOrDefault(v, cfg))
		},
	}
	cmd.Flags().String("version", "", "HL7 version, e.g. 2.5 or 5 (default DEFAULT_HL7_VERSION)")
	cmd.Flags().String("base-url", "", "Definition service base URL")
	cmd.Flags().BoolP("verbose", "v", false, "Log fetches to stderr")
	return cmd
}

func runSegments(ctx context.Context, out io.Writer, defs hl7v2.DefinitionSource, version string) error {
	segments, err := defs.Segments(ctx, version)
	if err != nil {
		return err
	}
	for _, s := range segments {
		fmt.Fprintf(out, "%-4s %s\n", s.Segment, s.Title)
	}
	return nil
}

func detailCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "detail",
		Short: "Show the field layout of one segment",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadCLIConfig(cmd)
			if err != nil {
				return err
			}
			v, _ := cmd.Flags().GetString("version")
			segment, _ := cmd.Flags().GetString("segment")
			defs := newDefinitionCache(cfg, cliLogger(cmd))
			return runDetail(cmd.Context(), cmd.OutOrStdout(), defs, versionOrDefault(v, cfg), segment)
		},
	}
	cmd.Flags().String("version", "", "HL7 version (default DEFAULT_HL7_VERSION)")
	cmd.Flags().String("segment", "", "Segment identifier, e.g. PID")
	cmd.Flags().String("base-url", "", "Definition service base URL")
	cmd.Flags().BoolP("verbose", "v", false, "Log fetches to stderr")
	cmd.MarkFlagRequired("segment")
	return cmd
}

func runDetail(ctx context.Context, out io.Writer, defs hl7v2.DefinitionSource, version, segment string) error {
	detail, err := defs.SegmentDetail(ctx, version, segment)
	if err != nil {
		return err
	}
	return writeJSON(out, detail)
}

type assembleOptions struct {
	inputPath    string
	mappingsPath string
	version      string
	raw          bool
}

func assembleCmd() *cobra.Command {
	var opts assembleOptions
	cmd := &cobra.Command{
		Use:   "assemble",
		Short: "Build an HL7 v2 message from a JSON document and a mapping file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := cliLogger(cmd)
			sendTo, _ := cmd.Flags().GetString("send")
			return runAssemble(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(),
				newAssembler(cfg, logger), newSender(sendTo, cfg, logger), opts)
		},
	}
	cmd.Flags().StringVar(&opts.inputPath, "input", "-", "JSON document to map, - for stdin")
	cmd.Flags().StringVar(&opts.mappingsPath, "mappings", "", "Mapping profile (.yaml or .json)")
	cmd.Flags().StringVar(&opts.version, "version", "", "Version written to MSH-12 (default: the profile's)")
	cmd.Flags().BoolVar(&opts.raw, "raw", false, "Separate segments with CR instead of newlines")
	cmd.Flags().String("send", "", "Deliver to an MLLP receiver at host:port")
	cmd.Flags().BoolP("verbose", "v", false, "Log to stderr")
	cmd.MarkFlagRequired("mappings")
	return cmd
}

func runAssemble(ctx context.Context, in io.Reader, out io.Writer, assembler *hl7v2.Assembler, sender *hl7v2.MLLPSender, opts assembleOptions) error {
	p, err := profile.LoadFile(opts.mappingsPath)
	if err != nil {
		return err
	}

	var doc []byte
	if opts.inputPath == "" || opts.inputPath == "-" {
		doc, err = io.ReadAll(in)
	} else {
		doc, err = os.ReadFile(opts.inputPath)
	}
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	version := opts.version
	if version == "" {
		version = p.Version
	}
	msg, err := assembler.Assemble(doc, p.Mappings, version)
	if err != nil {
		return err
	}

	if sender == nil {
		if !opts.raw {
			msg = strings.ReplaceAll(msg, hl7v2.SegmentSeparator, "\n")
		}
		_, err = fmt.Fprintln(out, msg)
		return err
	}

	ack, err := sender.Send(ctx, msg)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s %s\n", ack.AckCode(), ack.ControlID)
	return nil
}

func profilesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "Manage the mapping profile store",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply pending profile store migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), func(m *db.Migrator) error {
				count, err := m.Up(cmd.Context())
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), func(m *db.Migrator) error {
				statuses, err := m.Status(cmd.Context())
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printMigrationStatus(cmd.OutOrStdout(), statuses)
				return nil
			})
		},
	})

	return cmd
}

func withMigrator(ctx context.Context, fn func(m *db.Migrator) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(db.NewMigrator(pool, profile.Migrations()))
}

func printMigrationStatus(out io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(out, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}
