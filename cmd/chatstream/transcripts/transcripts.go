// Package transcriptscmder provides commands for browsing the transcripts
// stored by the relay.
package transcriptscmder

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/chatstream/pkg/config"
	"github.com/papercomputeco/chatstream/pkg/storage"
	storageutils "github.com/papercomputeco/chatstream/pkg/storage/utils"
)

const transcriptsLongDesc string = `Browse transcripts stored by "chatstream serve".

Transcripts are read from the same storage the relay writes to, selected
with --storage, --sqlite and --postgres or the [storage] section of
config.toml.

Examples:
  chatstream transcripts list
  chatstream transcripts list --provider anthropic --limit 5
  chatstream transcripts show chatcmpl-123
  chatstream transcripts show chatcmpl-123 --json`

const transcriptsShortDesc string = "Browse stored transcripts"

var storageFlags = []string{
	config.FlagStorageDriver,
	config.FlagSQLite,
	config.FlagPostgres,
}

// storageOpts carries the storage selection shared by the subcommands.
type storageOpts struct {
	configDir   string
	driver      string
	sqlitePath  string
	postgresDSN string
}

func NewTranscriptsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transcripts",
		Short: transcriptsShortDesc,
		Long:  transcriptsLongDesc,
	}

	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newShowCmd())

	return cmd
}

// addStorageFlags registers the storage selection flags on cmd.
func addStorageFlags(cmd *cobra.Command, o *storageOpts) {
	config.AddStringFlag(cmd, config.Flags, config.FlagStorageDriver, &o.driver)
	config.AddStringFlag(cmd, config.Flags, config.FlagSQLite, &o.sqlitePath)
	config.AddStringFlag(cmd, config.Flags, config.FlagPostgres, &o.postgresDSN)
}

// resolve layers flags over config.toml and environment.
func (o *storageOpts) resolve(cmd *cobra.Command) error {
	o.configDir, _ = cmd.Flags().GetString("config-dir")
	v, err := config.InitViper(o.configDir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	config.BindRegisteredFlags(v, cmd, config.Flags, storageFlags)

	cfg := config.FromViper(v)
	o.driver = cfg.Storage.Driver
	o.sqlitePath = cfg.Storage.SQLitePath
	o.postgresDSN = cfg.Storage.PostgresDSN
	return nil
}

// open returns the configured driver. The memory driver holds nothing
// between processes, so an unset driver reads the default SQLite database.
func (o *storageOpts) open(ctx context.Context) (storage.Driver, error) {
	driver := o.driver
	if driver == "" {
		driver = storageutils.DriverSQLite
	}
	if driver == storageutils.DriverMemory {
		return nil, fmt.Errorf("the %s storage driver does not persist transcripts; use --storage sqlite or postgres", driver)
	}

	return storageutils.NewDriver(ctx, &storageutils.NewDriverOpts{
		Driver:      driver,
		SQLitePath:  o.sqlitePath,
		PostgresDSN: o.postgresDSN,
		ConfigDir:   o.configDir,
	})
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
