package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"campusrag/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config and create the domain stores",
	Long: `Write campusrag.yaml with the default domains if it does not exist yet,
then create the tables, collections or buckets of every configured domain in
the selected backend.

Examples:
  campusrag init
  campusrag init --force   # overwrite an existing campusrag.yaml`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	dir := GetRootDir()

	if err := config.EnsureDir(dir); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", config.DirName, err)
	}

	path := cfgFile
	if path == "" {
		path = filepath.Join(dir, config.FileName)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) || initForce {
		if err := cfg.Save(path); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
		fmt.Printf("Config written to: %s\n", path)
	} else {
		fmt.Printf("Config exists: %s\n", path)
	}

	b, err := openBackend(cmd.Context(), cfg, dir, openOptions{prepare: true})
	if err != nil {
		return err
	}
	defer b.Close()

	fmt.Printf("\nStores ready (%s backend, dimension %d):\n", cfg.Store.Backend, cfg.Store.Dimension)
	for _, d := range configuredDomains(cfg) {
		dc, _ := cfg.DomainConfig(d)
		fmt.Printf("  %-10s %s\n", d, dc.Store)
	}
	return nil
}
