package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/netsweep/netsweep/internal/config"
)

var configInitForce bool

// starterConfig is written by "config init". Kept as a template so duration
// values stay human readable.
const starterConfig = `# netsweep configuration
targets: []
  # - 192.168.1.0/24
  # - fileserver.local

ports: [21, 22, 23, 25, 53, 80, 110, 143, 443, 445, 993, 995, 3306, 3389, 5432, 8080]

max_concurrency: 50
max_rate: 200
max_candidates: 65536

probe_method: tcp
probe_ports: [80, 443, 22]
probe_timeout: 2s

scan_timeout: 2s
banner_timeout: 500ms

max_retries: 2
retry_base_delay: 100ms
retry_max_delay: 2s

# 0 disables the sweep-wide deadline.
scan_deadline: 0

logging:
  level: info
  format: text
  output: stderr
`

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage netsweep configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter configuration file",
	Long: `Write a netsweep.yaml in the current directory populated with the default
settings, ready to edit. Targets are left empty and must be filled in or
supplied with --targets at scan time.`,
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE:  runConfigShow,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)

	configInitCmd.Flags().BoolVarP(&configInitForce, "force", "f", false, "overwrite an existing file")
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	cmd.SilenceUsage = true

	const path = "netsweep.yaml"
	if !configInitForce {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists, use --force to overwrite", path)
		}
	}

	if err := os.WriteFile(path, []byte(starterConfig), outputFilePerm); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	fmt.Printf("Wrote %s\n", path)
	return nil
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cmd.SilenceUsage = true

	path := cfgFile
	if path == "" {
		path = "netsweep.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	fmt.Print(string(data))
	return nil
}
