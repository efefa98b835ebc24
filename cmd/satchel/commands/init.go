package commands

import (
	"fmt"

	"github.com/satchel-edu/satchel/pkg/config"
	"github.com/spf13/cobra"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample Satchel configuration file.

By default, the configuration file is created at $XDG_CONFIG_HOME/satchel/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  satchel init

  # Initialize with custom path
  satchel init --config /etc/satchel/config.yaml

  # Force overwrite existing config
  satchel init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configFile := GetConfigFile()

	var configPath string
	var err error

	if configFile != "" {
		err = config.InitConfigToPath(configFile, initForce)
		configPath = configFile
	} else {
		configPath, err = config.InitConfig(initForce)
	}

	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file to customize your setup")
	fmt.Println("  2. Start the cache daemon with: satchel start")
	fmt.Printf("  3. Or specify custom config: satchel start --config %s\n", configPath)

	return nil
}
