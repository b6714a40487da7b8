package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "vmctl",
	Short: "vmctl is a command line tool for interacting with the vmplane platform",
	Long: `vmctl is the command-line interface for the vmplane VM execution platform.

vmplane runs batches of shell commands inside short-lived virtual machines.
A request names a VM image and the commands to run; an agent claims it,
boots the VM, injects the commands once the guest is ready and captures
every line of output into a per-request work log.

Common workflows:

  Submit a request:
    vmctl submit --vm ubuntu-base --commands "apt-get update && make test"

  Check a request:
    vmctl status <request-id>

  Stream output:
    vmctl logs <request-id> --follow

  Stop a request:
    vmctl cancel <request-id>

Configuration:
  Set the API endpoint via environment variables or a config file:
    VMPLANE_URL    API endpoint (default: http://localhost:6161)`,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".vmctl"
		viper.AddConfigPath(home)
		viper.SetConfigName(".vmctl")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "VMPLANE_VARNAME"
	viper.SetEnvPrefix("VMPLANE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.vmctl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:6161", "vmplane Controller URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))
}
