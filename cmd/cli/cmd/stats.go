package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show request counts per status",
	Run: func(cmd *cobra.Command, args []string) {
		client := NewVMClient(viper.GetString("url"))
		stats, err := client.GetStats()
		if err != nil {
			cmd.Printf("Failed to fetch stats: %v\n", err)
			return
		}

		for _, status := range []string{"pending", "acknowledged", "running", "done", "cancelled", "hold"} {
			cmd.Printf("%-14s %d\n", status, stats.Counts[status])
		}
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
