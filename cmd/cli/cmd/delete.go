package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var deleteCmd = &cobra.Command{
	Use:   "delete [request_id]",
	Short: "Delete a finished request and its work log",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewVMClient(viper.GetString("url"))
		if err := client.DeleteRequest(args[0]); err != nil {
			cmd.Printf("Failed to delete request: %v\n", err)
			return
		}
		cmd.Printf("Request %s deleted\n", args[0])
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}
