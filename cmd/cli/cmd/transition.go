package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// transitionRun builds the Run function shared by cancel/hold/release.
func transitionRun(target, verb string) func(cmd *cobra.Command, args []string) {
	return func(cmd *cobra.Command, args []string) {
		client := NewVMClient(viper.GetString("url"))
		req, err := client.UpdateStatus(args[0], target)
		if err != nil {
			cmd.Printf("Failed to %s request: %v\n", verb, err)
			return
		}
		cmd.Printf("Request %s is now %s\n", req.ID, colorizeStatus(req.Status))
	}
}

var cancelCmd = &cobra.Command{
	Use:   "cancel [request_id]",
	Short: "Cancel a request",
	Long: `Cancel a request in any non-terminal state.

A pending request never runs. A running request's VM is terminated by its
supervising agent shortly after.`,
	Args: cobra.ExactArgs(1),
	Run:  transitionRun("cancelled", "cancel"),
}

var holdCmd = &cobra.Command{
	Use:   "hold [request_id]",
	Short: "Put a request on hold",
	Long: `Park a request in the hold state.

A held request is not claimable. Use release to return it to the queue or
cancel to finish it.`,
	Args: cobra.ExactArgs(1),
	Run:  transitionRun("hold", "hold"),
}

var releaseCmd = &cobra.Command{
	Use:   "release [request_id]",
	Short: "Release a held request back to the queue",
	Args:  cobra.ExactArgs(1),
	Run:   transitionRun("pending", "release"),
}

func init() {
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(holdCmd)
	rootCmd.AddCommand(releaseCmd)
}
