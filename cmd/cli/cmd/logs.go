package cmd

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	follow       bool
	logsSince    int64
	logsCategory string
)

// terminalStatuses stops a --follow loop once the request cannot produce
// more output.
var terminalStatuses = map[string]bool{
	"done":      true,
	"cancelled": true,
}

var logsCmd = &cobra.Command{
	Use:   "logs [request_id]",
	Short: "Read or stream the work log of a request",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewVMClient(viper.GetString("url"))
		followLogs(cmd, client, args[0], logsCategory, follow)
	},
}

// followLogs prints entries starting after logsSince; with follow it keeps
// polling the position cursor until the request reaches a terminal status.
func followLogs(cmd *cobra.Command, client *VMClient, requestID, category string, keepFollowing bool) {
	since := logsSince

	for {
		resp, err := client.GetLogs(requestID, since, category)
		if err != nil {
			cmd.Printf("Error fetching logs: %v\n", err)
			if !keepFollowing {
				return
			}
			time.Sleep(2 * time.Second) // Retry backoff
			continue
		}

		for _, entry := range resp.Entries {
			cmd.Printf("[%s] %s\n", entry.Category, entry.Payload)
		}
		since = resp.NextSince

		if !keepFollowing {
			if len(resp.Entries) == 0 {
				return
			}
			continue
		}

		if len(resp.Entries) == 0 {
			req, err := client.GetRequest(requestID)
			if err == nil && terminalStatuses[req.Status] {
				cmd.Printf("Request %s: %s\n", requestID, colorizeStatus(req.Status))
				return
			}
		}
		time.Sleep(1 * time.Second)
	}
}

func init() {
	rootCmd.AddCommand(logsCmd)
	logsCmd.Flags().BoolVarP(&follow, "follow", "f", false, "Follow log output until the request finishes")
	logsCmd.Flags().Int64Var(&logsSince, "since", 0, "Only return entries after this position")
	logsCmd.Flags().StringVar(&logsCategory, "category", "", "Filter by category (boot, command, stdout, stderr)")
}
