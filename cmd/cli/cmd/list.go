package cmd

import (
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	listStatus string
	listLimit  int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List requests, newest first",
	Run: func(cmd *cobra.Command, args []string) {
		client := NewVMClient(viper.GetString("url"))
		requests, err := client.ListRequests(listStatus, listLimit)
		if err != nil {
			cmd.Printf("Failed to list requests: %v\n", err)
			return
		}
		if len(requests) == 0 {
			cmd.Println("No requests found")
			return
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		defer w.Flush()

		write := func(cols ...string) {
			for i, c := range cols {
				if i > 0 {
					w.Write([]byte("\t"))
				}
				w.Write([]byte(c))
			}
			w.Write([]byte("\n"))
		}

		write("ID", "VM", "STATUS", "CREATED")
		for _, r := range requests {
			write(r.ID, r.VMName, r.Status, relativeTime(r.CreatedAt)+" ago")
		}
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().StringVar(&listStatus, "status", "", "Filter by status (pending, acknowledged, running, done, cancelled, hold)")
	listCmd.Flags().IntVar(&listLimit, "limit", 20, "Maximum number of requests to show")
}
