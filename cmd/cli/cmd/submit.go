package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"vmplane/pkg/api"
)

var (
	submitVM      string
	submitCmds    string
	submitTimeout int
	submitWait    bool
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a VM execution request",
	Long: `Submit a new request to run commands inside a VM.

The request is queued until an agent claims it, boots the named VM image
and injects the commands once the guest finishes booting.`,
	Run: func(cmd *cobra.Command, args []string) {
		if submitVM == "" || submitCmds == "" {
			cmd.Println("Both --vm and --commands are required")
			return
		}

		client := NewVMClient(viper.GetString("url"))
		resp, err := client.Submit(api.SubmitRequest{
			VMName:         submitVM,
			Commands:       submitCmds,
			TimeoutSeconds: submitTimeout,
		})
		if err != nil {
			cmd.Printf("Submit failed: %v\n", err)
			return
		}

		cmd.Printf("Request submitted: %s (status: %s)\n", resp.RequestID, resp.Status)

		if submitWait {
			followLogs(cmd, client, resp.RequestID, "", true)
		}
	},
}

func init() {
	rootCmd.AddCommand(submitCmd)
	submitCmd.Flags().StringVar(&submitVM, "vm", "", "VM image name to boot")
	submitCmd.Flags().StringVar(&submitCmds, "commands", "", "Shell commands to run inside the VM")
	submitCmd.Flags().IntVar(&submitTimeout, "timeout", 0, "Inactivity timeout in seconds (0 uses the server default)")
	submitCmd.Flags().BoolVarP(&submitWait, "wait", "w", false, "Stream logs until the request finishes")
}
