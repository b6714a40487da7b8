package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"vmplane/pkg/api"
)

var statusCmd = &cobra.Command{
	Use:   "status [request_id]",
	Short: "Get status of a request",
	Long:  `Retrieve detailed status for a VM execution request, including its current state, exit code, failure reason and timestamps.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewVMClient(viper.GetString("url"))
		req, err := client.GetRequest(args[0])
		if err != nil {
			cmd.Printf("Failed to fetch request: %v\n", err)
			return
		}
		printStatus(cmd, req)
	},
}

func printStatus(cmd *cobra.Command, req *api.RequestResponse) {
	icon := statusIcon(req.Status)
	cmd.Printf("%s %sRequest Details%s\n", icon, colorBold, colorReset)
	cmd.Println("──────────────────────────────")

	cmd.Printf("%sID:%s        %s\n", colorDim, colorReset, req.ID)
	cmd.Printf("%sVM:%s        %s\n", colorDim, colorReset, req.VMName)
	cmd.Printf("%sStatus:%s    %s\n", colorDim, colorReset, colorizeStatus(req.Status))
	cmd.Printf("%sTimeout:%s   %ds\n", colorDim, colorReset, req.TimeoutSeconds)

	if req.ClaimedBy != nil {
		cmd.Printf("%sAgent:%s     %s\n", colorDim, colorReset, *req.ClaimedBy)
	}

	if req.ExitCode != nil {
		exitCode := *req.ExitCode
		if exitCode == 0 {
			cmd.Printf("%sExit Code:%s %s%d%s\n", colorDim, colorReset, colorGreen, exitCode, colorReset)
		} else {
			cmd.Printf("%sExit Code:%s %s%d%s\n", colorDim, colorReset, colorRed, exitCode, colorReset)
		}
	}
	if req.Failure != nil {
		cmd.Printf("%sFailure:%s   %s%s%s\n", colorDim, colorReset, colorRed, *req.Failure, colorReset)
	}

	cmd.Printf("%sCreated:%s   %s\n", colorDim, colorReset, formatTimeWithRelative(req.CreatedAt))
	cmd.Printf("%sUpdated:%s   %s\n", colorDim, colorReset, formatTimeWithRelative(req.UpdatedAt))
}

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

func statusIcon(status string) string {
	switch status {
	case "done":
		return colorGreen + "✓" + colorReset
	case "cancelled":
		return colorRed + "✗" + colorReset
	case "running", "acknowledged":
		return colorYellow + "⏳" + colorReset
	case "pending":
		return colorCyan + "◯" + colorReset
	case "hold":
		return colorYellow + "⏸" + colorReset
	default:
		return "•"
	}
}

func colorizeStatus(status string) string {
	icon := statusIcon(status)
	switch status {
	case "done":
		return icon + " " + colorGreen + status + colorReset
	case "cancelled":
		return icon + " " + colorRed + status + colorReset
	case "running", "acknowledged", "hold":
		return icon + " " + colorYellow + status + colorReset
	case "pending":
		return icon + " " + colorCyan + status + colorReset
	default:
		return status
	}
}

func formatTimeWithRelative(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return fmt.Sprintf("%s %s(%s ago)%s", t.Format("Mon, 02 Jan 2006 15:04:05 MST"), colorDim, relativeTime(t), colorReset)
}

func relativeTime(t time.Time) string {
	duration := time.Since(t)

	if duration < time.Minute {
		return fmt.Sprintf("%ds", int(duration.Seconds()))
	} else if duration < time.Hour {
		return fmt.Sprintf("%dm", int(duration.Minutes()))
	} else if duration < 24*time.Hour {
		return fmt.Sprintf("%dh", int(duration.Hours()))
	}
	days := int(duration.Hours() / 24)
	if days == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", days)
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
