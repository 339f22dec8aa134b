package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fentz26/murmur/internal/controlplane"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show agent state and last known monitor status",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/status")
	if err != nil {
		return err
	}

	var status controlplane.StatusResponse
	if err := json.Unmarshal(resp, &status); err != nil {
		return err
	}

	fmt.Printf("Agent: %s\n\n", status.State)

	if len(status.Monitors) == 0 {
		fmt.Println("No monitor samples yet.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MONITOR\tLAST\tVALUE\tSAMPLED")
	for _, m := range status.Monitors {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			m.Monitor, m.LastKind, m.LastValue, m.LastSample.Local().Format("15:04:05"))
	}
	return w.Flush()
}
