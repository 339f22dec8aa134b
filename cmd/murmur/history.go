package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fentz26/murmur/internal/models"
)

var (
	historyLimit int
	historyKinds string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print recent audit history",
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 30, "Maximum records to show")
	historyCmd.Flags().StringVar(&historyKinds, "kinds", "", "Comma-separated record kinds (observation, detection, fix, error)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	url := "/history?limit=" + strconv.Itoa(historyLimit)
	if historyKinds != "" {
		url += "&kinds=" + historyKinds
	}

	resp, err := apiGet(url)
	if err != nil {
		return err
	}

	var recs []models.HistoryRecord
	if err := json.Unmarshal(resp, &recs); err != nil {
		return err
	}

	if len(recs) == 0 {
		fmt.Println("No history yet.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tKIND\tRULE\tTARGET\tOUTCOME\tDETAIL")
	for _, r := range recs {
		detail := r.Detail
		if len(detail) > 48 {
			detail = detail[:45] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Timestamp.Local().Format("01-02 15:04:05"), r.Kind, r.Rule, r.Target, r.Outcome, detail)
	}
	return w.Flush()
}
