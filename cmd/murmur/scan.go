package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Trigger an immediate out-of-schedule scan",
	RunE:  runScan,
}

func runScan(cmd *cobra.Command, args []string) error {
	if _, err := apiPost("/scan", nil); err != nil {
		return err
	}
	fmt.Println("Scan triggered.")
	return nil
}
