package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running agent",
	RunE:  runStop,
}

func runStop(cmd *cobra.Command, args []string) error {
	if _, err := apiPost("/shutdown", nil); err != nil {
		return err
	}
	fmt.Println("Agent stopping.")
	return nil
}
