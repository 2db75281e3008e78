package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/IvanBrykalov/dmcache/priority"
)

var policiesCmd = &cobra.Command{
	Use:   "policies",
	Short: "List eviction policy identifiers",
	Args:  cobra.NoArgs,
	RunE:  runPolicies,
}

func init() {
	rootCmd.AddCommand(policiesCmd)
}

func runPolicies(cmd *cobra.Command, args []string) error {
	w := cmd.OutOrStdout()
	for _, k := range priority.Kinds() {
		p, err := priority.New(k)
		if err != nil {
			return err
		}
		aging := ""
		if _, ok := p.(priority.Aging); ok {
			aging = " (aging)"
		}
		fmt.Fprintf(w, "%2d  %s%s\n", uint8(k), k, aging)
	}
	return nil
}
