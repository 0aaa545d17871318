package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version 构建时通过 -ldflags "-X .../cmd.Version=..." 注入
var Version = "dev"

func NewVersionCmd(_ *Context) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "davcore %s\n", Version)
			return err
		},
	}
}

func init() {
	register(NewVersionCmd)
}
