package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

const (
	defaultConfigFileEnv = "DAVCORE_CONFIG"
)

var cmds []CreateFunc

// Context 子命令共享的参数
type Context struct {
	ConfigFile string
}

type CreateFunc func(ctx *Context) *cobra.Command

func register(cr CreateFunc) {
	cmds = append(cmds, cr)
}

func NewRoot() *cobra.Command {
	ctx := &Context{}
	rootCmd := &cobra.Command{
		Use:           "davcore",
		Short:         "WebDAV server core",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	for _, cr := range cmds {
		rootCmd.AddCommand(cr(ctx))
	}
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if ctx.ConfigFile == "" {
			ctx.ConfigFile, _ = os.LookupEnv(defaultConfigFileEnv)
		}
		return nil
	}
	rootCmd.PersistentFlags().StringVarP(&ctx.ConfigFile, "config", "c", "", "config file")
	return rootCmd
}
