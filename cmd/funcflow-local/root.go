package main

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "FUNCFLOW"

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:   "funcflow-local",
		Short: "Local control plane for funcflow workers",
		Long: `funcflow-local simulates the control plane a funcflow worker polls.

"serve" starts the server; point the worker at it with RUNTIME_API.
"invoke" posts an event to a running server and prints the handler output.
Every flag can also be set as FUNCFLOW_<FLAG>, for example FUNCFLOW_PORT.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().String("log-level", "info", "log level: trace, debug, info, warn or error")

	root.AddCommand(newServeCmd(v), newInvokeCmd(v))
	return root
}

// bindFlags makes v resolve every flag of cmd, including the inherited ones,
// so FUNCFLOW_* variables fill in whatever was not passed explicitly.
func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	var err error
	bind := func(f *pflag.Flag) {
		if err == nil {
			err = v.BindPFlag(f.Name, f)
		}
	}
	cmd.Flags().VisitAll(bind)
	cmd.InheritedFlags().VisitAll(bind)
	return err
}
