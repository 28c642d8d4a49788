package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version é sobrescrito no build: -ldflags "-X main.version=..."
var version = "dev"

func newRootCmd() *cobra.Command {
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:   "gateway",
		Short: "Admission gateway for an external automation engine",
		Long: `gateway recebe pedidos de automação, decide a admissão (recursos,
timeout, concorrência e conflitos) e executa os comandos admitidos em um
pool limitado de processos do motor externo.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("config", "", "config file (YAML)")
	_ = v.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	bindEnv(v)

	rootCmd.AddCommand(newServeCmd(v))
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

// bindEnv: GATEWAY_CONFIG, GATEWAY_HTTP_ADDR, GATEWAY_STATS_REDIS_ADDR, ...
func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("GATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "gateway "+version)
			return err
		},
	}
}
