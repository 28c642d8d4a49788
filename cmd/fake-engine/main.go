// fake-engine imita o motor de automação para rodar o gateway localmente:
//
//	gateway serve --engine ./fake-engine
//
// Cada invocação é um processo curto; o script (se houver) chega pelo stdin.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// exitError carrega o código de saída pedido por "fail".
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func main() {
	err := newRootCmd(os.Stdin).Execute()
	if err == nil {
		return
	}
	var ee *exitError
	if errors.As(err, &ee) {
		fmt.Fprintln(os.Stderr, ee.msg)
		os.Exit(ee.code)
	}
	slog.Error("fake-engine failed", "error", err)
	os.Exit(1)
}

func newRootCmd(stdin io.Reader) *cobra.Command {
	root := &cobra.Command{
		Use:           "fake-engine",
		Short:         "Stand-in automation engine for local runs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(&cobra.Command{
		Use:   "probe",
		Short: "Health probe: prints ok",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return err
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "echo [words...]",
		Short: "Prints the arguments, or the script from stdin when there are none",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), strings.Join(args, " "))
				return err
			}
			_, err := io.Copy(cmd.OutOrStdout(), stdin)
			return err
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "sleep <duration>",
		Short: "Sleeps for the given duration (e.g. 2s)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := time.ParseDuration(args[0])
			if err != nil {
				return fmt.Errorf("invalid duration %q: %w", args[0], err)
			}
			select {
			case <-time.After(d):
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "slept %s\n", d)
			return err
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "fail <code> [message]",
		Short: "Exits with the given code",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := strconv.Atoi(args[0])
			if err != nil || code <= 0 || code > 255 {
				return fmt.Errorf("invalid exit code %q", args[0])
			}
			msg := "failed"
			if len(args) == 2 {
				msg = args[1]
			}
			return &exitError{code: code, msg: msg}
		},
	})

	return root
}
