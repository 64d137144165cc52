package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/drblury/funcflow"
)

func newInvokeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invoke [file]",
		Short: "Send an event to a running local server",
		Long: `Send an event to a running local server and print the handler output.

The event is read from file, or from stdin when file is omitted or "-".
A failed invocation prints the error payload to stderr and exits non-zero.`,
		Args: cobra.MaximumNArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return bindFlags(v, cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInvoke(cmd, v, args)
		},
	}

	f := cmd.Flags()
	f.String("url", "http://127.0.0.1:7000", "base URL of the local server")
	f.String("endpoint", funcflow.DefaultConfig().Local.InvocationEndpoint, "path that accepts events")
	f.Duration("timeout", 30*time.Second, "how long to wait for the output")
	return cmd
}

func runInvoke(cmd *cobra.Command, v *viper.Viper, args []string) error {
	event, err := readEvent(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}

	target := strings.TrimRight(v.GetString("url"), "/") + v.GetString("endpoint")
	client := &http.Client{Timeout: v.GetDuration("timeout")}
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, target, bytes.NewReader(event))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("invoke %s: %w", target, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read output: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintln(cmd.ErrOrStderr(), string(body))
		return fmt.Errorf("invocation %s failed with status %d", resp.Header.Get("request_id"), resp.StatusCode)
	}
	_, err = cmd.OutOrStdout().Write(body)
	return err
}

func readEvent(stdin io.Reader, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("read event: %w", err)
	}
	return data, nil
}
