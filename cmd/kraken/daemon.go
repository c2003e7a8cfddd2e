package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/grantgumina/kraken/internal/api"
	"github.com/grantgumina/kraken/internal/credential"
	"github.com/grantgumina/kraken/internal/log"
	"github.com/grantgumina/kraken/internal/model"
	"github.com/grantgumina/kraken/internal/service"
)

var daemonCmd = &cobra.Command{
	Use:    service.DaemonCommand,
	Short:  "internal command",
	Args:   cobra.NoArgs,
	RunE:   doDaemon,
	Hidden: true,
}

// doDaemon runs a single job detached by `kraken new job`. Its stdout and
// stderr are the .err file of the job.
func doDaemon(cmd *cobra.Command, _ []string) error {
	signal.Ignore(syscall.SIGHUP)

	spec, err := service.ReadSpec(cmd.InOrStdin())
	if err != nil {
		return err
	}
	slog.SetDefault(log.New(os.Stderr, spec.Config.Verbose || flagVerbose, log.FormatJSON))

	attrs := slog.Group("kraken",
		slog.String("cmd", service.DaemonCommand),
		slog.String("job", spec.Name),
	)
	ctx := log.ContextAttrs(cmd.Context(), attrs)

	var submitter model.LineSubmitter
	if client, err := daemonClient(spec.Config); err != nil {
		slog.WarnContext(ctx, "remote relay disabled", "error", err)
	} else {
		submitter = client
	}

	if err := service.RunDaemon(ctx, spec, submitter); err != nil {
		return err
	}
	slog.InfoContext(ctx, "daemon finished")
	return nil
}

func daemonClient(cfg model.Config) (*api.Client, error) {
	store, err := credential.New(cfg.Credentials)
	if err != nil {
		return nil, err
	}
	token, err := store.Retrieve()
	if err != nil {
		return nil, err
	}
	client, err := api.New(cfg.Server.URL.String(), cfg.Server.Timeout)
	if err != nil {
		return nil, err
	}
	return client.WithToken(token), nil
}
