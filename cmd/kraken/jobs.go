package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/grantgumina/kraken/internal/follow"
	"github.com/grantgumina/kraken/internal/jobname"
	"github.com/grantgumina/kraken/internal/model"
	"github.com/grantgumina/kraken/internal/parallel"
	"github.com/grantgumina/kraken/internal/service"
)

const (
	defaultLineLimit = 10
	removeParallel   = 4
)

var (
	flagJobName        string
	flagJobDescription string
	flagShowLocal      bool
	flagShowFollow     bool
	flagRemoveAll      bool
)

func init() {
	newJobCmd.Flags().StringVarP(&flagJobName, "name", "n", "", "job name - default is <hostname>-<random words>")
	newJobCmd.Flags().StringVarP(&flagJobDescription, "description", "d", "", "job description")

	showJobCmd.Flags().BoolVar(&flagShowLocal, "local", false, "read the local log file instead of the server")
	showJobCmd.Flags().BoolVarP(&flagShowFollow, "follow", "f", false, "keep printing new lines of the local log until the job ends")

	removeJobCmd.Flags().BoolVarP(&flagRemoveAll, "all", "a", false, "remove all jobs, job names are ignored")
}

var newJobCmd = &cobra.Command{
	Use:   "job COMMAND",
	Short: "run COMMAND in a detached daemon and relay its output",
	Args:  cobra.ExactArgs(1),
	RunE:  doNewJob,
}

var showJobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "list jobs known to the server",
	Args:  cobra.NoArgs,
	RunE:  doShowJobs,
}

var showJobCmd = &cobra.Command{
	Use:   "job NAME [LINE_LIMIT]",
	Short: "print the last lines of a job",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  doShowJob,
}

var removeJobCmd = &cobra.Command{
	Use:   "job [NAME...]",
	Short: "remove jobs from the server",
	RunE:  doRemoveJob,
}

func doNewJob(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	client, err := apiClient(false)
	if err != nil {
		return err
	}
	detacher, err := service.NewDetacher()
	if err != nil {
		return fmt.Errorf("locating kraken binary: %w", err)
	}

	controller := service.NewController(config, client, detacher.Detach)
	launched, err := controller.Launch(ctx, service.NewJobRequest{
		Command:     args[0],
		Name:        flagJobName,
		Description: flagJobDescription,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "job:  %s\n", launched.Spec.Name)
	_, _ = fmt.Fprintf(out, "pid:  %d\n", launched.PID)
	_, _ = fmt.Fprintf(out, "out:  %s\n", launched.Spec.Paths.Out)
	_, _ = fmt.Fprintf(out, "err:  %s\n", launched.Spec.Paths.Err)
	return nil
}

func doShowJobs(cmd *cobra.Command, _ []string) error {
	client, err := apiClient(false)
	if err != nil {
		return err
	}
	jobs, err := client.ListJobs(cmd.Context())
	if err != nil {
		return err
	}
	return renderJobs(cmd.OutOrStdout(), jobs)
}

func renderJobs(w io.Writer, jobs []model.Job) error {
	headerStyle := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("Job Name", "Description", "Status").
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	for _, job := range jobs {
		t.Row(job.Name, job.Description, job.Status)
	}
	_, err := fmt.Fprintln(w, t.Render())
	return err
}

func doShowJob(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	name := args[0]
	limit := defaultLineLimit
	if len(args) == 2 {
		var err error
		limit, err = strconv.Atoi(args[1])
		if err != nil || limit < 0 {
			return fmt.Errorf("line limit must be a non-negative number, got %q", args[1])
		}
	}
	if err := jobname.Validate(name); err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if flagShowFollow || flagShowLocal {
		paths := jobname.PathsFor(config.Job.Dir, name)
		if pid, running := service.LocalStatus(paths); running {
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "job %s is running (pid %d)\n", name, pid)
		}
		if flagShowFollow {
			return followJob(cmd, paths.Out)
		}
		lines, err := follow.Tail(paths.Out, limit)
		if err != nil {
			return fmt.Errorf("reading local log: %w", err)
		}
		for _, line := range lines {
			_, _ = fmt.Fprintln(out, line)
		}
		return nil
	}

	client, err := apiClient(false)
	if err != nil {
		return err
	}
	lines, err := client.FetchLogs(ctx, name, limit)
	if err != nil {
		return err
	}
	for _, line := range lines {
		_, _ = fmt.Fprintln(out, line.Line)
	}
	return nil
}

func followJob(cmd *cobra.Command, path string) error {
	out := cmd.OutOrStdout()
	f := follow.New(path).WithStop(service.IsMarker)
	for line, err := range f.Lines(cmd.Context()) {
		if err != nil {
			return fmt.Errorf("following local log: %w", err)
		}
		if _, err := fmt.Fprintln(out, line); err != nil {
			return err
		}
	}
	return nil
}

// jobRemover is the part of the api client used by remove job.
type jobRemover interface {
	RemoveJob(ctx context.Context, name string) error
	RemoveAllJobs(ctx context.Context) error
}

func doRemoveJob(cmd *cobra.Command, args []string) error {
	if !flagRemoveAll && len(args) == 0 {
		return errors.New("job name or --all is required")
	}
	client, err := apiClient(false)
	if err != nil {
		return err
	}
	return removeJobs(cmd.Context(), cmd.OutOrStdout(), client, args, flagRemoveAll)
}

// removeJobs removes every job when all is set, otherwise the named jobs
// concurrently.
func removeJobs(ctx context.Context, out io.Writer, client jobRemover, names []string, all bool) error {
	if all {
		if len(names) > 0 {
			slog.DebugContext(ctx, "--all given: ignoring job names", "names", names)
		}
		if err := client.RemoveAllJobs(ctx); err != nil {
			return err
		}
		_, _ = fmt.Fprintln(out, "all jobs removed")
		return nil
	}

	remove := func(ctx context.Context, name string) (string, error) {
		return name, client.RemoveJob(ctx, name)
	}
	var errs []error
	for name, err := range parallel.Map(ctx, removeParallel, slices.Values(slices.Compact(slices.Sorted(slices.Values(names)))), remove) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		_, _ = fmt.Fprintf(out, "job %s removed\n", name)
	}
	return errors.Join(errs...)
}
