package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/creator-suite/internal/suite"
)

type submitOptions struct {
	fields  []string
	files   []string
	wait    bool
	timeout time.Duration
}

func newSubmitCmd() *cobra.Command {
	opts := &submitOptions{}
	cmd := &cobra.Command{
		Use:   "submit <type>",
		Short: "Submit a generation job",
		Long: `Validates the form locally, records the job, and sends it to the backend
service for <type>. Long-running types are polled when --wait is set.

Example:
  creator-suite submit text_to_video -f prompt="a lighthouse at dawn" -f model=veo-3 --wait
  creator-suite submit edit -f prompt="make it snow" --file image=./street.png`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(cmd, args[0], opts)
		},
	}
	cmd.Flags().StringArrayVarP(&opts.fields, "field", "f", nil, "form field as key=value (repeatable)")
	cmd.Flags().StringArrayVar(&opts.files, "file", nil, "file upload as field=path (repeatable)")
	cmd.Flags().BoolVar(&opts.wait, "wait", false, "poll until the job completes or fails")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 30*time.Minute, "maximum time to wait with --wait")
	return cmd
}

func runSubmit(cmd *cobra.Command, rawType string, opts *submitOptions) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	t, err := suite.ParseJobType(rawType)
	if err != nil {
		return err
	}
	form, err := buildForm(opts.fields, opts.files)
	if err != nil {
		return err
	}

	job, err := appInstance.Submitter().Submit(cmd.Context(), t, form)
	if err != nil {
		if job.ID != "" {
			_ = printJSON(cmd.OutOrStdout(), job)
		}
		return err
	}
	appInstance.Logger().Info("job submitted", zap.String("job_id", job.ID), zap.String("type", string(t)))

	if opts.wait && !job.Status.Terminal() && t.Polled() {
		ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
		defer cancel()
		job, err = waitForJob(ctx, appInstance, job.ID)
		if err != nil {
			return err
		}
	}
	return printJSON(cmd.OutOrStdout(), job)
}

func buildForm(fields, files []string) (suite.Form, error) {
	form := suite.NewForm()
	for _, kv := range fields {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return form, fmt.Errorf("invalid field %q, want key=value", kv)
		}
		form.Set(strings.TrimSpace(key), value)
	}
	for _, fp := range files {
		field, path, ok := strings.Cut(fp, "=")
		if !ok || field == "" || path == "" {
			return form, fmt.Errorf("invalid file %q, want field=path", fp)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return form, fmt.Errorf("read %s: %w", path, err)
		}
		form.Attach(suite.File{
			Field:       field,
			Name:        filepath.Base(path),
			ContentType: contentType(path, data),
			Data:        data,
		})
	}
	return form, nil
}

func contentType(path string, data []byte) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return http.DetectContentType(data)
}

// waitForJob runs the pollers until id settles or ctx ends.
func waitForJob(ctx context.Context, appInstance App, id string) (suite.Job, error) {
	store := appInstance.Store()
	changes, unsubscribe := store.Subscribe()
	defer unsubscribe()

	pollCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		if err := appInstance.RunPollers(pollCtx); err != nil {
			appInstance.Logger().Warn("pollers stopped", zap.Error(err))
		}
	}()

	for {
		job, ok := store.Get(id)
		if !ok {
			return suite.Job{}, fmt.Errorf("%w: %s", suite.ErrJobNotFound, id)
		}
		if job.Status.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, fmt.Errorf("wait for job %s: %w", id, ctx.Err())
		case <-changes:
		}
	}
}

func newApproveCmd() *cobra.Command {
	var scenesFile string
	cmd := &cobra.Command{
		Use:   "approve <job-id>",
		Short: "Approve the script of a director movie job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			scenes, err := readScenes(scenesFile)
			if err != nil {
				return err
			}
			job, err := appInstance.Submitter().ApproveScript(cmd.Context(), args[0], scenes)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), job)
		},
	}
	cmd.Flags().StringVar(&scenesFile, "scenes", "", "JSON file holding the edited scene list")
	return cmd
}

func readScenes(path string) ([]map[string]any, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenes: %w", err)
	}
	var scenes []map[string]any
	if err := json.Unmarshal(data, &scenes); err != nil {
		return nil, fmt.Errorf("decode scenes: %w", err)
	}
	return scenes, nil
}
