package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Gelotto/faceswap-client/internal/config"
	"github.com/Gelotto/faceswap-client/internal/models"
	"github.com/Gelotto/faceswap-client/internal/session"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var source, target, mode string
	var refFrame int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Create a job, upload both inputs and wait for the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, func(sess *session.Session, cfg *config.Config) error {
				req := session.StartRequest{
					Source: fileHandle(source),
					Target: fileHandle(target),
					Mode:   jobMode(mode, cfg),
					Token:  ctx.explicitToken(),
					Fields: models.SubmitFields{ReferenceFrameNumber: cfg.Job.ReferenceFrameNumber},
				}
				if cmd.Flags().Changed("reference-frame") {
					req.Fields.ReferenceFrameNumber = &refFrame
				}
				if err := sess.Start(cmd.Context(), req); err != nil {
					return err
				}
				return waitForJob(cmd.Context(), sess)
			})
		},
	}

	cmd.Flags().StringVarP(&source, "source", "s", "", "Source face image")
	cmd.Flags().StringVarP(&target, "target", "t", "", "Target image or video")
	cmd.Flags().StringVarP(&mode, "mode", "m", "", "Processing mode (see `faceswap-client modes`)")
	cmd.Flags().IntVar(&refFrame, "reference-frame", 0, "Video frame used to pick the face to replace")
	return cmd
}

func newQuickCommand(ctx *commandContext) *cobra.Command {
	var source, target, mode string

	cmd := &cobra.Command{
		Use:   "quick",
		Short: "Send both inputs in one request and wait for the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, func(sess *session.Session, cfg *config.Config) error {
				err := sess.Quick(cmd.Context(), session.StartRequest{
					Source: fileHandle(source),
					Target: fileHandle(target),
					Mode:   jobMode(mode, cfg),
					Token:  ctx.explicitToken(),
				})
				if err != nil {
					return err
				}
				return waitForJob(cmd.Context(), sess)
			})
		},
	}

	cmd.Flags().StringVarP(&source, "source", "s", "", "Source face image")
	cmd.Flags().StringVarP(&target, "target", "t", "", "Target image or video")
	cmd.Flags().StringVarP(&mode, "mode", "m", "", "Processing mode")
	return cmd
}

func newWatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <job-id>",
		Short: "Stream an existing job's events and download its result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, func(sess *session.Session, _ *config.Config) error {
				if err := sess.Follow(cmd.Context(), ctx.explicitToken(), args[0]); err != nil {
					return err
				}
				return waitForJob(cmd.Context(), sess)
			})
		},
	}
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status [job-id]",
		Short: "Poll a job once",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var jobID string
			if len(args) == 1 {
				jobID = args[0]
			}
			return ctx.withSession(cmd, func(sess *session.Session, _ *config.Config) error {
				job, err := sess.CheckStatus(cmd.Context(), ctx.explicitToken(), jobID)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderJob(job))
				return nil
			})
		},
	}
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Ask the server to cancel a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, func(sess *session.Session, _ *config.Config) error {
				job, err := sess.Cancel(cmd.Context(), ctx.explicitToken(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s: %s\n", job.ID, statusLabel(string(job.Status)))
				return nil
			})
		},
	}
}

func newWebhookCommand(ctx *commandContext) *cobra.Command {
	var hookURL string
	var events []string

	cmd := &cobra.Command{
		Use:   "webhook <job-id>",
		Short: "Register a callback URL for a job's events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, func(sess *session.Session, _ *config.Config) error {
				_, err := sess.SetWebhook(cmd.Context(), ctx.explicitToken(), args[0], hookURL, events)
				return err
			})
		},
	}

	cmd.Flags().StringVar(&hookURL, "url", "", "Callback URL (http or https)")
	cmd.Flags().StringSliceVar(&events, "event", nil, "Event to deliver (repeatable)")
	return cmd
}

func jobMode(flag string, cfg *config.Config) models.Mode {
	if flag != "" {
		return models.Mode(flag)
	}
	return cfg.Job.Mode
}

// waitForJob blocks until the session stops streaming and maps the outcome to an exit error
func waitForJob(ctx context.Context, sess *session.Session) error {
	state, err := sess.Wait(ctx)
	if err != nil {
		return err
	}
	switch state {
	case session.StateCompleted:
		return nil
	case session.StateFailed:
		return fmt.Errorf("job %s failed", sess.LastJobID())
	case session.StateCancelled:
		return fmt.Errorf("job %s was cancelled", sess.LastJobID())
	case session.StateStreaming:
		return fmt.Errorf("event stream ended before job %s finished; check it with `faceswap-client status %s`",
			sess.LastJobID(), sess.LastJobID())
	default:
		return errors.New("job did not start")
	}
}
