package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Gelotto/faceswap-client/internal/auth"
	"github.com/Gelotto/faceswap-client/internal/config"
	"github.com/Gelotto/faceswap-client/internal/models"
)

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the API is reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := ctx.logger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			api, err := ctx.apiClient(log)
			if err != nil {
				return err
			}
			if api.BaseURL() == "" {
				return errors.New("no API base URL configured; pass --base-url or set FACESWAP_BASE_URL")
			}
			resp, err := api.Health(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", api.BaseURL(), resp.Status)
			return nil
		},
	}
}

func newLoginCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "login <token>",
		Short: "Store a bearer token in the configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token := auth.StripBearer(args[0])
			if token == "" {
				return errors.New("token must not be empty")
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			cfg.API.Token = token
			path := ctx.configPath()
			if err := config.Save(path, cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved token %s to %s\n", auth.Credential(token).Preview(), path)
			return nil
		},
	}
}

func newModesCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "modes",
		Short:       "List processing modes",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			rows := make([][]string, 0, len(models.Modes))
			for _, info := range models.Modes {
				name := string(info.Mode)
				if info.Mode == models.DefaultMode {
					name += " (default)"
				}
				rows = append(rows, []string{name, info.Label, string(info.Mode.TargetKind()), info.Description})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Mode", "Label", "Target", "Description"}, rows))
			return nil
		},
	}
}
