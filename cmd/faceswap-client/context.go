package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Gelotto/faceswap-client/internal/auth"
	"github.com/Gelotto/faceswap-client/internal/client"
	"github.com/Gelotto/faceswap-client/internal/config"
	"github.com/Gelotto/faceswap-client/internal/logging"
	"github.com/Gelotto/faceswap-client/internal/result"
	"github.com/Gelotto/faceswap-client/internal/session"
	"github.com/Gelotto/faceswap-client/internal/staging"
)

type commandContext struct {
	configFlag   *string
	baseURLFlag  *string
	tokenFlag    *string
	logLevelFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, baseURLFlag, tokenFlag, logLevelFlag *string) *commandContext {
	return &commandContext{
		configFlag:   configFlag,
		baseURLFlag:  baseURLFlag,
		tokenFlag:    tokenFlag,
		logLevelFlag: logLevelFlag,
	}
}

func (c *commandContext) configPath() string {
	if c.configFlag != nil && strings.TrimSpace(*c.configFlag) != "" {
		return strings.TrimSpace(*c.configFlag)
	}
	return defaultConfigPath()
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, err := config.Load(c.configPath())
		if err != nil {
			c.configErr = err
			return
		}
		if v := flagValue(c.baseURLFlag); v != "" {
			cfg.API.BaseURL = strings.TrimRight(v, "/")
		}
		if v := flagValue(c.logLevelFlag); v != "" {
			cfg.Log.Level = v
		}
		if err := cfg.Validate(); err != nil {
			c.configErr = fmt.Errorf("invalid configuration: %w", err)
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// explicitToken is the --token flag; the config token only seeds the resolver cache
func (c *commandContext) explicitToken() string {
	return flagValue(c.tokenFlag)
}

func (c *commandContext) logger(w io.Writer) (zerolog.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return zerolog.Nop(), err
	}
	return logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Writer: w})
}

func (c *commandContext) apiClient(log zerolog.Logger) (*client.APIClient, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return client.NewAPIClient(cfg.API.BaseURL,
		client.WithTimeouts(cfg.API.Timeouts()),
		client.WithLogger(log),
	), nil
}

// withSession builds a session wired to the console and closes it when fn returns
func (c *commandContext) withSession(cmd *cobra.Command, fn func(*session.Session, *config.Config) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	log, err := c.logger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	api, err := c.apiClient(log)
	if err != nil {
		return err
	}

	out := newConsole(cmd.OutOrStdout())
	router := result.NewRouter(api, cfg.Results.OutputDir, out, log)
	stager := staging.NewStager(cfg.Staging.ScratchDir, log)
	sess := session.New(api, auth.NewResolver(cfg.API.Token), stager, router,
		session.WithObserver(out),
		session.WithLogger(log),
	)
	defer sess.Close()

	return fn(sess, cfg)
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(dir, "faceswap-client", "config.yaml")
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func flagValue(p *string) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(*p)
}

// fileHandle keeps an empty path as a nil Handle so the session reports missing input
func fileHandle(path string) staging.Handle {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	return staging.NewFileHandle(path)
}
