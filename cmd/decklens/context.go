package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"decklens/internal/api"
	"decklens/internal/config"
	"decklens/internal/logging"
	"decklens/internal/services"
)

type commandContext struct {
	configFlag *string
	jsonFlag   *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		jsonFlag:   jsonFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, _, err := config.Load(c.configPath())
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) configPath() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

func (c *commandContext) jsonOutput() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

// output writes v as indented JSON under --json and calls text otherwise.
func (c *commandContext) output(cmd *cobra.Command, v any, text func(out io.Writer)) error {
	out := cmd.OutOrStdout()
	if c.jsonOutput() {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(out)
	return nil
}

// withService builds the runtime for one command and closes it afterwards.
func (c *commandContext) withService(cmd *cobra.Command, fn func(*api.Service) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	svc, err := api.New(cmd.Context(), cfg, api.WithLogger(logger))
	if err != nil {
		return err
	}
	defer svc.Close()
	return fn(svc)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

// exitCode maps failure classes to distinct process exit codes so scripts can
// tell bad input from transient trouble.
func exitCode(err error) int {
	switch {
	case errors.Is(err, services.ErrConfiguration):
		return 2
	case errors.Is(err, services.ErrStillProcessing):
		return 3
	case errors.Is(err, services.ErrNotFound):
		return 4
	case errors.Is(err, services.ErrRateLimited):
		return 5
	default:
		return 1
	}
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
