package main

import (
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"triad/internal/api"
	"triad/internal/config"
)

type globalFlags struct {
	config string
	server string
	token  string
	json   bool
}

type commandContext struct {
	flags *globalFlags

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(flags *globalFlags) *commandContext {
	return &commandContext{flags: flags}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, _, err := config.Load(strings.TrimSpace(c.flags.config))
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// client builds an API client from flags, falling back to the loaded config.
func (c *commandContext) client() (*api.Client, error) {
	server := strings.TrimSpace(c.flags.server)
	token := strings.TrimSpace(c.flags.token)
	if server == "" || token == "" {
		cfg, err := c.ensureConfig()
		if err != nil {
			return nil, err
		}
		if server == "" {
			server = cfg.API.PublicBaseURL
		}
		if token == "" {
			token = cfg.API.Token
		}
	}
	return api.NewClient(server, token, nil), nil
}

func (c *commandContext) jsonOutput() bool {
	return c.flags.json
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
