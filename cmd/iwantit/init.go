// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pdiddy/iwantit/internal/config"
)

// secretsTemplate seeds secrets.yaml. Values here are merged over the
// config file, so keys stay out of config.yaml.
const secretsTemplate = `# iwantit credentials. Merged over config.yaml; keep this file private.
prowlarr:
  api_key: ""
redacted:
  api_key: ""
radarr:
  api_key: ""
sonarr:
  api_key: ""
web_search:
  providers:
    kagi:
      api_key: ""
    brave:
      api_key: ""
`

func newInitCommand(ctx *commandContext) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write the default configuration",
		Long:        "Init writes the default configuration to --config (or the default config path) and a secrets.yaml template next to it.",
		Args:        cobra.NoArgs,
		Annotations: skipConfig,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultConfigPath()
			if ctx.flags.config != "" {
				path = config.ExpandHome(ctx.flags.config)
			}
			if err := config.WriteDefault(path, force); err != nil {
				if errors.Is(err, config.ErrExists) {
					return fmt.Errorf("%w (use --force to overwrite)", err)
				}
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "wrote %s\n", path)

			secrets := filepath.Join(filepath.Dir(path), "secrets.yaml")
			if _, err := os.Stat(secrets); err == nil {
				return nil
			}
			if err := os.WriteFile(secrets, []byte(secretsTemplate), 0o600); err != nil {
				return err
			}
			fmt.Fprintf(out, "wrote %s\n", secrets)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}
