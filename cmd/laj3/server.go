package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/laj3/laj3/internal/server"
)

var serverCmd = &cobra.Command{
	Use:   "server [flags]",
	Short: "Serve project trees to installing clients",
	Long: `Serve one or more projects over TCP. A single project comes from
--name/--root/--file; several projects come from a YAML config:

    projects:
      - name: app
        root: /srv/app
        dict: /srv/app.dict

Flags may also be set through LAJ3_* environment variables.`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		if cfg, _ := cmd.Flags().GetString("config"); cfg != "" {
			viper.SetConfigFile(cfg)
			if err := viper.ReadInConfig(); err != nil {
				return fmt.Errorf("config read %q: %w", cfg, err)
			}
		}

		viper.BindPFlag("port", cmd.Flags().Lookup("port"))
		viper.BindPFlag("max_conns", cmd.Flags().Lookup("max-conns"))
		viper.BindPFlag("idle_timeout", cmd.Flags().Lookup("idle-timeout"))
		viper.SetEnvPrefix("LAJ3")
		viper.AutomaticEnv()
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		registry, err := loadRegistry(cmd)
		if err != nil {
			return err
		}

		srv, err := server.New(server.Config{
			Addr:        fmt.Sprintf(":%d", viper.GetInt("port")),
			MaxConns:    viper.GetInt64("max_conns"),
			IdleTimeout: viper.GetDuration("idle_timeout"),
		}, registry)
		if err != nil {
			return err
		}

		return srv.Start(cmd.Context())
	},
}

func loadRegistry(cmd *cobra.Command) (*server.Registry, error) {
	var configs []server.ProjectConfig

	if viper.IsSet("projects") {
		if err := viper.UnmarshalKey("projects", &configs); err != nil {
			return nil, fmt.Errorf("parse projects config: %w", err)
		}
	} else {
		name, _ := cmd.Flags().GetString("name")
		root, _ := cmd.Flags().GetString("root")
		file, _ := cmd.Flags().GetString("file")
		if file == "" {
			return nil, errors.New("either --config or --file is required")
		}
		configs = []server.ProjectConfig{{Name: name, Root: root, Dict: file}}
	}

	projects := make([]*server.Project, 0, len(configs))
	for _, pc := range configs {
		p, err := server.LoadProject(pc.Name, pc.Root, pc.Dict)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return server.NewRegistry(projects...)
}

func init() {
	serverCmd.Flags().SortFlags = false
	serverCmd.Flags().IntP("port", "p", 7437, "port to listen on")
	serverCmd.Flags().String("name", "default", "project name for single-project mode")
	serverCmd.Flags().String("root", ".", "project root directory for single-project mode")
	serverCmd.Flags().StringP("file", "f", "", "project dictionary file for single-project mode")
	serverCmd.Flags().StringP("config", "c", "", "YAML config with a projects list")
	serverCmd.Flags().Int64("max-conns", server.DefaultMaxConns, "maximum concurrent connections")
	serverCmd.Flags().Duration("idle-timeout", server.DefaultIdleTimeout, "close idle connections after this long")
}

