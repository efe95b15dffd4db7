package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// newRootCmd mirrors the teacher's cobra root-plus-serve split
// (cmd/helix/root.go + serve.go): a bare root command whose only real
// subcommand is serve.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "shiftd",
		Short: "shiftd is the shift display compositor daemon",
		Long:  "shiftd owns the physical displays and arbitrates which session's buffers are presented.",
	}
	root.AddCommand(newServeCmd())
	return root
}

func newServeCmd() *cobra.Command {
	v := viper.New()
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the compositor daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := Load(v, cfgFile)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.String("socket", "/tmp/shift.sock", "control-plane socket path (env SHIFT_SOCKET)")
	flags.String("drm-device", "/dev/dri/card0", "DRM device node (env SHIFT_DRM_DEVICE)")
	flags.String("log-level", "info", "log level: debug, info, warn, error (env SHIFT_LOG_LEVEL)")
	flags.StringSlice("admin-command", nil, "admin client command line, e.g. --admin-command=/usr/bin/shift-admin (env SHIFT_ADMIN_COMMAND)")
	flags.StringVar(&cfgFile, "config", "", "path to an optional config file")

	bind := map[string]string{
		"socket":        "socket",
		"drm-device":    "drm_device",
		"log-level":     "log_level",
		"admin-command": "admin_command",
	}
	for flagName, key := range bind {
		if err := v.BindPFlag(key, flags.Lookup(flagName)); err != nil {
			panic(err)
		}
	}

	return cmd
}
