/*
Copyright 2024-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/couchbase/stellar-topology/contrib/kvstore"
	"github.com/couchbase/stellar-topology/topology"
	"github.com/couchbase/stellar-topology/vshardcfg"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func init() {
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return setupApp(cmd)
	}
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		if globalApp != nil {
			globalApp.shutdown(context.Background())
		}
	}

	initCmd.Flags().String("options", "", "initial topology options as a JSON object")
	rootCmd.AddCommand(initCmd)

	instanceCmd := &cobra.Command{Use: "instance", Short: "Manage instances"}
	instanceAddCmd.Flags().String("options", "", "instance options as a JSON object")
	instanceSetCmd.Flags().String("options", "", "instance options to merge as a JSON object")
	instanceCmd.AddCommand(instanceAddCmd, instanceRmCmd, instanceSetCmd, instanceReachableCmd, instanceUnreachableCmd)
	rootCmd.AddCommand(instanceCmd)

	replicasetCmd := &cobra.Command{Use: "replicaset", Short: "Manage replicasets"}
	replicasetAddCmd.Flags().String("options", "", "replicaset options as a JSON object")
	replicasetSetCmd.Flags().String("options", "", "replicaset options to merge as a JSON object")
	replicasetCmd.AddCommand(replicasetAddCmd, replicasetRmCmd, replicasetSetCmd)
	rootCmd.AddCommand(replicasetCmd)

	optionsCmd := &cobra.Command{Use: "options", Short: "Manage global topology options"}
	optionsSetCmd.Flags().String("options", "", "topology options to merge as a JSON object")
	optionsCmd.AddCommand(optionsSetCmd)
	rootCmd.AddCommand(optionsCmd)

	deriveCmd.Flags().String("group", "", "the vshard group to derive (defaults to all groups)")
	rootCmd.AddCommand(deriveCmd, instanceConfigCmd, showCmd, watchCmd, serveCmd)
}

// parseOptions decodes the --options flag.  An empty flag yields nil.
func parseOptions(cmd *cobra.Command) (map[string]interface{}, error) {
	raw, _ := cmd.Flags().GetString("options")
	if raw == "" {
		return nil, nil
	}

	var opts map[string]interface{}
	err := json.Unmarshal([]byte(raw), &opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse --options")
	}

	return opts, nil
}

func printJSON(val interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(val)
}

// withSession runs fn against an autocommit session of the configured
// topology.
func withSession(cmd *cobra.Command, fn func(ctx context.Context, s *topology.Session) error) error {
	ctx := cmd.Context()

	s, err := globalApp.openSession(ctx, nil)
	if err != nil {
		return err
	}

	return fn(ctx, s)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the topology if it does not exist yet",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := parseOptions(cmd)
		if err != nil {
			return err
		}

		s, err := globalApp.openSession(cmd.Context(), opts)
		if err != nil {
			return err
		}

		version, err := s.Version(cmd.Context())
		if err != nil {
			return err
		}

		globalApp.logger.Info("topology ready",
			zap.String("topology", s.Name()),
			zap.Int64("version", version))
		return nil
	},
}

var instanceAddCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Register a new instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := parseOptions(cmd)
		if err != nil {
			return err
		}

		return withSession(cmd, func(ctx context.Context, s *topology.Session) error {
			err := s.CreateNode(ctx, args[0], opts)
			if err != nil {
				return err
			}

			node, err := s.GetNode(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(node)
		})
	},
}

var instanceRmCmd = &cobra.Command{
	Use:   "rm NAME",
	Short: "Expel an instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *topology.Session) error {
			return s.DeleteNode(ctx, args[0])
		})
	},
}

var instanceSetCmd = &cobra.Command{
	Use:   "set NAME",
	Short: "Update the options of an instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := parseOptions(cmd)
		if err != nil {
			return err
		}

		return withSession(cmd, func(ctx context.Context, s *topology.Session) error {
			return s.SetNodeOptions(ctx, args[0], opts)
		})
	},
}

var instanceReachableCmd = &cobra.Command{
	Use:   "reachable NAME",
	Short: "Mark an instance as reachable",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *topology.Session) error {
			return s.SetNodeReachable(ctx, args[0])
		})
	},
}

var instanceUnreachableCmd = &cobra.Command{
	Use:   "unreachable NAME",
	Short: "Mark an instance as unreachable",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *topology.Session) error {
			return s.SetNodeUnreachable(ctx, args[0])
		})
	},
}

var replicasetAddCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Register a new replicaset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := parseOptions(cmd)
		if err != nil {
			return err
		}

		return withSession(cmd, func(ctx context.Context, s *topology.Session) error {
			err := s.CreateReplicaGroup(ctx, args[0], opts)
			if err != nil {
				return err
			}

			rs, err := s.GetReplicaGroup(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(rs)
		})
	},
}

var replicasetRmCmd = &cobra.Command{
	Use:   "rm NAME",
	Short: "Remove a replicaset without members",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *topology.Session) error {
			return s.DeleteReplicaGroup(ctx, args[0])
		})
	},
}

var replicasetSetCmd = &cobra.Command{
	Use:   "set NAME",
	Short: "Update the options of a replicaset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := parseOptions(cmd)
		if err != nil {
			return err
		}

		return withSession(cmd, func(ctx context.Context, s *topology.Session) error {
			return s.SetReplicaGroupOptions(ctx, args[0], opts)
		})
	},
}

var optionsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Update the global topology options",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := parseOptions(cmd)
		if err != nil {
			return err
		}

		return withSession(cmd, func(ctx context.Context, s *topology.Session) error {
			return s.SetTopologyOptions(ctx, opts)
		})
	},
}

var showCmd = &cobra.Command{
	Use:   "show [PATH]",
	Short: "Print the stored topology, or the dotted sub-path of it",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *topology.Session) error {
			if len(args) == 1 {
				val, ok, err := kvstore.GetPath(ctx, globalApp.store, s.Name()+"."+args[0])
				if err != nil {
					return err
				}
				if !ok {
					return errors.Wrapf(topology.ErrNotFound, "%s", args[0])
				}
				return printJSON(val)
			}

			state, err := s.Snapshot(ctx)
			if err != nil {
				return err
			}
			return printJSON(state)
		})
	},
}

var deriveCmd = &cobra.Command{
	Use:   "derive",
	Short: "Print the vshard sharding config",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		group, _ := cmd.Flags().GetString("group")

		return withSession(cmd, func(ctx context.Context, s *topology.Session) error {
			if group == "" {
				configs, err := vshardcfg.DeriveAll(ctx, s)
				if err != nil {
					return err
				}
				return printJSON(configs)
			}

			cfg, err := vshardcfg.DeriveShardingConfig(ctx, s, group)
			if err != nil {
				return err
			}
			return printJSON(cfg)
		})
	},
}

var instanceConfigCmd = &cobra.Command{
	Use:   "instance-config NAME",
	Short: "Print the runtime config of an instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *topology.Session) error {
			cfg, err := vshardcfg.DeriveNodeConfig(ctx, s, args[0])
			if err != nil {
				return err
			}
			return printJSON(cfg)
		})
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print the topology version every time it changes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		return withSession(cmd, func(_ context.Context, s *topology.Session) error {
			return s.WatchChanges(ctx, func(ctx context.Context, version int64) error {
				_, err := fmt.Fprintln(os.Stdout, version)
				return err
			}, globalApp.config.pollInterval)
		})
	},
}
