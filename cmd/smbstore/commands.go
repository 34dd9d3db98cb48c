package main

import (
	"fmt"
	"io"
	"io/fs"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// entry is the YAML form of file metadata.
type entry struct {
	Name    string    `yaml:"name"`
	Size    int64     `yaml:"size"`
	Mode    string    `yaml:"mode"`
	ModTime time.Time `yaml:"mtime"`
	Dir     bool      `yaml:"dir,omitempty"`
}

func newEntry(info fs.FileInfo) entry {
	return entry{
		Name:    info.Name(),
		Size:    info.Size(),
		Mode:    info.Mode().String(),
		ModTime: info.ModTime().UTC(),
		Dir:     info.IsDir(),
	}
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func pathArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func newIDCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "id",
		Short: "Print the identity key of the mount",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.storage()
			if err != nil {
				return err
			}
			defer s.Close()

			fmt.Fprintln(cmd.OutOrStdout(), s.ID())
			return nil
		},
	}
}

func newStatCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "stat [path]",
		Short: "Show metadata for a path",
		Long: `Show metadata for a path relative to the mount root.

Transport failures are logged and reported as "no metadata". For the root of
a share the modification time is the latest one among its children.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.storage()
			if err != nil {
				return err
			}
			defer s.Close()

			p := pathArg(args)
			info, ok := s.Stat(p)
			if !ok {
				return fmt.Errorf("no metadata for %q", p)
			}
			return writeYAML(cmd.OutOrStdout(), newEntry(info))
		},
	}
}

func newRmCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "rm path",
		Short: "Remove a file or directory and verify it is gone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.storage()
			if err != nil {
				return err
			}
			defer s.Close()

			removed, err := s.Unlink(args[0])
			if err != nil {
				return err
			}
			return writeYAML(cmd.OutOrStdout(), map[string]any{"path": args[0], "removed": removed})
		},
	}
}

func newChangedCmd(c *cli) *cobra.Command {
	var since string

	cmd := &cobra.Command{
		Use:   "changed [path]",
		Short: "Report whether a path changed after a point in time",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := time.Parse(time.RFC3339, since)
			if err != nil {
				return fmt.Errorf("invalid --since: %w", err)
			}

			s, err := c.storage()
			if err != nil {
				return err
			}
			defer s.Close()

			p := pathArg(args)
			updated, err := s.HasUpdated(p, t)
			if err != nil {
				return err
			}
			return writeYAML(cmd.OutOrStdout(), map[string]any{"path": p, "since": t.UTC(), "changed": updated})
		},
	}

	cmd.Flags().StringVar(&since, "since", time.Unix(0, 0).UTC().Format(time.RFC3339), "reference time (RFC 3339)")
	return cmd
}

func newLsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "ls [path]",
		Short: "List a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.storage()
			if err != nil {
				return err
			}
			defer s.Close()

			infos, err := s.ReadDir(pathArg(args))
			if err != nil {
				return err
			}
			entries := make([]entry, 0, len(infos))
			for _, info := range infos {
				entries = append(entries, newEntry(info))
			}
			return writeYAML(cmd.OutOrStdout(), entries)
		},
	}
}
