package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"savesync/internal/api"
	"savesync/internal/config"
	"savesync/internal/fsutil"
	"savesync/internal/models"
)

func newPingCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the server at api_url answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cfg, func(client *api.Client) error {
				if err := client.Ping(cmd.Context()); err != nil {
					return err
				}
				if *jsonOutput {
					return writeJSON(map[string]any{"api_url": cfg.APIURL, "ok": true})
				}
				return writePlain("ok %s\n", cfg.APIURL)
			})
		},
	}
}

func newMetaCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "meta <game_id>",
		Short: "Show metadata of your save for a game",
		Args:  requireGameID,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cfg, func(client *api.Client) error {
				record, err := client.GetMeta(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeJSON(record)
				}
				return writeSaveRecord(record)
			})
		},
	}
}

func newPullCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "pull <game_id>",
		Short: "Download your save for a game",
		Args:  requireGameID,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cfg, func(client *api.Client) error {
				// The server filename is only known once the response
				// arrives, so stream into a temp file and move it after.
				dir := "."
				if outPath != "" {
					dir = filepath.Dir(outPath)
				}
				var info api.DownloadInfo
				tmpPath := filepath.Join(dir, fmt.Sprintf(".savesync-pull-%d", os.Getpid()))
				err := fsutil.WriteAtomic(tmpPath, 0o644, func(w io.Writer) error {
					var err error
					info, err = client.Download(cmd.Context(), args[0], w)
					return err
				})
				if err != nil {
					return err
				}

				target, err := pullTarget(outPath, info.Filename)
				if err != nil {
					_ = os.Remove(tmpPath)
					return err
				}
				if err := os.Rename(tmpPath, target); err != nil {
					_ = os.Remove(tmpPath)
					return err
				}
				if err := fsutil.SyncDir(filepath.Dir(target)); err != nil {
					return err
				}

				if *jsonOutput {
					return writeJSON(map[string]any{
						"game_id":  args[0],
						"path":     target,
						"filesize": info.Size,
						"sha256":   info.SHA256,
					})
				}
				return writePlain("wrote %s (%d bytes)\n", target, info.Size)
			})
		},
	}

	cmd.Flags().StringVar(&outPath, "out", "", "write to this path instead of the uploaded filename")
	return cmd
}

// pullTarget refuses server filenames that would escape the working
// directory or land on a dotfile such as .bashrc.
func pullTarget(outPath, serverName string) (string, error) {
	if outPath != "" {
		return outPath, nil
	}
	name, err := models.ValidateFilename(serverName)
	if err != nil || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("server sent unusable filename %q; pass --out", serverName)
	}
	return name, nil
}

func newPushCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "push <game_id> <path>",
		Short: "Upload a save file for a game",
		Args:  requireExactlyArgs(2, "game_id and path are required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			gameID, path := args[0], args[1]
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()

			filename := strings.TrimSpace(name)
			if filename == "" {
				filename = filepath.Base(path)
			}

			return withClient(cfg, func(client *api.Client) error {
				record, err := client.Upload(cmd.Context(), gameID, filename, f)
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeJSON(record)
				}
				return writePlain("uploaded %s for %s (%d bytes)\n", record.Filename, record.GameID, record.FileSize)
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "filename to store (defaults to the local file name)")
	return cmd
}
