package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"unichat/internal/chat"
	"unichat/internal/upload"
)

func newSessionsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List chat sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := a.api.Sessions(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, a.theme.renderSessions(list))
			return nil
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session with its history and files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.newCoordinator()
			if err != nil {
				return err
			}
			defer c.Close()
			if !c.DeleteSession(cmd.Context(), args[0]) {
				return fmt.Errorf("session %s not found or could not be deleted", args[0])
			}
			fmt.Fprintf(a.out, "Deleted session %s.\n", args[0])
			return nil
		},
	})
	return cmd
}

func newFilesCmd(a *app) *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "files",
		Short: "List the files attached to a session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.sessionCoordinator(cmd, sessionID)
			if err != nil {
				return err
			}
			defer c.Close()
			fmt.Fprintln(a.out, a.theme.renderFiles(c.DocumentFiles(), c.AudioVideoFiles()))
			return nil
		},
	}
	cmd.PersistentFlags().StringVarP(&sessionID, "session", "s", "", "session id")

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <file-id>",
		Short: "Delete a file from a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.sessionCoordinator(cmd, sessionID)
			if err != nil {
				return err
			}
			defer c.Close()
			if !c.DeleteFile(cmd.Context(), args[0]) {
				return fmt.Errorf("file %s not found or could not be deleted", args[0])
			}
			fmt.Fprintf(a.out, "Deleted file %s.\n", args[0])
			return nil
		},
	})
	return cmd
}

func newUploadCmd(a *app) *cobra.Command {
	var sessionID, mediaURL, query string
	cmd := &cobra.Command{
		Use:   "upload [file...]",
		Short: "Attach documents, recordings or a media URL to a session",
		Long: `Upload documents and audio/video files, or hand the backend a media URL to
process. Without --session a new session is created.

Accepted: .pdf .doc .docx .txt .wav .mp3 .mp4 (at most 10 files).

Examples:
  unichat upload notes.pdf lecture.mp3 --session <id>
  unichat upload --url https://youtu.be/xyz --query "main argument?"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if len(args) == 0 && mediaURL == "" {
				return errors.New("nothing to upload: pass files or --url")
			}
			files, err := localFiles(args)
			if err != nil {
				return err
			}
			c, err := a.coordinator(ctx, sessionID)
			if err != nil {
				return err
			}
			defer c.Close()
			return a.printUpload(c.Upload(ctx, upload.Request{Files: files, URL: mediaURL, Query: query}))
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session id (a new session is created when omitted)")
	cmd.Flags().StringVar(&mediaURL, "url", "", "media URL to process")
	cmd.Flags().StringVarP(&query, "query", "q", "", "question about the media URL")
	return cmd
}

func newActionCmd(a *app) *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "action <summarize|full_script> <file-name>",
		Short: "Summarize or transcribe an uploaded audio/video file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			action := args[0]
			if action != chat.ActionSummarize && action != chat.ActionFullScript {
				return fmt.Errorf("unknown action %q", action)
			}
			c, err := a.sessionCoordinator(cmd, sessionID)
			if err != nil {
				return err
			}
			defer c.Close()
			tr := newTranscript(a, c)
			tr.markSeen()
			if err := c.AudioAction(cmd.Context(), args[1], action); err != nil {
				return err
			}
			tr.flush()
			return nil
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session id")
	return cmd
}

// sessionCoordinator mounts an existing session; --session is required.
func (a *app) sessionCoordinator(cmd *cobra.Command, sessionID string) (*chat.Coordinator, error) {
	if sessionID == "" {
		return nil, errors.New("--session is required")
	}
	return a.coordinator(cmd.Context(), sessionID)
}

func localFiles(paths []string) ([]upload.LocalFile, error) {
	files := make([]upload.LocalFile, 0, len(paths))
	for _, p := range paths {
		f, err := upload.FromPath(p)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

func (a *app) printUpload(res upload.Result) error {
	if !res.Success {
		return errors.New(res.Error)
	}
	fmt.Fprintln(a.out, a.theme.successStyle().Render("Upload complete."))
	return nil
}
