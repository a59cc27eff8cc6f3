package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"unichat/internal/models"
)

func newLoginCmd(a *app) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the access token",
		Long: `Sign in with email and password. Missing values are prompted for.

Examples:
  unichat login --email me@example.com`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var err error
			if email == "" {
				if email, err = a.prompter.prompt(ctx, "Email"); err != nil {
					return err
				}
			}
			if password == "" {
				if password, err = a.prompter.secret(ctx, "Password"); err != nil {
					return err
				}
			}
			if _, err := a.auth.Login(ctx, email, password); err != nil {
				return err
			}
			fmt.Fprintln(a.out, a.theme.successStyle().Render("Logged in as "+strings.TrimSpace(email)))
			return nil
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "account email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "account password (prompted when omitted)")
	return cmd
}

func newRegisterCmd(a *app) *cobra.Command {
	var email, username, password string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var err error
			if email == "" {
				if email, err = a.prompter.prompt(ctx, "Email"); err != nil {
					return err
				}
			}
			if username == "" {
				if username, err = a.prompter.prompt(ctx, "Username"); err != nil {
					return err
				}
			}
			if password == "" {
				if password, err = a.prompter.secret(ctx, "Password"); err != nil {
					return err
				}
			}
			if err := a.auth.Register(ctx, email, username, password); err != nil {
				return err
			}
			fmt.Fprintln(a.out, a.theme.successStyle().Render("Account created. Run `unichat login` to sign in."))
			return nil
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "account email")
	cmd.Flags().StringVarP(&username, "username", "u", "", "display name")
	cmd.Flags().StringVarP(&password, "password", "p", "", "account password (prompted when omitted)")
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the token, the selected model and every API key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.auth.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Logged out.")
			return nil
		},
	}
}

func newModelsCmd(a *app) *cobra.Command {
	var selectName string
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List models or select the one used for generation",
		Long: `List the models offered by the backend. The selected model is marked
with "*". Without a selection the first model is used.

Examples:
  unichat models
  unichat models --select gemini-2.0-flash`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			list, err := a.api.AIModels(ctx)
			if err != nil {
				return err
			}
			selected, err := a.creds.SelectedModel(ctx)
			if err != nil {
				return err
			}
			if selectName != "" {
				m, ok := findModel(list, selectName)
				if !ok {
					return fmt.Errorf("unknown model %q", selectName)
				}
				if err := a.creds.SetSelectedModel(ctx, m); err != nil {
					return err
				}
				selected = &m
			} else if selected == nil && len(list) > 0 {
				if err := a.creds.SetSelectedModel(ctx, list[0]); err != nil {
					return err
				}
				selected = &list[0]
			}
			fmt.Fprintln(a.out, a.theme.renderModels(list, selected))
			return a.keyHint(ctx, selected)
		},
	}
	cmd.Flags().StringVarP(&selectName, "select", "s", "", "model name or title to select")
	return cmd
}

func findModel(list []models.AIModel, name string) (models.AIModel, bool) {
	for _, m := range list {
		if strings.EqualFold(m.Model, name) || strings.EqualFold(m.Title, name) {
			return m, true
		}
	}
	return models.AIModel{}, false
}

// keyHint reminds the user to store a key for the selected model's provider.
func (a *app) keyHint(ctx context.Context, m *models.AIModel) error {
	if m == nil {
		return nil
	}
	key, err := a.creds.APIKey(ctx, m.Group)
	if err != nil {
		return err
	}
	if key == "" {
		fmt.Fprintln(a.out, a.theme.hintStyle().Render(fmt.Sprintf("No API key for %s yet. Run `unichat key set %s`.", m.Group, m.Group)))
	}
	return nil
}

func newKeyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage provider API keys",
	}

	var value string
	set := &cobra.Command{
		Use:   "set <provider>",
		Short: "Store the API key for a provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			provider := strings.TrimSpace(args[0])
			if value == "" {
				var err error
				if value, err = a.prompter.secret(ctx, "API key for "+provider); err != nil {
					return err
				}
			}
			if err := a.creds.SetAPIKey(ctx, provider, value); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Stored API key for %s.\n", provider)
			return nil
		},
	}
	set.Flags().StringVarP(&value, "key", "k", "", "the key (prompted when omitted)")

	del := &cobra.Command{
		Use:   "delete <provider>",
		Short: "Forget the API key for a provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.creds.DeleteAPIKey(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Removed API key for %s.\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(set, del)
	return cmd
}
