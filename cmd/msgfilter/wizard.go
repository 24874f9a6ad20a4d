package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"msgfilter/internal/config"
	"msgfilter/internal/pattern"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// wizardField is one prompt of the init wizard.
type wizardField struct {
	Key      string
	Prompt   string
	Required bool
	Integer  bool
}

var wizardFields = []wizardField{
	{Key: config.EnvAPIID, Prompt: "API ID (from my.telegram.org)", Required: true, Integer: true},
	{Key: config.EnvAPIHash, Prompt: "API hash", Required: true},
	{Key: config.EnvSourceChatID, Prompt: "Source chat ID (e.g. -1001234567890)", Required: true, Integer: true},
	{Key: config.EnvDestinationChatID, Prompt: "Destination chat ID", Required: true, Integer: true},
	{Key: config.EnvSessionName, Prompt: "Session name"},
	{Key: config.EnvPhone, Prompt: "Phone number for the first login (international format)"},
	{Key: config.EnvFilterPatterns, Prompt: "Filter patterns, separated by ';'"},
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Interactive setup: write the .env file",
		Long:  "Asks for the Telegram credentials, chats and filter patterns and writes them to the --env-file path (default ./.env). Existing values are offered as defaults.",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := envFile
			if path == "" {
				path = config.DefaultEnvFile
			}
			existing, err := godotenv.Read(path)
			if err != nil {
				existing = map[string]string{}
			}
			if _, ok := existing[config.EnvSessionName]; !ok {
				existing[config.EnvSessionName] = config.Defaults().SessionName
			}

			values, err := runWizard(cmd.InOrStdin(), cmd.OutOrStdout(), existing)
			if err != nil {
				return err
			}
			if err := godotenv.Write(values, path); err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}
			if err := os.Chmod(path, 0o600); err != nil {
				logger.Warn("cannot restrict env file permissions", "path", path, "err", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\nSaved %s. Run 'msgfilter doctor' to verify, then 'msgfilter run'.\n", path)
			return nil
		},
	}
}

// runWizard prompts for every wizard field. Empty answers keep the default;
// required fields and integers are asked again until valid.
func runWizard(in io.Reader, out io.Writer, defaults map[string]string) (map[string]string, error) {
	reader := bufio.NewReader(in)
	values := make(map[string]string, len(defaults))
	for k, v := range defaults {
		values[k] = v
	}

	prompt := func(label, def string) (string, error) {
		if def != "" {
			fmt.Fprintf(out, "%s [%s]: ", label, def)
		} else {
			fmt.Fprintf(out, "%s: ", label)
		}
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return "", err
		}
		s := strings.TrimSpace(line)
		if s == "" {
			return def, nil
		}
		return s, nil
	}

	for _, f := range wizardFields {
		for {
			v, err := prompt(f.Prompt, values[f.Key])
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", f.Key, err)
			}
			if v == "" && f.Required {
				fmt.Fprintf(out, "  %s is required.\n", f.Key)
				continue
			}
			if v != "" && f.Integer {
				if _, err := strconv.ParseInt(v, 10, 64); err != nil {
					fmt.Fprintf(out, "  %s must be an integer.\n", f.Key)
					continue
				}
			}
			if v != "" {
				values[f.Key] = v
			}
			break
		}
	}

	templates := pattern.ParseTemplates(values[config.EnvFilterPatterns])
	if len(templates) == 0 {
		fmt.Fprintln(out, "  Warning: no filter patterns; the relay will not forward anything.")
	}
	return values, nil
}
