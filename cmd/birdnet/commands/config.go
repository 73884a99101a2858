package commands

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"github.com/FrLars21/bioacoustics/cmd/birdnet/internal/config"
	"github.com/FrLars21/bioacoustics/pkg/cli"
)

// validateServiceName checks that a service name is non-empty and safe for use as a filename.
func validateServiceName(service string) error {
	if service == "" {
		return fmt.Errorf("service name cannot be empty")
	}
	if strings.ContainsAny(service, "/\\") {
		return fmt.Errorf("service name %q must not contain path separators", service)
	}
	if strings.HasPrefix(service, ".") {
		return fmt.Errorf("service name %q must not start with '.'", service)
	}
	return nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage CLI configuration",
	Long: `Manage contexts and service configurations.

A context is a named directory holding per-service YAML config files.
The classifier settings live in birdnet.yaml.

Keys are dotted paths into the service file.

Examples:
  birdnet config list-contexts
  birdnet config add-context field --artifacts /data/birdnet/v2.4
  birdnet config use-context field
  birdnet config current-context
  birdnet config set field birdnet pipeline.top_k 5
  birdnet config get field birdnet artifacts.dir
  birdnet config show
  birdnet config edit field birdnet`,
}

type contextRow struct {
	Current  bool     `json:"current" yaml:"current"`
	Name     string   `json:"name" yaml:"name"`
	Services []string `json:"services" yaml:"services"`
}

type contextList []contextRow

func (l contextList) Header() []string { return []string{"CURRENT", "NAME", "SERVICES"} }

func (l contextList) Rows() [][]string {
	rows := make([][]string, len(l))
	for i, c := range l {
		current := ""
		if c.Current {
			current = "*"
		}
		rows[i] = []string{current, c.Name, strings.Join(c.Services, ", ")}
	}
	return rows
}

var configListContextsCmd = &cobra.Command{
	Use:     "list-contexts",
	Aliases: []string{"ls"},
	Short:   "List all contexts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		names, err := cfg.ListContexts()
		if err != nil {
			return err
		}

		if len(names) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No contexts configured.")
			fmt.Fprintln(cmd.OutOrStdout(), "Create one with: birdnet config add-context <name>")
			return nil
		}

		list := make(contextList, 0, len(names))
		for _, name := range names {
			services, _ := config.ListServices(cfg.ContextDir(name))
			list = append(list, contextRow{
				Current:  name == cfg.CurrentContext,
				Name:     name,
				Services: services,
			})
		}
		if !cmd.Flags().Changed("output") && jqQuery == "" {
			outputFormat = string(cli.FormatTable)
		}
		return output(cmd, list)
	},
}

var addContextArtifacts string

var configAddContextCmd = &cobra.Command{
	Use:   "add-context <name>",
	Short: "Create a new context",
	Long: `Create a new context. With --artifacts, a birdnet.yaml reading the
classifier release from that directory is written as well.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		name := args[0]

		if err := cfg.AddContext(name); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if addContextArtifacts != "" {
			if err := config.SaveService(cfg.ContextDir(name), config.ServiceName, config.Default(addContextArtifacts)); err != nil {
				return err
			}
			cli.PrintSuccess(out, "Context %q created with artifacts at %s.", name, addContextArtifacts)
			return nil
		}
		cli.PrintSuccess(out, "Context %q created.", name)
		fmt.Fprintf(out, "Configure it with: birdnet config set %s birdnet artifacts.dir <path>\n", name)
		return nil
	},
}

var configDeleteContextCmd = &cobra.Command{
	Use:   "delete-context <name>",
	Short: "Delete a context and all its service configs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		name := args[0]

		if err := cfg.DeleteContext(name); err != nil {
			return err
		}
		cli.PrintSuccess(cmd.OutOrStdout(), "Context %q deleted.", name)
		return nil
	},
}

var configUseContextCmd = &cobra.Command{
	Use:   "use-context <name>",
	Short: "Set the current context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		name := args[0]

		if err := cfg.UseContext(name); err != nil {
			return err
		}
		cli.PrintSuccess(cmd.OutOrStdout(), "Switched to context %q.", name)
		return nil
	},
}

var configCurrentContextCmd = &cobra.Command{
	Use:   "current-context",
	Short: "Display the current context name",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		if cfg.CurrentContext == "" {
			fmt.Fprintln(cmd.OutOrStdout(), "No current context set.")
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), cfg.CurrentContext)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <context> <service> <key> <value>",
	Short: "Set a service config value",
	Long: `Set a value in a service's YAML config file. The key is a dotted path
and the value is parsed as YAML, so numbers and booleans keep their type.

Examples:
  birdnet config set field birdnet artifacts.dir /data/birdnet/v2.4
  birdnet config set field birdnet pipeline.top_k 5
  birdnet config set field birdnet artifacts.s3.path_style true`,
	Args: cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		ctxName, service, key, value := args[0], args[1], args[2], args[3]
		if err := config.ValidateContextName(ctxName); err != nil {
			return err
		}
		if err := validateServiceName(service); err != nil {
			return err
		}

		contextDir := cfg.ContextDir(ctxName)
		if _, err := os.Stat(contextDir); os.IsNotExist(err) {
			return fmt.Errorf("context %q not found", ctxName)
		}

		m := map[string]any{}
		if _, statErr := os.Stat(cfg.ServicePath(ctxName, service)); statErr == nil {
			existing, loadErr := config.LoadService[map[string]any](contextDir, service)
			if loadErr != nil {
				return fmt.Errorf("cannot read existing %s config: %w", service, loadErr)
			}
			// Empty YAML files unmarshal to a nil map.
			if *existing != nil {
				m = *existing
			}
		}

		var v any
		if err := yaml.Unmarshal([]byte(value), &v); err != nil || v == nil {
			v = value
		}
		if err := setPath(m, key, v); err != nil {
			return err
		}
		if err := config.SaveService(contextDir, service, &m); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Set %s.%s = %v (context: %s)\n", service, key, v, ctxName)
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <context> <service> <key>",
	Short: "Get a service config value",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		ctxName, service, key := args[0], args[1], args[2]
		if err := config.ValidateContextName(ctxName); err != nil {
			return err
		}
		if err := validateServiceName(service); err != nil {
			return err
		}

		m, err := config.LoadService[map[string]any](cfg.ContextDir(ctxName), service)
		if err != nil {
			return err
		}
		if *m == nil {
			return fmt.Errorf("key %q not found in %s config (file is empty)", key, service)
		}

		val, ok := getPath(*m, key)
		if !ok {
			return fmt.Errorf("key %q not found in %s config", key, service)
		}
		switch val.(type) {
		case map[string]any, []any:
			return output(cmd, val)
		}
		fmt.Fprintln(cmd.OutOrStdout(), val)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show and validate the birdnet config of a context",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := loadService()
		if err != nil {
			return err
		}
		return output(cmd, svc)
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit <context> <service>",
	Short: "Open a service config in the default editor",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		ctxName, service := args[0], args[1]
		if err := config.ValidateContextName(ctxName); err != nil {
			return err
		}
		if err := validateServiceName(service); err != nil {
			return err
		}

		path := cfg.ServicePath(ctxName, service)

		dir := cfg.ContextDir(ctxName)
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			return fmt.Errorf("context %q not found", ctxName)
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if err := os.WriteFile(path, []byte("# "+service+" configuration\n"), 0600); err != nil {
				return fmt.Errorf("create %s: %w", path, err)
			}
		}

		editor := os.Getenv("EDITOR")
		if editor == "" {
			editor = "vi"
		}

		c := exec.Command(editor, path)
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		return c.Run()
	},
}

// setPath stores v at a dotted key, creating intermediate maps.
func setPath(m map[string]any, key string, v any) error {
	parts := strings.Split(key, ".")
	for i, p := range parts {
		if p == "" {
			return fmt.Errorf("invalid key %q", key)
		}
		if i == len(parts)-1 {
			m[p] = v
			return nil
		}
		next, ok := m[p].(map[string]any)
		if !ok {
			if _, exists := m[p]; exists {
				return fmt.Errorf("key %q: %s is not a mapping", key, strings.Join(parts[:i+1], "."))
			}
			next = map[string]any{}
			m[p] = next
		}
		m = next
	}
	return nil
}

// getPath looks up a dotted key.
func getPath(m map[string]any, key string) (any, bool) {
	var cur any = m
	for _, p := range strings.Split(key, ".") {
		mm, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = mm[p]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func init() {
	configAddContextCmd.Flags().StringVar(&addContextArtifacts, "artifacts", "", "local artifact directory for a new birdnet.yaml")

	configCmd.AddCommand(configListContextsCmd)
	configCmd.AddCommand(configAddContextCmd)
	configCmd.AddCommand(configDeleteContextCmd)
	configCmd.AddCommand(configUseContextCmd)
	configCmd.AddCommand(configCurrentContextCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)

	rootCmd.AddCommand(configCmd)
}
