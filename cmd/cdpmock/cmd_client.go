package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"cdpmock/internal/client"
	"cdpmock/internal/query"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether interception is on and which tabs are attached",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		st, err := c.Status(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "enabled: %t\n", st.Enabled)
		if len(st.AttachedTabs) == 0 {
			fmt.Fprintln(out, "attached: none")
			return nil
		}
		fmt.Fprintln(out, "attached:")
		for _, tab := range st.AttachedTabs {
			fmt.Fprintf(out, "  %s\n", tab)
		}
		return nil
	},
}

var enableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Turn interception on and attach the active tab",
	RunE: func(cmd *cobra.Command, args []string) error {
		return setEnabled(cmd, true)
	},
}

var disableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Turn interception off and detach every tab",
	RunE: func(cmd *cobra.Command, args []string) error {
		return setEnabled(cmd, false)
	},
}

var ruleCmd = &cobra.Command{
	Use:     "rule",
	Aliases: []string{"rules"},
	Short:   "Manage mock rules",
}

var ruleListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List rules in evaluation order",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		expr, _ := cmd.Flags().GetString("query")
		if expr != "" {
			raw, err := c.RulesJSON(cmd.Context())
			if err != nil {
				return err
			}
			results, err := query.Run(raw, expr)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			for _, v := range results {
				if err := enc.Encode(v); err != nil {
					return err
				}
			}
			return nil
		}

		rules, err := c.ListRules(cmd.Context())
		if err != nil {
			return err
		}
		if len(rules) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No rules.")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "INDEX\tENABLED\tSTATUS\tDELAY\tPATTERN\tBODY")
		for i, r := range rules {
			body := r.ResponseBody.Text
			if r.ResponseBody.IsStructured() {
				body = string(r.ResponseBody.JSON)
			}
			fmt.Fprintf(w, "%d\t%t\t%d\t%dms\t%s\t%s\n", i, r.Enabled, r.Status(), r.DelayMS, r.Pattern, truncate(body, 40))
		}
		return w.Flush()
	},
}

var ruleAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Append a rule",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		doc, err := ruleFromFlags(cmd)
		if err != nil {
			return err
		}
		if err := c.AddRule(cmd.Context(), doc); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "rule added")
		return nil
	},
}

var ruleUpdateCmd = &cobra.Command{
	Use:   "update <index>",
	Short: "Replace the rule at index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := parseIndex(args[0])
		if err != nil {
			return err
		}
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		doc, err := ruleFromFlags(cmd)
		if err != nil {
			return err
		}
		if err := c.UpdateRule(cmd.Context(), index, doc); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "rule %d updated\n", index)
		return nil
	},
}

var ruleDeleteCmd = &cobra.Command{
	Use:     "delete <index>",
	Aliases: []string{"rm"},
	Short:   "Delete the rule at index",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return indexAction(cmd, args[0], "deleted", (*client.Client).DeleteRule)
	},
}

var ruleToggleCmd = &cobra.Command{
	Use:   "toggle <index>",
	Short: "Flip the enabled flag of the rule at index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return indexAction(cmd, args[0], "toggled", (*client.Client).ToggleRule)
	},
}

var ruleClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every rule",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		if err := c.ClearRules(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "rules cleared")
		return nil
	},
}

func init() {
	ruleListCmd.Flags().StringP("query", "q", "", "jq expression applied to the rules array")
	for _, c := range []*cobra.Command{ruleAddCmd, ruleUpdateCmd} {
		f := c.Flags()
		f.StringP("pattern", "p", "", "regular expression matched against the request URL")
		f.IntP("status", "s", 0, "response status code (200 when 0)")
		f.Int("delay", 0, "delay in milliseconds before responding")
		f.StringP("body", "b", "", "response body")
		f.Bool("json", false, "treat --body as a JSON document")
		f.StringArrayP("header", "H", nil, "response header as 'Name: Value', repeatable")
		f.Bool("disabled", false, "store the rule switched off")
		_ = c.MarkFlagRequired("pattern")
	}
	ruleCmd.AddCommand(ruleListCmd, ruleAddCmd, ruleUpdateCmd, ruleDeleteCmd, ruleToggleCmd, ruleClearCmd)
	rootCmd.AddCommand(statusCmd, enableCmd, disableCmd, ruleCmd)
}

// newClient 优先使用 --server，否则取配置中的监听地址
func newClient(cmd *cobra.Command) (*client.Client, error) {
	addr, _ := cmd.Flags().GetString("server")
	if addr == "" {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return nil, err
		}
		addr = cfg.Web.ListenAddr
	}
	return client.New(addr), nil
}

func setEnabled(cmd *cobra.Command, enabled bool) error {
	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	if err := c.SetEnabled(cmd.Context(), enabled); err != nil {
		return err
	}
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "interception %s\n", state)
	return nil
}

func indexAction(cmd *cobra.Command, arg, verb string, fn func(*client.Client, context.Context, int) error) error {
	index, err := parseIndex(arg)
	if err != nil {
		return err
	}
	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	if err := fn(c, cmd.Context(), index); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "rule %d %s\n", index, verb)
	return nil
}

func ruleFromFlags(cmd *cobra.Command) ([]byte, error) {
	f := cmd.Flags()
	var in client.RuleInput
	in.Pattern, _ = f.GetString("pattern")
	in.StatusCode, _ = f.GetInt("status")
	in.DelayMS, _ = f.GetInt("delay")
	in.Body, _ = f.GetString("body")
	in.BodyIsJSON, _ = f.GetBool("json")
	in.Headers, _ = f.GetStringArray("header")
	in.Disabled, _ = f.GetBool("disabled")
	return client.BuildRule(in)
}

func parseIndex(s string) (int, error) {
	i, err := strconv.Atoi(s)
	if err != nil || i < 0 {
		return 0, fmt.Errorf("invalid index %q", s)
	}
	return i, nil
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
