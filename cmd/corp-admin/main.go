// ABOUTME: Admin CLI for corp-gateway corporations and their wallets
// ABOUTME: Talks to the HTTP API with a JWT admin token for audit and removal

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/2389/corp-gateway/internal/api"
	"github.com/2389/corp-gateway/internal/client"
)

const banner = `
                                     _           _
  ___ ___  _ __ _ __         __ _  __| |_ __ ___ (_)_ __
 / __/ _ \| '__| '_ \ _____ / _' |/ _' | '_ ' _ \| | '_ \
| (_| (_) | |  | |_) |_____| (_| | (_| | | | | | | | | | |
 \___\___/|_|  | .__/       \__,_|\__,_|_| |_| |_|_|_| |_|
               |_|
`

// requestTimeout bounds each CLI command.
const requestTimeout = 15 * time.Second

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stdout)
		os.Exit(1)
	}

	c := client.New(getEnv("CORP_GATEWAY_URL", "http://localhost:8080"), client.WithToken(getToken()))
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if err := run(ctx, c, os.Stdout, os.Args[1], os.Args[2:]); err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

// run dispatches one command. Output goes to out so tests can capture it.
func run(ctx context.Context, c *client.Client, out io.Writer, cmd string, args []string) error {
	switch cmd {
	case "status":
		return cmdStatus(ctx, c, out)
	case "group":
		return cmdGroup(ctx, c, out, args)
	case "wallets":
		return cmdWallets(ctx, c, out, args)
	case "ensure":
		return cmdEnsure(ctx, c, out, args)
	case "name":
		return cmdName(ctx, c, out, args)
	case "nickname":
		return cmdNickname(ctx, c, out, args)
	case "audit":
		return cmdAudit(ctx, c, out, args)
	case "remove":
		return cmdRemove(ctx, c, out, args)
	case "help", "-h", "--help":
		printUsage(out)
		return nil
	default:
		printUsage(out)
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func printUsage(out io.Writer) {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Fprint(out, banner)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Usage: corp-admin <command> [args]")
	fmt.Fprintln(out)
	yellow.Fprintln(out, "Commands:")
	fmt.Fprintln(out, "  status                        Show gateway reachability and token")
	fmt.Fprintln(out, "  group <wallet>                Show the corporation a wallet belongs to")
	fmt.Fprintln(out, "  wallets <group-id>            List a corporation's wallets")
	fmt.Fprintln(out, "  ensure <wallet>               Create a corporation for a wallet")
	fmt.Fprintln(out, "  name <group-id> [name]        Show or set a corporation's display name")
	fmt.Fprintln(out, "  nickname <wallet> [nickname]  Set a wallet nickname (--clear to remove)")
	fmt.Fprintln(out, "  audit <group-id> [--limit N]  Show the audit trail (admin)")
	fmt.Fprintln(out, "  remove <wallet>               Remove a wallet from its corporation (admin)")
	fmt.Fprintln(out)
	yellow.Fprintln(out, "Environment:")
	fmt.Fprintln(out, "  CORP_GATEWAY_URL   Gateway base URL (default: http://localhost:8080)")
	fmt.Fprintln(out, "  CORP_TOKEN         Admin JWT (default: ~/.config/corp/token)")
	fmt.Fprintln(out)
}

func cmdStatus(ctx context.Context, c *client.Client, out io.Writer) error {
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	if err := c.Health(ctx); err != nil {
		yellow.Fprint(out, "  Gateway: ")
		color.New(color.FgRed).Fprintf(out, "UNREACHABLE (%v)\n", err)
		return nil
	}
	green.Fprint(out, "  Gateway: ")
	fmt.Fprintln(out, "healthy")

	if getToken() == "" {
		yellow.Fprint(out, "  Token:   ")
		fmt.Fprintln(out, "(none - set CORP_TOKEN for admin commands)")
	} else {
		green.Fprint(out, "  Token:   ")
		fmt.Fprintln(out, "configured")
	}
	return nil
}

func cmdGroup(ctx context.Context, c *client.Client, out io.Writer, args []string) error {
	wallet, err := oneArg(args, "wallet")
	if err != nil {
		return err
	}

	g, err := c.GroupByWallet(ctx, wallet)
	if client.IsNotFound(err) {
		fmt.Fprintf(out, "  %s is not in a corporation\n", wallet)
		return nil
	}
	if err != nil {
		return err
	}

	name, hasName, err := c.GroupDisplayName(ctx, g.GroupID)
	if err != nil {
		return err
	}
	if !hasName {
		name = "(none)"
	}

	cyan := color.New(color.FgCyan)
	fmt.Fprintln(out)
	cyan.Fprintln(out, "  Corporation")
	cyan.Fprintln(out, "  -----------")
	fmt.Fprintf(out, "  Group ID:  %s\n", g.GroupID)
	fmt.Fprintf(out, "  Name:      %s\n", name)
	fmt.Fprintf(out, "  Primary:   %s\n", g.PrimaryWallet)
	fmt.Fprintf(out, "  Created:   %s\n", g.CreatedAt.Local().Format("Jan 02 2006 15:04"))
	fmt.Fprintln(out)

	wallets, err := c.GroupWallets(ctx, g.GroupID)
	if err != nil {
		return err
	}
	printWallets(out, wallets)
	return nil
}

func cmdWallets(ctx context.Context, c *client.Client, out io.Writer, args []string) error {
	groupID, err := oneArg(args, "group-id")
	if err != nil {
		return err
	}
	wallets, err := c.GroupWallets(ctx, groupID)
	if err != nil {
		return err
	}
	printWallets(out, wallets)
	return nil
}

func printWallets(out io.Writer, wallets []api.Wallet) {
	if len(wallets) == 0 {
		fmt.Fprintln(out, "  (no wallets)")
		fmt.Fprintln(out)
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  WALLET\tNICKNAME\tPRIMARY\tADDED")
	fmt.Fprintln(w, "  ------\t--------\t-------\t-----")
	for _, wl := range wallets {
		nick := "-"
		if wl.Nickname != nil {
			nick = *wl.Nickname
		}
		primary := ""
		if wl.IsPrimary {
			primary = "yes"
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n",
			truncate(wl.WalletAddress, 32), truncate(nick, 20), primary, wl.AddedAt.Local().Format("Jan 02 15:04"))
	}
	w.Flush()
	fmt.Fprintln(out)
}

func cmdEnsure(ctx context.Context, c *client.Client, out io.Writer, args []string) error {
	wallet, err := oneArg(args, "wallet")
	if err != nil {
		return err
	}
	res, err := c.EnsureGroup(ctx, api.EnsureRequest{WalletAddress: wallet})
	if err != nil {
		return err
	}
	if res.Created {
		color.New(color.FgGreen).Fprintf(out, "  ✓ Created corporation %s\n", res.GroupID)
	} else {
		fmt.Fprintf(out, "  Already in corporation %s\n", res.GroupID)
	}
	return nil
}

func cmdName(ctx context.Context, c *client.Client, out io.Writer, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: corp-admin name <group-id> [name]")
	}
	groupID := args[0]

	if len(args) == 1 {
		name, ok, err := c.GroupDisplayName(ctx, groupID)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(out, "  (no display name)")
			return nil
		}
		fmt.Fprintf(out, "  %s\n", name)
		return nil
	}

	name := strings.Join(args[1:], " ")
	if err := c.SetGroupDisplayName(ctx, groupID, name); err != nil {
		return err
	}
	color.New(color.FgGreen).Fprintf(out, "  ✓ Renamed %s to %q\n", groupID, name)
	return nil
}

func cmdNickname(ctx context.Context, c *client.Client, out io.Writer, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: corp-admin nickname <wallet> <nickname|--clear>")
	}
	wallet := args[0]

	var nickname *string
	if args[1] != "--clear" {
		n := strings.Join(args[1:], " ")
		nickname = &n
	}
	if err := c.SetNickname(ctx, wallet, nickname); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	if nickname == nil {
		green.Fprintf(out, "  ✓ Cleared nickname of %s\n", wallet)
	} else {
		green.Fprintf(out, "  ✓ Nicknamed %s %q\n", wallet, *nickname)
	}
	return nil
}

func cmdAudit(ctx context.Context, c *client.Client, out io.Writer, args []string) error {
	var groupID string
	limit := 50

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--limit" || args[i] == "-n":
			if i+1 >= len(args) {
				return fmt.Errorf("--limit requires a value")
			}
			n, err := strconv.Atoi(args[i+1])
			if err != nil || n < 0 {
				return fmt.Errorf("invalid --limit %q", args[i+1])
			}
			limit = n
			i++
		case strings.HasPrefix(args[i], "-"):
			return fmt.Errorf("unknown flag: %s", args[i])
		case groupID == "":
			groupID = args[i]
		default:
			return fmt.Errorf("unexpected argument: %s", args[i])
		}
	}
	if groupID == "" {
		return fmt.Errorf("usage: corp-admin audit <group-id> [--limit N]")
	}

	events, err := c.Audit(ctx, groupID, limit)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Fprintln(out)
	cyan.Fprintln(out, "  Audit Trail")
	cyan.Fprintln(out, "  -----------")
	if len(events) == 0 {
		fmt.Fprintln(out, "  (no events)")
		fmt.Fprintln(out)
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  TIME\tACTION\tBY\tTARGET\tRESULT")
	fmt.Fprintln(w, "  ----\t------\t--\t------\t------")
	for _, e := range events {
		target := "-"
		if e.TargetWallet != nil {
			target = truncate(*e.TargetWallet, 24)
		}
		result := "ok"
		if !e.Success {
			result = "failed"
			if e.ErrorMessage != nil {
				result += ": " + truncate(*e.ErrorMessage, 40)
			}
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format("Jan 02 15:04:05"), e.Action, truncate(e.PerformedBy, 24), target, result)
	}
	w.Flush()
	fmt.Fprintln(out)
	return nil
}

func cmdRemove(ctx context.Context, c *client.Client, out io.Writer, args []string) error {
	wallet, err := oneArg(args, "wallet")
	if err != nil {
		return err
	}
	res, err := c.RemoveWallet(ctx, wallet)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Fprintf(out, "  ✓ Removed %s from %s\n", wallet, res.GroupID)
	if res.NewPrimary != "" {
		fmt.Fprintf(out, "  New primary: %s\n", res.NewPrimary)
	}
	if res.GroupDeleted {
		fmt.Fprintln(out, "  Corporation dissolved (no members left)")
	}
	return nil
}

func oneArg(args []string, name string) (string, error) {
	if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
		return "", fmt.Errorf("expected exactly one <%s> argument", name)
	}
	return strings.TrimSpace(args[0]), nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getToken reads CORP_TOKEN, then the token file written by bootstrap.
func getToken() string {
	if token := os.Getenv("CORP_TOKEN"); token != "" {
		return token
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	data, err := os.ReadFile(filepath.Join(configDir, "corp", "token"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
