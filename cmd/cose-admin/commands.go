// ABOUTME: cose-admin subcommands rendered as colored tables
// ABOUTME: Each command maps to one or more typed rpc client calls

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"
	"unicode/utf8"

	"github.com/fatih/color"

	"github.com/2389/cose-gateway/internal/rpc"
	"github.com/2389/cose-gateway/internal/service"
	"github.com/2389/cose-gateway/internal/store"
)

var errUsage = errors.New("invalid usage")

type app struct {
	client *rpc.Client
	out    io.Writer
	addr   string
}

func (a *app) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "state", "status":
		return a.cmdState(ctx)
	case "admin":
		return a.cmdAdmin(ctx, args)
	case "namespaces", "ns":
		return a.cmdNamespaces(ctx, args)
	case "namespace":
		return a.cmdNamespace(ctx, args)
	case "members":
		return a.cmdMembers(ctx, args)
	case "settings":
		return a.cmdSettings(ctx, args)
	case "setting":
		return a.cmdSetting(ctx, args)
	case "audit":
		return a.cmdAudit(ctx, args)
	case "call":
		return a.cmdCall(ctx, args)
	default:
		return fmt.Errorf("%w: unknown command %s", errUsage, cmd)
	}
}

// principalList collects repeated principal flags.
type principalList []store.Principal

func (p *principalList) String() string {
	parts := make([]string, len(*p))
	for i, v := range *p {
		parts[i] = string(v)
	}
	return strings.Join(parts, ",")
}

func (p *principalList) Set(v string) error {
	*p = append(*p, store.Principal(v))
	return nil
}

// parseInterspersed parses flags that may follow positional arguments and
// returns the positionals.
func parseInterspersed(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		if fs.NArg() == 0 {
			return positional, nil
		}
		positional = append(positional, fs.Arg(0))
		args = fs.Args()[1:]
	}
}

func toPrincipals(vs []string) []store.Principal {
	out := make([]store.Principal, len(vs))
	for i, v := range vs {
		out[i] = store.Principal(v)
	}
	return out
}

func formatMillis(ms uint64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(int64(ms)).Format("Jan 02 15:04")
}

func joinPrincipals(ps store.Principals) string {
	if len(ps) == 0 {
		return "(none)"
	}
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = string(p)
	}
	return strings.Join(parts, ", ")
}

func statusName(s int8) string {
	switch s {
	case store.StatusArchived:
		return color.RedString("archived")
	case store.StatusReadOnly:
		return color.YellowString("read-only")
	default:
		return color.GreenString("read-write")
	}
}

func (a *app) cmdState(ctx context.Context) error {
	info, err := a.client.StateGetInfo(ctx)
	if err != nil {
		return fmt.Errorf("state_get_info: %w", err)
	}

	cyan := color.New(color.FgCyan)
	fprintf(a.out, "\n")
	cyan.Fprintln(a.out, "  Gateway State")
	cyan.Fprintln(a.out, "  -------------")
	fprintf(a.out, "  Address:     %s\n", a.addr)
	fprintf(a.out, "  Name:        %s\n", info.Name)
	if info.KeyName != "" {
		fprintf(a.out, "  Key Name:    %s\n", info.KeyName)
	}
	fprintf(a.out, "  Managers:    %s\n", joinPrincipals(info.Managers))
	fprintf(a.out, "  Auditors:    %s\n", joinPrincipals(info.Auditors))
	if len(info.AllowedAPIs) > 0 {
		fprintf(a.out, "  Allowed:     %s\n", strings.Join(info.AllowedAPIs, ", "))
	}
	fprintf(a.out, "  Namespaces:  %d\n\n", info.NamespaceTotal)
	return nil
}

func (a *app) cmdAdmin(ctx context.Context, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("%w: admin add|remove managers|auditors|apis <values...>", errUsage)
	}
	op, set, values := args[0], args[1], args[2:]
	if op != "add" && op != "remove" {
		return fmt.Errorf("%w: admin %s", errUsage, op)
	}

	var err error
	switch set {
	case "managers", "auditors":
		err = a.client.AdminChange(ctx, "admin_"+op+"_"+set, toPrincipals(values))
	case "apis":
		err = a.client.AdminChangeAPIs(ctx, "admin_"+op+"_allowed_apis", values)
	default:
		return fmt.Errorf("%w: admin %s %s", errUsage, op, set)
	}
	if err != nil {
		return err
	}
	color.New(color.FgGreen).Fprintf(a.out, "  ✓ %s %s: %s\n", op, set, strings.Join(values, ", "))
	return nil
}

func (a *app) cmdNamespaces(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("namespaces", flag.ContinueOnError)
	prev := fs.String("prev", "", "list names before this one")
	take := fs.Int("take", 0, "page size")
	if _, err := parseInterspersed(fs, args); err != nil {
		return err
	}

	list, err := a.client.AdminListNamespaces(ctx, *prev, *take)
	if err != nil {
		return fmt.Errorf("admin_list_namespaces: %w", err)
	}

	cyan := color.New(color.FgCyan)
	fprintf(a.out, "\n")
	cyan.Fprintln(a.out, "  Namespaces")
	cyan.Fprintln(a.out, "  ----------")
	if len(list) == 0 {
		fprintf(a.out, "  (no namespaces)\n\n")
		return nil
	}

	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fprintf(w, "  NAME\tSTATUS\tVISIBILITY\tMANAGERS\tBYTES\tUPDATED\n")
	for _, ns := range list {
		vis := "private"
		if ns.Visibility == store.VisibilityPublic {
			vis = "public"
		}
		fprintf(w, "  %s\t%s\t%s\t%s\t%d\t%s\n", ns.Name, statusName(ns.Status), vis,
			truncate(joinPrincipals(ns.Managers), 30), ns.PayloadBytesTotal, formatMillis(ns.UpdatedAt))
	}
	_ = w.Flush()
	fprintf(a.out, "\n")
	return nil
}

func (a *app) cmdNamespace(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: namespace create|info|delete <ns>", errUsage)
	}
	sub, args := args[0], args[1:]

	switch sub {
	case "create":
		fs := flag.NewFlagSet("namespace create", flag.ContinueOnError)
		var managers principalList
		fs.Var(&managers, "manager", "namespace manager (repeatable)")
		desc := fs.String("desc", "", "description")
		public := fs.Bool("public", false, "readable by anyone")
		pos, err := parseInterspersed(fs, args)
		if err != nil {
			return err
		}
		if len(pos) != 1 {
			return fmt.Errorf("%w: namespace create <ns> --manager P", errUsage)
		}
		in := &service.CreateNamespaceInput{Name: pos[0], Desc: *desc, Managers: managers}
		if *public {
			in.Visibility = store.VisibilityPublic
		}
		info, err := a.client.CreateNamespace(ctx, in)
		if err != nil {
			return fmt.Errorf("admin_create_namespace: %w", err)
		}
		color.New(color.FgGreen).Fprintf(a.out, "  ✓ Created namespace %s\n", info.Name)
		return nil

	case "info":
		if len(args) != 1 {
			return fmt.Errorf("%w: namespace info <ns>", errUsage)
		}
		info, err := a.client.NamespaceGetInfo(ctx, args[0])
		if err != nil {
			return fmt.Errorf("namespace_get_info: %w", err)
		}
		a.printNamespace(info)
		return nil

	case "delete", "rm":
		if len(args) != 1 {
			return fmt.Errorf("%w: namespace delete <ns>", errUsage)
		}
		if err := a.client.NamespaceDelete(ctx, args[0]); err != nil {
			return fmt.Errorf("namespace_delete: %w", err)
		}
		color.New(color.FgGreen).Fprintf(a.out, "  ✓ Deleted namespace %s\n", args[0])
		return nil

	default:
		return fmt.Errorf("%w: namespace %s", errUsage, sub)
	}
}

func (a *app) printNamespace(ns *service.NamespaceInfo) {
	cyan := color.New(color.FgCyan)
	fprintf(a.out, "\n")
	cyan.Fprintf(a.out, "  Namespace %s\n", ns.Name)
	cyan.Fprintln(a.out, "  "+strings.Repeat("-", len("Namespace ")+len(ns.Name)))
	if ns.Desc != "" {
		fprintf(a.out, "  Description:  %s\n", ns.Desc)
	}
	fprintf(a.out, "  Status:       %s\n", statusName(ns.Status))
	fprintf(a.out, "  Managers:     %s\n", joinPrincipals(ns.Managers))
	fprintf(a.out, "  Auditors:     %s\n", joinPrincipals(ns.Auditors))
	fprintf(a.out, "  Users:        %s\n", joinPrincipals(ns.Users))
	fprintf(a.out, "  Payload:      %d / %d bytes max per setting\n", ns.PayloadBytesTotal, ns.MaxPayloadSize)
	fprintf(a.out, "  Gas balance:  %d\n", ns.GasBalance)
	for name, delegators := range ns.FixedIDNames {
		fprintf(a.out, "  Fixed id %s:  %s\n", name, joinPrincipals(delegators))
	}
	fprintf(a.out, "  Updated:      %s\n\n", formatMillis(ns.UpdatedAt))
}

func (a *app) cmdMembers(ctx context.Context, args []string) error {
	if len(args) < 4 {
		return fmt.Errorf("%w: members add|remove <ns> manager|auditor|user <principals...>", errUsage)
	}
	op, ns, kind, values := args[0], args[1], args[2], args[3:]
	if op != "add" && op != "remove" {
		return fmt.Errorf("%w: members %s", errUsage, op)
	}
	switch service.MemberKind(kind) {
	case service.MemberManager, service.MemberAuditor, service.MemberUser:
	default:
		return fmt.Errorf("%w: member kind %s", errUsage, kind)
	}

	method := "namespace_" + op + "_" + kind + "s"
	if err := a.client.NamespaceChangeMembers(ctx, method, ns, toPrincipals(values)); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	color.New(color.FgGreen).Fprintf(a.out, "  ✓ %s %ss in %s: %s\n", op, kind, ns, strings.Join(values, ", "))
	return nil
}

// pathFlags registers the flags that address a setting.
func pathFlags(fs *flag.FlagSet) (userOwned *bool, subject *string, version *uint) {
	userOwned = fs.Bool("user", false, "user-owned setting")
	subject = fs.String("subject", "", "setting subject (default caller)")
	version = fs.Uint("version", 0, "setting version (0 reads the latest)")
	return userOwned, subject, version
}

func (a *app) cmdSettings(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("settings", flag.ContinueOnError)
	userOwned, subject, _ := pathFlags(fs)
	pos, err := parseInterspersed(fs, args)
	if err != nil {
		return err
	}
	if len(pos) != 1 {
		return fmt.Errorf("%w: settings <ns>", errUsage)
	}

	var subj *store.Principal
	if *subject != "" {
		p := store.Principal(*subject)
		subj = &p
	}
	keys, err := a.client.NamespaceListSettingKeys(ctx, pos[0], *userOwned, subj)
	if err != nil {
		return fmt.Errorf("namespace_list_setting_keys: %w", err)
	}

	if len(keys) == 0 {
		fprintf(a.out, "  (no settings)\n")
		return nil
	}
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fprintf(w, "  SUBJECT\tKEY\tVERSION\n")
	for _, k := range keys {
		fprintf(w, "  %s\t%s\t%d\n", truncate(string(k.Subject), 40), printable(k.Key), k.Version)
	}
	_ = w.Flush()
	return nil
}

func (a *app) cmdSetting(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: setting get|info <ns> <key>", errUsage)
	}
	sub, args := args[0], args[1:]

	fs := flag.NewFlagSet("setting "+sub, flag.ContinueOnError)
	userOwned, subject, version := pathFlags(fs)
	pos, err := parseInterspersed(fs, args)
	if err != nil {
		return err
	}
	if len(pos) != 2 {
		return fmt.Errorf("%w: setting %s <ns> <key>", errUsage, sub)
	}

	path := service.SettingPath{NS: pos[0], Key: []byte(pos[1]), UserOwned: *userOwned, Version: uint32(*version)}
	if *subject != "" {
		p := store.Principal(*subject)
		path.Subject = &p
	}

	var info *service.SettingInfo
	switch sub {
	case "get":
		info, err = a.client.SettingGet(ctx, path)
	case "info":
		info, err = a.client.SettingGetInfo(ctx, path)
	default:
		return fmt.Errorf("%w: setting %s", errUsage, sub)
	}
	if err != nil {
		return fmt.Errorf("setting_%s: %w", sub, err)
	}

	cyan := color.New(color.FgCyan)
	fprintf(a.out, "\n")
	cyan.Fprintf(a.out, "  Setting %s/%s\n", pos[0], printable(info.Key))
	fprintf(a.out, "  Subject:  %s\n", info.Subject)
	fprintf(a.out, "  Version:  %d\n", info.Version)
	fprintf(a.out, "  Status:   %s\n", statusName(info.Status))
	fprintf(a.out, "  Readers:  %s\n", joinPrincipals(info.Readers))
	if info.Desc != "" {
		fprintf(a.out, "  Desc:     %s\n", info.Desc)
	}
	for k, v := range info.Tags {
		fprintf(a.out, "  Tag:      %s=%s\n", k, v)
	}
	if sub == "get" {
		if len(info.DEK) > 0 {
			fprintf(a.out, "  DEK:      %d bytes (client-side encryption)\n", len(info.DEK))
		}
		fprintf(a.out, "  Payload:  %s\n", printable(info.Payload))
	}
	fprintf(a.out, "\n")
	return nil
}

// printable renders b as text when it is valid UTF-8 without control
// characters, otherwise as a byte count.
func printable(b []byte) string {
	if utf8.Valid(b) && !strings.ContainsFunc(string(b), func(r rune) bool { return r < 0x20 }) {
		return string(b)
	}
	return fmt.Sprintf("<%d bytes>", len(b))
}

func (a *app) cmdAudit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("audit", flag.ContinueOnError)
	actor := fs.String("actor", "", "filter by actor")
	action := fs.String("action", "", "filter by action")
	limit := fs.Int("limit", 50, "max entries")
	if _, err := parseInterspersed(fs, args); err != nil {
		return err
	}

	f := store.AuditFilter{Limit: *limit}
	if *actor != "" {
		f.Actor = actor
	}
	if *action != "" {
		act := store.AuditAction(*action)
		f.Action = &act
	}
	entries, err := a.client.ListAuditLog(ctx, f)
	if err != nil {
		return fmt.Errorf("list_audit_log: %w", err)
	}

	if len(entries) == 0 {
		fprintf(a.out, "  (no audit entries)\n")
		return nil
	}
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fprintf(w, "  TIME\tACTOR\tACTION\tTARGET\n")
	for _, e := range entries {
		fprintf(w, "  %s\t%s\t%s\t%s:%s\n", e.Timestamp.Local().Format("Jan 02 15:04:05"),
			truncate(string(e.Actor), 24), e.Action, e.TargetType, truncate(e.TargetID, 40))
	}
	_ = w.Flush()
	return nil
}

// cmdCall invokes any operation with a raw JSON request and prints the
// JSON response.
func (a *app) cmdCall(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("%w: call <method> [json]", errUsage)
	}
	req := json.RawMessage("{}")
	if len(args) == 2 {
		if !json.Valid([]byte(args[1])) {
			return fmt.Errorf("request is not valid JSON")
		}
		req = json.RawMessage(args[1])
	}

	var resp json.RawMessage
	if err := a.client.Call(ctx, args[0], &req, &resp); err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}
	var pretty strings.Builder
	enc := json.NewEncoder(&pretty)
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		return err
	}
	fprintf(a.out, "%s", pretty.String())
	return nil
}
