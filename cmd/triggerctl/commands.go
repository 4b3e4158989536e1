package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/big"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/shopspring/decimal"

	"trigger-keeper/internal/assets"
	"trigger-keeper/internal/auth"
	"trigger-keeper/internal/domain"
	"trigger-keeper/internal/logger"
	"trigger-keeper/internal/storage"
)

func newCLI(triggers storage.TriggerStore, swaps storage.SwapStore, assetStore storage.AssetStore,
	roles storage.RoleStore, out io.Writer, log *logger.Entry) *cli {
	acl := auth.New(roles, log)
	return &cli{
		triggers: triggers,
		swaps:    swaps,
		assets:   assets.NewRegistry(assetStore, acl, nil, log),
		acl:      acl,
		out:      out,
		now:      func() int64 { return time.Now().UnixMilli() },
	}
}

func (c *cli) dispatch(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: missing command", errUsage)
	}
	switch args[0] {
	case "assets":
		return c.sub(ctx, args, map[string]func(context.Context, []string) error{
			"list":   c.assetsList,
			"upsert": c.assetsUpsert,
		})
	case "roles":
		return c.sub(ctx, args, map[string]func(context.Context, []string) error{
			"list":   c.rolesList,
			"grant":  c.rolesChange(c.acl.Grant),
			"revoke": c.rolesChange(c.acl.Revoke),
		})
	case "triggers":
		return c.sub(ctx, args, map[string]func(context.Context, []string) error{
			"list": c.triggersList,
			"show": c.triggersShow,
		})
	case "attempts":
		return c.attemptsShow(ctx, args[1:])
	case "prices":
		return c.pricesShow(ctx, args[1:])
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}
}

func (c *cli) sub(ctx context.Context, args []string, cmds map[string]func(context.Context, []string) error) error {
	if len(args) < 2 {
		return fmt.Errorf("%w: %s needs a subcommand", errUsage, args[0])
	}
	fn, ok := cmds[args[1]]
	if !ok {
		return fmt.Errorf("%w: unknown subcommand %s %s", errUsage, args[0], args[1])
	}
	return fn(ctx, args[2:])
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %s: %v", errUsage, fs.Name(), err)
	}
	return nil
}

func addressFlag(name, value string) (domain.Address, error) {
	if value == "" {
		return domain.Address{}, fmt.Errorf("%w: -%s is required", errUsage, name)
	}
	return domain.ParseAddress(value)
}

func (c *cli) assetsList(ctx context.Context, _ []string) error {
	list, err := c.assets.List(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SYMBOL\tTOKEN\tPRICE_IDX\tMARKET\tDECIMALS\tNATIVE\tPEGGED")
	for _, e := range list {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%t\t%t\n", e.Symbol, e.TokenIndex, e.PriceIndex, e.MarketIndex, e.Decimals, e.Native, e.Pegged)
	}
	return w.Flush()
}

func (c *cli) assetsUpsert(ctx context.Context, args []string) error {
	fs := newFlagSet("assets upsert")
	as := fs.String("as", "", "operator address")
	symbol := fs.String("symbol", "", "asset symbol")
	token := fs.Uint64("token-index", 0, "settlement token index")
	priceIdx := fs.Uint("price-index", 0, "oracle feed index")
	market := fs.Uint("market-index", 0, "spot market index")
	decimals := fs.Uint("decimals", 0, "base-unit decimals")
	native := fs.Bool("native", false, "execution-layer gas asset")
	pegged := fs.Bool("pegged", false, "valued at exactly 1.0")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	caller, err := addressFlag("as", *as)
	if err != nil {
		return err
	}
	if *decimals > 255 {
		return domain.NewInvalidInput("decimals %d out of range", *decimals)
	}

	e, err := c.assets.Upsert(ctx, caller, domain.AssetEntry{
		Symbol:      *symbol,
		TokenIndex:  *token,
		PriceIndex:  uint32(*priceIdx),
		MarketIndex: uint32(*market),
		Decimals:    uint8(*decimals),
		Native:      *native,
		Pegged:      *pegged,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "asset %s written (token %d, price index %d, market %d)\n", e.Symbol, e.TokenIndex, e.PriceIndex, e.MarketIndex)
	return nil
}

func (c *cli) rolesList(ctx context.Context, _ []string) error {
	list, err := c.acl.List(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ACCOUNT\tCAPABILITY\tGRANTED_BY\tGRANTED_AT\tREVOKED")
	for _, g := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\n", g.Account.Hex(), g.Capability, g.GrantedBy.Hex(), formatMillis(g.GrantedAt), g.Revoked)
	}
	return w.Flush()
}

type roleChange func(ctx context.Context, caller, account domain.Address, c domain.Capability) error

func (c *cli) rolesChange(change roleChange) func(context.Context, []string) error {
	return func(ctx context.Context, args []string) error {
		fs := newFlagSet("roles")
		as := fs.String("as", "", "operator address")
		account := fs.String("account", "", "account to change")
		capability := fs.String("capability", "", "operator | executor")
		if err := parseFlags(fs, args); err != nil {
			return err
		}
		caller, err := addressFlag("as", *as)
		if err != nil {
			return err
		}
		target, err := addressFlag("account", *account)
		if err != nil {
			return err
		}
		if err := change(ctx, caller, target, domain.Capability(*capability)); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "%s %s updated\n", target.Hex(), *capability)
		return nil
	}
}

func (c *cli) triggersList(ctx context.Context, args []string) error {
	fs := newFlagSet("triggers list")
	owner := fs.String("owner", "", "owner address")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	addr, err := addressFlag("owner", *owner)
	if err != nil {
		return err
	}
	list, err := c.triggers.GetByOwner(ctx, addr)
	if err != nil {
		return err
	}

	now := c.now()
	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tPAIR\tREFERENCE\tCONDITION\tAMOUNT\tEXPIRES")
	for _, t := range list {
		fmt.Fprintf(w, "%d\t%s\t%s->%s\t%s\t%s %s\t%s\t%s\n", t.ID, t.EffectiveStatus(now), t.InputAsset, t.TargetAsset,
			t.ReferenceAsset, t.Direction, formatPrice(t.TriggerPrice), t.InputAmount, formatMillis(t.ExpiresAt))
	}
	return w.Flush()
}

func (c *cli) triggersShow(ctx context.Context, args []string) error {
	fs := newFlagSet("triggers show")
	id := fs.Uint64("id", 0, "trigger id")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *id == 0 {
		return fmt.Errorf("%w: -id is required", errUsage)
	}
	t, err := c.triggers.GetByID(ctx, *id)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: trigger %d", domain.ErrNotFound, *id)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(c.out, "trigger %d\n", t.ID)
	fmt.Fprintf(c.out, "  owner:      %s\n", t.Owner.Hex())
	fmt.Fprintf(c.out, "  status:     %s\n", paintStatus(t.EffectiveStatus(c.now())))
	fmt.Fprintf(c.out, "  swap:       %s %s -> %s\n", t.InputAmount, t.InputAsset, t.TargetAsset)
	fmt.Fprintf(c.out, "  condition:  %s %s %s\n", t.ReferenceAsset, t.Direction, formatPrice(t.TriggerPrice))
	fmt.Fprintf(c.out, "  slippage:   %d bps\n", t.SlippageBps)
	fmt.Fprintf(c.out, "  fee paid:   %s\n", t.FeePaid)
	fmt.Fprintf(c.out, "  created:    %s\n", formatMillis(t.CreatedAt))
	fmt.Fprintf(c.out, "  expires:    %s\n", formatMillis(t.ExpiresAt))

	if t.Status != domain.TriggerStatusExecuted {
		return nil
	}
	s, err := c.swaps.GetByTriggerID(ctx, t.ID)
	if err != nil {
		return fmt.Errorf("swap for trigger %d: %w", t.ID, err)
	}
	fmt.Fprintf(c.out, "  swap id:    %d\n", s.ID)
	fmt.Fprintf(c.out, "  min output: %s %s\n", s.MinOutput, s.ToAsset)
	fmt.Fprintf(c.out, "  prices:     %s / %s\n", formatPrice(s.FromPrice), formatPrice(s.ToPrice))
	fmt.Fprintf(c.out, "  tx:         %s\n", s.TxHash)
	return nil
}

func (c *cli) attemptsShow(ctx context.Context, args []string) error {
	if c.attempts == nil {
		return errors.New("attempts need storage.clickhouse_dsn")
	}
	fs := newFlagSet("attempts")
	id := fs.Uint64("trigger", 0, "trigger id")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *id == 0 {
		return fmt.Errorf("%w: -trigger is required", errUsage)
	}
	list, err := c.attempts.GetByTriggerID(ctx, *id)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tCYCLE\tATTEMPT\tOUTCOME\tKIND\tERROR")
	for _, a := range list {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n", formatMillis(a.Timestamp), a.CycleID, a.Attempt, a.Outcome, a.ErrorKind, a.Error)
	}
	return w.Flush()
}

func (c *cli) pricesShow(ctx context.Context, args []string) error {
	if c.observations == nil {
		return errors.New("prices need storage.clickhouse_dsn")
	}
	fs := newFlagSet("prices")
	asset := fs.String("asset", "", "asset symbol")
	since := fs.Duration("since", time.Hour, "look-back window")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *asset == "" {
		return fmt.Errorf("%w: -asset is required", errUsage)
	}
	end := c.now()
	list, err := c.observations.GetByTimeRange(ctx, assets.NormalizeSymbol(*asset), end-since.Milliseconds(), end)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tCYCLE\tPRICE")
	for _, o := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\n", formatMillis(o.ObservedAt), o.CycleID, formatPrice(o.Price))
	}
	return w.Flush()
}

// statusColors only apply outside tables; escape codes break tabwriter alignment.
var statusColors = map[domain.TriggerStatus]*color.Color{
	domain.TriggerStatusActive:    color.New(color.FgCyan),
	domain.TriggerStatusExecuted:  color.New(color.FgGreen),
	domain.TriggerStatusCancelled: color.New(color.FgYellow),
	domain.TriggerStatusExpired:   color.New(color.FgRed),
}

func paintStatus(s domain.TriggerStatus) string {
	if c, ok := statusColors[s]; ok {
		return c.Sprint(s.String())
	}
	return s.String()
}

func formatPrice(p uint64) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(p), -domain.PriceDecimals).String()
}

func formatMillis(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
