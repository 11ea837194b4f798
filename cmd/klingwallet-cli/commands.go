package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	qrcode "github.com/skip2/go-qrcode"
	"golang.org/x/sync/errgroup"

	"github.com/Klingon-tech/klingnet-wallet/internal/account"
	"github.com/Klingon-tech/klingnet-wallet/internal/ledger"
	"github.com/Klingon-tech/klingnet-wallet/internal/wallet"
	"github.com/Klingon-tech/klingnet-wallet/pkg/types"
)

// maxBalanceQueries bounds concurrent ledger queries in list --balances.
const maxBalanceQueries = 8

// accountFlag registers the common --account flag.
func accountFlag(fs *flag.FlagSet) *int {
	return fs.Int("account", 0, "Account index (see list)")
}

func (a *app) account(index int) *account.WalletAccount {
	acct, err := a.mgr.Account(index)
	if err != nil {
		fatal("account %d: %v", index, err)
	}
	return acct
}

// ── accounts ────────────────────────────────────────────────────────────

func cmdCreate(a *app) {
	password := readNewPassword("Enter password: ")
	acct, err := a.mgr.AddAccount(password)
	if err != nil {
		fatal("create account: %v", err)
	}
	fmt.Printf("Account created: %s\n", acct.Key())
	fmt.Printf("Address: %s\n", acct.PublicAddress())
}

func cmdImportSeed(a *app, args []string) {
	fs := flag.NewFlagSet("import-seed", flag.ExitOnError)
	seed := fs.String("seed", "", "Bech32 secret seed (prompted when omitted)")
	fs.Parse(args)

	secret := *seed
	if secret == "" {
		secret = mustPassword("Secret seed: ")
	}
	password := readNewPassword("Enter password: ")
	acct, err := a.mgr.ImportSecretSeed(secret, password)
	if err != nil {
		fatal("import seed: %v", err)
	}
	fmt.Printf("Account imported: %s\n", acct.Key())
	fmt.Printf("Address: %s\n", acct.PublicAddress())
}

func cmdImportMnemonic(a *app, args []string) {
	fs := flag.NewFlagSet("import-mnemonic", flag.ExitOnError)
	mnemonic := fs.String("mnemonic", "", "24-word backup phrase")
	fs.Parse(args)

	if *mnemonic == "" {
		fatal("Usage: klingwallet-cli import-mnemonic --mnemonic \"word1 word2 ...\"")
	}
	password := readNewPassword("Enter password: ")
	acct, err := a.mgr.ImportMnemonic(*mnemonic, password)
	if err != nil {
		fatal("import mnemonic: %v", err)
	}
	fmt.Printf("Account imported: %s\n", acct.Key())
	fmt.Printf("Address: %s\n", acct.PublicAddress())
}

func cmdImportRecord(a *app, args []string) {
	fs := flag.NewFlagSet("import-record", flag.ExitOnError)
	file := fs.String("file", "", "Exported record (JSON)")
	fs.Parse(args)

	if *file == "" {
		fatal("Usage: klingwallet-cli import-record --file <record.json>")
	}
	data, err := os.ReadFile(*file)
	if err != nil {
		fatal("read record: %v", err)
	}
	rec, err := wallet.UnmarshalRecord(data)
	if err != nil {
		fatal("parse record: %v", err)
	}

	password := mustPassword("Record password: ")
	newPassword := readNewPassword("New password: ")
	acct, err := a.mgr.ImportAccount(rec, password, newPassword)
	if err != nil {
		fatal("import record: %v", err)
	}
	fmt.Printf("Account imported: %s\n", acct.Key())
	fmt.Printf("Address: %s\n", acct.PublicAddress())
}

func cmdList(a *app, args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	withBalances := fs.Bool("balances", false, "Also query each account's balance")
	fs.Parse(args)

	accts, err := a.mgr.Accounts()
	if err != nil {
		fatal("list accounts: %v", err)
	}
	if len(accts) == 0 {
		fmt.Println("No accounts found.")
		return
	}
	if !*withBalances {
		fmt.Printf("%-6s  %-8s  %s\n", "INDEX", "SLOT", "ADDRESS")
		for i, acct := range accts {
			fmt.Printf("%-6d  %-8s  %s\n", i, acct.Key(), acct.PublicAddress())
		}
		return
	}

	balances, err := fetchBalances(context.Background(), accts)
	if err != nil {
		fatal("list balances: %v", err)
	}
	label := assetLabel(a.mgr.Asset())
	fmt.Printf("%-6s  %-8s  %-45s  %s\n", "INDEX", "SLOT", "ADDRESS", "BALANCE")
	for i, acct := range accts {
		fmt.Printf("%-6d  %-8s  %-45s  %s %s\n", i, acct.Key(), acct.PublicAddress(), balances[i], label)
	}
}

// fetchBalances queries every account concurrently. The first failure
// cancels the rest.
func fetchBalances(ctx context.Context, accts []*account.WalletAccount) ([]types.Amount, error) {
	balances := make([]types.Amount, len(accts))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxBalanceQueries)
	for i, acct := range accts {
		g.Go(func() error {
			bal, err := acct.Balance(ctx)
			if err != nil {
				return fmt.Errorf("account %d: %w", i, err)
			}
			balances[i] = bal
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return balances, nil
}

func cmdAddress(a *app, args []string) {
	fs := flag.NewFlagSet("address", flag.ExitOnError)
	index := accountFlag(fs)
	showQR := fs.Bool("qr", false, "Also print the address as a QR code")
	fs.Parse(args)

	addr := a.account(*index).PublicAddress()
	fmt.Println(addr)
	if *showQR {
		art, err := addressQR(addr)
		if err != nil {
			fatal("qr: %v", err)
		}
		fmt.Print(art)
	}
}

// addressQR renders addr as a terminal QR code.
func addressQR(addr string) (string, error) {
	q, err := qrcode.New(addr, qrcode.Medium)
	if err != nil {
		return "", err
	}
	return q.ToSmallString(false), nil
}

func cmdExport(a *app, args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	index := accountFlag(fs)
	seed := fs.Bool("seed", false, "Print the secret seed instead of a record")
	mnemonic := fs.Bool("mnemonic", false, "Print the 24-word backup phrase instead of a record")
	fs.Parse(args)

	acct := a.account(*index)
	password := mustPassword("Enter password: ")

	switch {
	case *seed:
		s, err := acct.SecretSeed(password)
		if err != nil {
			fatal("export seed: %v", err)
		}
		fmt.Fprintln(os.Stderr, "WARNING: anyone with this seed controls the account.")
		fmt.Println(s)
	case *mnemonic:
		m, err := acct.Mnemonic(password)
		if err != nil {
			fatal("export mnemonic: %v", err)
		}
		fmt.Fprintln(os.Stderr, "WARNING: anyone with these words controls the account.")
		fmt.Println(m)
	default:
		newPassword := readNewPassword("Export password: ")
		rec, err := acct.Export(password, newPassword)
		if err != nil {
			fatal("export: %v", err)
		}
		printJSON(rec)
	}
}

func cmdRemove(a *app, args []string) {
	fs := flag.NewFlagSet("remove", flag.ExitOnError)
	index := fs.Int("account", -1, "Account index (see list)")
	fs.Parse(args)

	if *index < 0 {
		fatal("Usage: klingwallet-cli remove --account <index>")
	}
	removed, err := a.mgr.DeleteAccount(*index)
	if err != nil {
		fatal("remove: %v", err)
	}
	if !removed {
		fatal("no account at index %d", *index)
	}
	fmt.Printf("Account %d removed\n", *index)
}

func cmdSetExtra(a *app, args []string) {
	fs := flag.NewFlagSet("set-extra", flag.ExitOnError)
	index := accountFlag(fs)
	data := fs.String("data", "", "Metadata to store (empty clears it)")
	fs.Parse(args)

	if err := a.account(*index).SetExtra([]byte(*data)); err != nil {
		fatal("set extra: %v", err)
	}
	fmt.Println("Metadata updated")
}

// ── ledger ──────────────────────────────────────────────────────────────

func cmdStatus(a *app, args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	index := accountFlag(fs)
	fs.Parse(args)

	acct := a.account(*index)
	st, err := acct.Status(context.Background())
	if err != nil {
		fatal("status: %v", err)
	}
	fmt.Printf("Address: %s\n", acct.PublicAddress())
	fmt.Printf("Asset:   %s\n", a.mgr.Asset())
	fmt.Printf("Status:  %s\n", st)
}

func cmdActivate(a *app, args []string) {
	fs := flag.NewFlagSet("activate", flag.ExitOnError)
	index := accountFlag(fs)
	fs.Parse(args)

	acct := a.account(*index)
	password := mustPassword("Enter password: ")
	hash, err := acct.Activate(context.Background(), password)
	if err != nil {
		fatal("activate: %v", err)
	}
	if hash == "" {
		fmt.Println("The native asset needs no activation")
		return
	}
	fmt.Printf("Activated for %s\n", a.mgr.Asset())
	fmt.Printf("Transaction: %s\n", hash)
}

func cmdBalance(a *app, args []string) {
	fs := flag.NewFlagSet("balance", flag.ExitOnError)
	index := accountFlag(fs)
	fs.Parse(args)

	acct := a.account(*index)
	bal, err := acct.Balance(context.Background())
	if err != nil {
		fatal("balance: %v", err)
	}
	fmt.Printf("Address: %s\n", acct.PublicAddress())
	fmt.Printf("Balance: %s %s\n", bal, assetLabel(a.mgr.Asset()))
}

func cmdSend(a *app, args []string) {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	index := accountFlag(fs)
	to := fs.String("to", "", "Recipient address")
	amount := fs.String("amount", "", "Amount (e.g. 12.5)")
	memo := fs.String("memo", "", "Optional memo")
	fs.Parse(args)

	if *to == "" || *amount == "" {
		fatal("Usage: klingwallet-cli send [--account <i>] --to <addr> --amount <amt> [--memo <m>]")
	}
	acct := a.account(*index)
	password := mustPassword("Enter password: ")

	hash, err := acct.SendPayment(context.Background(), *to, *amount, *memo, password)
	if err != nil {
		fatal("send: %v", err)
	}
	fmt.Printf("Transaction sent: %s\n", hash)
}

func cmdWatch(a *app, args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	index := accountFlag(fs)
	cursor := fs.String("cursor", "", "Resume after this cursor (default: live)")
	balance := fs.Bool("balance", false, "Print the running balance instead of payments")
	fs.Parse(args)

	acct := a.account(*index)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	label := assetLabel(a.mgr.Asset())

	if *balance {
		bw, err := acct.WatchBalance(ctx)
		if err != nil {
			fatal("watch balance: %v", err)
		}
		defer bw.Close()
		fmt.Printf("Balance: %s %s\n", bw.Balance(), label)
		for upd := range bw.Updates() {
			fmt.Printf("Balance: %s %s (seq %d, %s)\n", upd.Balance, label, upd.Sequence, upd.Payment.Hash)
		}
		if err := bw.Err(); err != nil && ctx.Err() == nil {
			fatal("watch: %v", err)
		}
		return
	}

	pw, err := acct.WatchPayments(ctx, *cursor)
	if err != nil {
		fatal("watch payments: %v", err)
	}
	defer pw.Close()
	for p := range pw.Payments() {
		dir, peer := "from", p.Source
		if p.Debit() {
			dir, peer = "to", p.Destination
		}
		fmt.Printf("%s  %s %s %s %s", p.CreatedAt.Format("2006-01-02 15:04:05"), p.Delta(), label, dir, peer)
		if p.MemoText != "" {
			fmt.Printf("  memo=%q", p.MemoText)
		}
		fmt.Printf("  cursor=%s\n", p.Cursor)
	}
	if err := pw.Err(); err != nil && ctx.Err() == nil {
		fatal("watch: %v", err)
	}
	fmt.Fprintf(os.Stderr, "Resume with --cursor %s\n", pw.Cursor())
}

func cmdFund(a *app, args []string) {
	fs := flag.NewFlagSet("fund", flag.ExitOnError)
	address := fs.String("address", "", "Address to fund (default: account 0)")
	amount := fs.String("amount", "", "Amount (e.g. 100)")
	native := fs.Bool("native", false, "Fund the native asset instead of the configured one")
	fs.Parse(args)

	if *amount == "" {
		fatal("Usage: klingwallet-cli fund [--address <addr>] --amount <amt>")
	}
	units, err := types.ParseAmount(*amount)
	if err != nil || units <= 0 {
		fatal("invalid amount %q", *amount)
	}
	addr := *address
	if addr == "" {
		addr = a.account(0).PublicAddress()
	}
	asset := a.mgr.Asset()
	if *native {
		asset = ledger.NativeAsset()
	}

	hash, err := a.client.Fund(addr, asset, int64(units))
	if err != nil {
		fatal("fund: %v", err)
	}
	fmt.Printf("Funded %s with %s %s\n", addr, units, assetLabel(asset))
	fmt.Printf("Transaction: %s\n", hash)
}

// ── helpers ─────────────────────────────────────────────────────────────

func assetLabel(asset ledger.Asset) string {
	if asset.IsNative() {
		return "KGX"
	}
	return asset.Code
}

func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fatal("marshal: %v", err)
	}
	fmt.Println(string(data))
}
