// klingwallet-cli manages an encrypted keystore and talks to a ledger node.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/Klingon-tech/klingnet-wallet/config"
	"github.com/Klingon-tech/klingnet-wallet/internal/account"
	"github.com/Klingon-tech/klingnet-wallet/internal/ledger"
	"github.com/Klingon-tech/klingnet-wallet/internal/ledgerclient"
	"github.com/Klingon-tech/klingnet-wallet/internal/log"
	"github.com/Klingon-tech/klingnet-wallet/internal/storage"
	"github.com/Klingon-tech/klingnet-wallet/internal/wallet"
	"github.com/Klingon-tech/klingnet-wallet/pkg/types"
)

// globals are the flags accepted before the subcommand.
type globals struct {
	dataDir  string
	network  string
	endpoint string
	backend  string
	logLevel string
}

// app holds what every subcommand needs.
type app struct {
	cfg    *config.Config
	db     storage.DB
	client *ledgerclient.Client
	mgr    *account.Manager
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	g := globals{network: string(config.Mainnet), logLevel: "warn"}

	// Scan for global flags before the subcommand.
	args := os.Args[1:]
	for len(args) > 0 {
		name, value, rest, ok := globalFlag(args)
		if !ok {
			break
		}
		switch name {
		case "datadir":
			g.dataDir = value
		case "network":
			g.network = value
		case "ledger":
			g.endpoint = value
		case "storage":
			g.backend = value
		case "log-level":
			g.logLevel = value
		}
		args = rest
	}

	if len(args) == 0 {
		usage()
		os.Exit(1)
	}
	cmd, cmdArgs := args[0], args[1:]
	if cmd == "help" || cmd == "--help" || cmd == "-h" {
		usage()
		return
	}

	// Component loggers write to stderr so command output stays clean.
	log.SetLogger(log.NewConsoleLogger(os.Stderr, g.logLevel))

	a, err := newApp(context.Background(), g)
	if err != nil {
		fatal("%v", err)
	}
	defer a.close()

	switch cmd {
	case "create":
		cmdCreate(a)
	case "import-seed":
		cmdImportSeed(a, cmdArgs)
	case "import-mnemonic":
		cmdImportMnemonic(a, cmdArgs)
	case "import-record":
		cmdImportRecord(a, cmdArgs)
	case "list":
		cmdList(a, cmdArgs)
	case "address":
		cmdAddress(a, cmdArgs)
	case "export":
		cmdExport(a, cmdArgs)
	case "remove":
		cmdRemove(a, cmdArgs)
	case "set-extra":
		cmdSetExtra(a, cmdArgs)
	case "balance":
		cmdBalance(a, cmdArgs)
	case "send":
		cmdSend(a, cmdArgs)
	case "activate":
		cmdActivate(a, cmdArgs)
	case "status":
		cmdStatus(a, cmdArgs)
	case "watch":
		cmdWatch(a, cmdArgs)
	case "fund":
		cmdFund(a, cmdArgs)
	default:
		a.close()
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

// globalFlag parses one "--name value" or "--name=value" global flag.
func globalFlag(args []string) (name, value string, rest []string, ok bool) {
	for _, n := range []string{"datadir", "network", "ledger", "storage", "log-level"} {
		flagName := "--" + n
		switch {
		case args[0] == flagName && len(args) > 1:
			return n, args[1], args[2:], true
		case strings.HasPrefix(args[0], flagName+"="):
			return n, args[0][len(flagName)+1:], args[1:], true
		}
	}
	return "", "", args, false
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: klingwallet-cli [global flags] <command> [flags]

Global flags:
  --datadir <path>    Data directory (default: ~/.klingwallet)
  --network <net>     mainnet (default) or testnet
  --ledger <url>      Ledger JSON-RPC endpoint (overrides ledger.endpoint)
  --storage <name>    Keystore backend: memory, badger, redis, postgres, sqlite
  --log-level <lvl>   debug, info, warn (default), error

Accounts:
  create                          Create a new account
  import-seed [--seed <s>]        Import an account from its secret seed
  import-mnemonic --mnemonic "..."
                                  Import an account from its 24-word backup
  import-record --file <f>        Import an exported record (JSON)
  list [--balances]               List accounts
  address [--account <i>] [--qr]  Show an account address
  export [--account <i>] [--seed|--mnemonic]
                                  Export a re-sealed record, or the seed
  remove --account <i>            Delete an account
  set-extra --account <i> --data <s>
                                  Replace the account metadata

Ledger:
  status [--account <i>]          Show whether the account is activated
  activate [--account <i>]        Establish the trustline for the asset
  balance [--account <i>]         Show the confirmed balance
  send [--account <i>] --to <addr> --amount <amt> [--memo <m>]
                                  Send a payment
  watch [--account <i>] [--cursor <c>] [--balance]
                                  Stream payments or the running balance
  fund --address <addr> --amount <amt>
                                  Ask a devnet faucet for funds
`)
}

func newApp(ctx context.Context, g globals) (*app, error) {
	network := config.NetworkType(g.network)
	if network != config.Mainnet && network != config.Testnet {
		return nil, fmt.Errorf("unknown network %q", g.network)
	}
	cfg, err := config.LoadFromFile(g.dataDir, network)
	if err != nil {
		return nil, err
	}
	if g.endpoint != "" {
		cfg.Ledger.Endpoint = g.endpoint
	}
	if g.backend != "" {
		cfg.Storage.Backend = g.backend
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	types.SetAddressHRP(network.AddressHRP())

	db, err := openStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}

	asset := ledger.NativeAsset()
	if cfg.Ledger.AssetCode != "" {
		asset = ledger.Asset{Code: cfg.Ledger.AssetCode, Issuer: cfg.Ledger.AssetIssuer}
	}
	var opts []account.Option
	if cfg.Wallet.AppID != "" {
		id, err := account.ParseAppID(cfg.Wallet.AppID)
		if err != nil {
			db.Close()
			return nil, err
		}
		opts = append(opts, account.WithAppID(id))
	}

	ks := wallet.NewKeyStore(db,
		wallet.WithKDFParams(wallet.KDFParams{
			Memory:      cfg.KDF.Memory,
			Iterations:  cfg.KDF.Iterations,
			Parallelism: cfg.KDF.Parallelism,
		}),
		wallet.WithNetwork(network.AddressHRP()),
	)
	client := ledgerclient.NewWithOptions(cfg.Ledger.Endpoint, cfg.Ledger.Timeout, cfg.Ledger.PollInterval)

	return &app{
		cfg:    cfg,
		db:     db,
		client: client,
		mgr:    account.NewManager(ks, client, cfg.Ledger.NetworkID, asset, opts...),
	}, nil
}

func (a *app) close() {
	_ = a.mgr.Close()
	if err := a.db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: closing keystore: %v\n", err)
	}
}

// openStorage builds the keystore backend selected by cfg.
func openStorage(ctx context.Context, cfg *config.Config) (storage.DB, error) {
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		return storage.NewMemory(), nil
	case config.BackendBadger:
		db, err := storage.NewBadger(cfg.KeystoreDir())
		if err != nil {
			return nil, fmt.Errorf("open keystore: %w", err)
		}
		return db, nil
	case config.BackendSQLite:
		db, err := storage.NewSQLite(cfg.SQLiteFile())
		if err != nil {
			return nil, fmt.Errorf("open keystore: %w", err)
		}
		return db, nil
	case config.BackendRedis:
		db, err := storage.NewRedis(ctx, storage.RedisOptions{
			Addr:      cfg.Storage.RedisAddr,
			Password:  cfg.Storage.RedisPassword,
			DB:        cfg.Storage.RedisDB,
			Namespace: cfg.Storage.RedisNamespace + ":" + string(cfg.Network) + ":",
		})
		if err != nil {
			return nil, fmt.Errorf("open keystore: %w", err)
		}
		return db, nil
	case config.BackendPostgres:
		pg, err := storage.NewPostgres(ctx, cfg.Storage.PostgresDSN, cfg.Storage.PostgresTable)
		if err != nil {
			return nil, fmt.Errorf("open keystore: %w", err)
		}
		// One table serves both networks.
		return networkStore{PrefixDB: storage.NewPrefixDB(pg, []byte(string(cfg.Network)+"/")), inner: pg}, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// networkStore namespaces a shared backend and closes it with the keystore.
type networkStore struct {
	*storage.PrefixDB
	inner storage.DB
}

func (s networkStore) Close() error {
	return s.inner.Close()
}

func readPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr) // newline after hidden input
	if err != nil {
		return "", err
	}
	defer clear(password)
	return string(password), nil
}

// readNewPassword prompts twice and insists on a match.
func readNewPassword(prompt string) string {
	password, err := readPassword(prompt)
	if err != nil {
		fatal("read password: %v", err)
	}
	confirm, err := readPassword("Confirm password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	if password != confirm {
		fatal("passwords do not match")
	}
	return password
}

func mustPassword(prompt string) string {
	password, err := readPassword(prompt)
	if err != nil {
		fatal("read password: %v", err)
	}
	return password
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
