// klingvault-cli is a command-line front end for a klingvault wallet.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/Klingon-tech/klingvault/config"
	klog "github.com/Klingon-tech/klingvault/internal/log"
	"github.com/Klingon-tech/klingvault/internal/rpcclient"
	"github.com/Klingon-tech/klingvault/internal/storage"
	"github.com/Klingon-tech/klingvault/internal/wallet"
	"github.com/Klingon-tech/klingvault/pkg/coin"
	"github.com/Klingon-tech/klingvault/pkg/tx"
	"github.com/Klingon-tech/klingvault/pkg/types"
)

const version = "0.1.0"

// app carries what every command needs.
type app struct {
	cfg     *config.Config
	session *wallet.Session
	backend *rpcclient.ChainBackend
}

func main() {
	cfg, flags, err := config.Load(os.Args[1:])
	if errors.Is(err, config.ErrHelp) {
		usage()
		return
	}
	if err != nil {
		fatal("%v", err)
	}
	if flags.Version {
		fmt.Printf("klingvault-cli version %s\n", version)
		return
	}
	if len(flags.Args) == 0 {
		usage()
		os.Exit(1)
	}

	if err := klog.Init(cfg.Log.Level, cfg.Log.JSON, cfg.Log.File); err != nil {
		fatal("init logging: %v", err)
	}

	cmd, cmdArgs := flags.Args[0], flags.Args[1:]
	if cmd == "strength" {
		cmdStrength()
		return
	}

	a, err := open(cfg)
	if err != nil {
		fatal("%v", err)
	}
	defer a.session.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "wallet":
		err = a.cmdWallet(cmdArgs)
	case "address":
		err = a.cmdAddress(cmdArgs)
	case "balance":
		err = a.cmdBalance(ctx, cmdArgs)
	case "send":
		err = a.cmdSend(ctx, cmdArgs)
	case "status":
		err = a.cmdStatus(ctx)
	case "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		a.session.Close()
		os.Exit(1)
	}
	if err != nil {
		a.session.Close()
		fatal("%s", wallet.UserMessage(err))
	}
}

func open(cfg *config.Config) (*app, error) {
	db, err := storage.NewBadger(cfg.WalletDir())
	if err != nil {
		return nil, fmt.Errorf("open wallet database: %w", err)
	}

	backend := rpcclient.NewChainBackend()
	for _, c := range cfg.Coins() {
		node, ok := cfg.Backend.Nodes[c.ID]
		if !ok || node.URL == "" {
			continue
		}
		backend.Register(c.ID, rpcclient.NewWithOptions(node.URL, rpcclient.Options{
			User:              node.User,
			Password:          node.Password,
			Timeout:           cfg.Backend.Timeout,
			RequestsPerSecond: cfg.Backend.RequestsPerSecond,
		}))
	}

	rates := make(map[coin.ID]tx.FeeRate, len(cfg.Fee.Rates))
	for id, r := range cfg.Fee.Rates {
		rates[id] = tx.FeeRate(r)
	}

	session, err := wallet.NewSession(wallet.SessionConfig{
		DB:                db,
		Encryption:        cfg.KDF,
		UTXOs:             backend,
		Fees:              backend,
		Broadcaster:       backend,
		FeeRates:          rates,
		LookupTimeout:     cfg.Backend.Timeout,
		LookupConcurrency: cfg.Backend.LookupConcurrency,
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	klog.Debug().
		Str("network", string(cfg.Network)).
		Str("wallet_dir", cfg.WalletDir()).
		Bool("initialized", session.KeyStore().HasRecord()).
		Msg("Wallet opened")
	return &app{cfg: cfg, session: session, backend: backend}, nil
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: klingvault-cli [global options] <command> [flags]

%s
Commands:
  wallet create [--words 12|15|18|21|24] [--passphrase]
                                  Create a wallet from a new seed phrase
  wallet import [--passphrase]    Restore a wallet from a seed phrase
  wallet unlock-check             Check the wallet password
  wallet passwd                   Change the wallet password
  wallet reveal                   Show the seed phrase
  wallet destroy --yes            Delete the wallet and all addresses

  address new --coin <ticker> [--encoding segwit|legacy] [--label <l>]
                                  Derive a new receiving address
  address watch --coin <ticker> --address <a> [--label <l>]
                                  Add a watch-only address
  address list --coin <ticker> [--all]
                                  List addresses (--all includes hidden)
  address label --coin <ticker> --address <a> [--label <l>] [--comment <c>]
                                  Set an address label or comment
  address hide --coin <ticker> --address <a> [--unhide]
                                  Hide or unhide an address

  balance --coin <ticker>         Show the spendable balance
                                  (the node must watch wallet addresses)
  send --coin <ticker> --to <addr> --amount <amt> [--fee-rate <sat/vB>]
       [--subtract-fee] [--utxos txid:n,...] [--reuse-change] [--yes]
                                  Build, sign and broadcast a payment
  status                          Show backend node status
  strength                        Rate a password
`, config.Usage)
}

// ── wallet ──────────────────────────────────────────────────────────────

func (a *app) cmdWallet(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: wallet subcommand required", wallet.ErrInvalidParameter)
	}
	switch args[0] {
	case "create":
		return a.cmdWalletCreate(args[1:])
	case "import":
		return a.cmdWalletImport(args[1:])
	case "unlock-check":
		return a.cmdWalletUnlockCheck()
	case "passwd":
		return a.cmdWalletPasswd()
	case "reveal":
		return a.cmdWalletReveal()
	case "destroy":
		return a.cmdWalletDestroy(args[1:])
	default:
		return fmt.Errorf("%w: unknown wallet subcommand %q", wallet.ErrInvalidParameter, args[0])
	}
}

func (a *app) cmdWalletCreate(args []string) error {
	fs := flag.NewFlagSet("wallet create", flag.ExitOnError)
	words := fs.Int("words", wallet.DefaultWordCount, "Seed phrase length")
	withPassphrase := fs.Bool("passphrase", false, "Protect the seed with an extra BIP-39 passphrase")
	fs.Parse(args)

	mnemonic, err := wallet.GenerateMnemonic(*words)
	if err != nil {
		return err
	}

	fmt.Println("Seed phrase (write this down!):")
	fmt.Printf("  %s\n\n", mnemonic)

	return a.setup(mnemonic, *withPassphrase)
}

func (a *app) cmdWalletImport(args []string) error {
	fs := flag.NewFlagSet("wallet import", flag.ExitOnError)
	withPassphrase := fs.Bool("passphrase", false, "The seed uses an extra BIP-39 passphrase")
	fs.Parse(args)

	phrase, err := readPassword("Enter seed phrase: ")
	if err != nil {
		return err
	}
	mnemonic := wallet.NormalizeMnemonic(string(phrase))
	if err := wallet.CheckMnemonic(mnemonic); err != nil {
		return err
	}
	return a.setup(mnemonic, *withPassphrase)
}

func (a *app) setup(mnemonic string, withPassphrase bool) error {
	var passphrase string
	if withPassphrase {
		p, err := readNewPassword("BIP-39 passphrase")
		if err != nil {
			return err
		}
		passphrase = string(p)
	}

	material, err := wallet.MaterialFromMnemonic(mnemonic, passphrase)
	if err != nil {
		return err
	}
	defer material.Zero()

	password, err := readNewPassword("Wallet password")
	if err != nil {
		return err
	}

	fmt.Fprintln(os.Stderr, "Encrypting wallet...")
	if err := <-a.session.KeyStore().SetupAsync(material, password); err != nil {
		return err
	}

	ks := a.session.KeyStore()
	fmt.Printf("Wallet created: %s\n", ks.WalletID())
	for _, c := range a.cfg.Coins() {
		addr, err := a.session.Registry().CreateAddress(ks, c, coin.Segwit, "Default", "")
		if err != nil {
			return err
		}
		fmt.Printf("  %-5s %s\n", c.Ticker, addr.Address)
	}
	return nil
}

func (a *app) cmdWalletUnlockCheck() error {
	if err := a.unlock(); err != nil {
		return err
	}
	fmt.Printf("Password OK (wallet %s)\n", a.session.KeyStore().WalletID())
	return nil
}

func (a *app) cmdWalletPasswd() error {
	old, err := readPassword("Current password: ")
	if err != nil {
		return err
	}
	next, err := readNewPassword("New password")
	if err != nil {
		return err
	}
	if err := <-a.session.KeyStore().ChangePasswordAsync(old, next); err != nil {
		return err
	}
	fmt.Println("Password changed.")
	return nil
}

func (a *app) cmdWalletReveal() error {
	password, err := readPassword("Password: ")
	if err != nil {
		return err
	}
	phrase, err := a.session.KeyStore().RevealSeedPhrase(password)
	if err != nil {
		return err
	}
	fmt.Println(phrase)
	return nil
}

func (a *app) cmdWalletDestroy(args []string) error {
	fs := flag.NewFlagSet("wallet destroy", flag.ExitOnError)
	yes := fs.Bool("yes", false, "Confirm deletion")
	fs.Parse(args)

	if !*yes {
		return fmt.Errorf("%w: pass --yes to delete the wallet", wallet.ErrInvalidParameter)
	}
	if err := a.unlock(); err != nil {
		return err
	}
	if err := a.session.DestroyWallet(); err != nil {
		return err
	}
	fmt.Println("Wallet destroyed.")
	return nil
}

// ── address ─────────────────────────────────────────────────────────────

func (a *app) cmdAddress(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: address subcommand required", wallet.ErrInvalidParameter)
	}
	fs := flag.NewFlagSet("address "+args[0], flag.ExitOnError)
	ticker := fs.String("coin", "", "Coin ticker")
	address := fs.String("address", "", "Address")
	label := fs.String("label", "", "Label")
	comment := fs.String("comment", "", "Comment")
	encoding := fs.String("encoding", "segwit", "Address encoding (segwit or legacy)")
	all := fs.Bool("all", false, "Include hidden addresses")
	unhide := fs.Bool("unhide", false, "Unhide instead of hide")
	fs.Parse(args[1:])

	c, err := a.coin(*ticker)
	if err != nil {
		return err
	}
	reg := a.session.Registry()

	switch args[0] {
	case "new":
		enc, err := coin.ParseEncoding(*encoding)
		if err != nil {
			return fmt.Errorf("%w: %v", wallet.ErrInvalidParameter, err)
		}
		if err := a.unlock(); err != nil {
			return err
		}
		addr, err := reg.CreateAddress(a.session.KeyStore(), c, enc, *label, *comment)
		if err != nil {
			return err
		}
		fmt.Printf("%s  %s\n", addr.Address, addr.Path)
	case "watch":
		addr, err := reg.AddWatchOnly(c, *address, *label, *comment)
		if err != nil {
			return err
		}
		fmt.Printf("Watching %s\n", addr.Address)
	case "list":
		addrs, err := reg.List(c, *all)
		if err != nil {
			return err
		}
		for _, addr := range addrs {
			printAddress(addr)
		}
	case "label":
		if err := reg.SetLabel(c, *address, *label); err != nil {
			return err
		}
		if *comment != "" {
			if err := reg.SetComment(c, *address, *comment); err != nil {
				return err
			}
		}
	case "hide":
		if err := reg.Hide(c, *address, !*unhide); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: unknown address subcommand %q", wallet.ErrInvalidParameter, args[0])
	}
	return nil
}

func printAddress(addr *wallet.Address) {
	var tags []string
	if addr.WatchOnly {
		tags = append(tags, "watch-only")
	}
	if addr.IsChange() {
		tags = append(tags, "change")
	}
	if addr.Hidden {
		tags = append(tags, "hidden")
	}
	path := "-"
	if addr.Path != nil {
		path = addr.Path.String()
	}
	fmt.Printf("%-44s %-20s %-16s %s\n", addr.Address, path, addr.Label, strings.Join(tags, ","))
}

// ── balance / send ──────────────────────────────────────────────────────

func (a *app) cmdBalance(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("balance", flag.ExitOnError)
	ticker := fs.String("coin", "", "Coin ticker")
	fs.Parse(args)

	c, err := a.coin(*ticker)
	if err != nil {
		return err
	}
	utxos, err := a.session.FetchUTXOs(ctx, c)
	if err != nil {
		return err
	}
	var confirmed, pending uint64
	for _, u := range utxos {
		if u.Confirmed() {
			confirmed += u.Amount
		} else {
			pending += u.Amount
		}
	}
	fmt.Printf("Confirmed:   %s\n", c.FormatAmount(confirmed))
	fmt.Printf("Unconfirmed: %s\n", c.FormatAmount(pending))
	fmt.Printf("Outputs:     %d\n", len(utxos))
	return nil
}

func (a *app) cmdSend(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	ticker := fs.String("coin", "", "Coin ticker")
	to := fs.String("to", "", "Recipient address")
	amountStr := fs.String("amount", "", "Amount in whole coins (e.g. 0.0015)")
	feeRate := fs.Uint64("fee-rate", 0, "Fee rate in sat/vB (default: node estimate)")
	subtract := fs.Bool("subtract-fee", false, "Deduct the fee from the amount")
	utxoList := fs.String("utxos", "", "Spend exactly these outputs (txid:n, comma-separated)")
	reuseChange := fs.Bool("reuse-change", false, "Send change back to the first input's address")
	encoding := fs.String("change-encoding", "segwit", "Encoding of a fresh change address")
	yes := fs.Bool("yes", false, "Skip the confirmation prompt")
	fs.Parse(args)

	c, err := a.coin(*ticker)
	if err != nil {
		return err
	}
	if *to == "" || *amountStr == "" {
		return fmt.Errorf("%w: --to and --amount are required", wallet.ErrInvalidParameter)
	}
	amount, err := coin.ParseAmount(*amountStr)
	if err != nil {
		return fmt.Errorf("%w: %v", wallet.ErrInvalidParameter, err)
	}
	enc, err := coin.ParseEncoding(*encoding)
	if err != nil {
		return fmt.Errorf("%w: %v", wallet.ErrInvalidParameter, err)
	}

	req := wallet.SendRequest{
		Coin:           c,
		Recipient:      *to,
		Amount:         amount,
		FeeRate:        tx.FeeRateFromSatPerVByte(*feeRate),
		TargetBlocks:   a.cfg.Fee.TargetBlocks,
		ChangeEncoding: &enc,
		SubtractFee:    *subtract,
	}
	if *reuseChange {
		req.Change = wallet.ChangeReuseSource
	}
	if *utxoList != "" {
		req.Policy = wallet.Manual
		for _, s := range strings.Split(*utxoList, ",") {
			op, err := types.ParseOutpoint(strings.TrimSpace(s))
			if err != nil {
				return fmt.Errorf("%w: %v", wallet.ErrInvalidParameter, err)
			}
			req.Manual = append(req.Manual, op)
		}
	}

	draft, err := a.session.PrepareSend(ctx, req)
	if err != nil {
		return err
	}
	fmt.Println(draft.Preview())

	if !*yes && !confirm("Send this transaction?") {
		fmt.Println("Cancelled.")
		return nil
	}
	if err := a.unlock(); err != nil {
		return err
	}
	if err := a.session.Sign(draft); err != nil {
		return err
	}
	txid, err := a.session.Broadcast(ctx, draft)
	if err != nil {
		return err
	}
	fmt.Printf("Sent: %s\n", txid)
	return nil
}

func (a *app) cmdStatus(ctx context.Context) error {
	for _, c := range a.cfg.Coins() {
		height, err := a.backend.CheckNetwork(ctx, c)
		if err != nil {
			fmt.Printf("%-5s unavailable: %v\n", c.Ticker, err)
			continue
		}
		rate := a.session.FeeRate(ctx, c, a.cfg.Fee.TargetBlocks)
		fmt.Printf("%-5s height %d, fee %s\n", c.Ticker, height, rate)
	}
	return nil
}

// ── strength ────────────────────────────────────────────────────────────

func cmdStrength() {
	password, err := readPassword("Password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	s := wallet.ScorePassword(string(password))
	fmt.Printf("Strength: %s (%d/6)\n", s, s)
	if !s.Acceptable() {
		os.Exit(1)
	}
}

// ── helpers ─────────────────────────────────────────────────────────────

func (a *app) coin(ticker string) (*coin.Coin, error) {
	if ticker == "" {
		return nil, fmt.Errorf("%w: --coin is required", wallet.ErrInvalidParameter)
	}
	c, err := coin.ByTicker(ticker)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", wallet.ErrInvalidParameter, err)
	}
	if c.Testnet != a.cfg.Testnet() {
		return nil, fmt.Errorf("%w: %s is not a %s coin", wallet.ErrInvalidParameter, c.Ticker, a.cfg.Network)
	}
	return c, nil
}

func (a *app) unlock() error {
	ks := a.session.KeyStore()
	if ks.IsUnlocked() {
		return nil
	}
	if !ks.HasRecord() {
		return wallet.ErrSeedNotFound
	}
	password, err := readPassword("Password: ")
	if err != nil {
		return err
	}
	return <-ks.UnlockAsync(password)
}

func readPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr) // newline after hidden input
	if err != nil {
		return nil, err
	}
	return password, nil
}

// readNewPassword prompts twice and reports the strength of the choice.
func readNewPassword(what string) ([]byte, error) {
	password, err := readPassword(what + ": ")
	if err != nil {
		return nil, err
	}
	again, err := readPassword("Confirm " + strings.ToLower(what) + ": ")
	if err != nil {
		return nil, err
	}
	if string(password) != string(again) {
		return nil, fmt.Errorf("%w: entries do not match", wallet.ErrInvalidParameter)
	}
	s := wallet.ScorePassword(string(password))
	fmt.Fprintf(os.Stderr, "Strength: %s\n", s)
	if !s.Acceptable() {
		fmt.Fprintln(os.Stderr, "Warning: this password is weak.")
	}
	return password, nil
}

func confirm(prompt string) bool {
	fmt.Fprintf(os.Stderr, "%s [y/N] ", prompt)
	line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	line = strings.ToLower(strings.TrimSpace(line))
	return line == "y" || line == "yes"
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
