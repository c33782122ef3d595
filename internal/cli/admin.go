package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/camppoints/exchanged/internal/adminauth"
	"github.com/camppoints/exchanged/internal/api"
	"github.com/camppoints/exchanged/internal/di"
	"github.com/camppoints/exchanged/internal/domain"
)

var adminKeyHex string

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Issue signed administrative commands against the exchange's data directory",
	Long: `admin opens the exchange's storage directly (the daemon need not be
running) and issues one signed Admin API command. --admin-key must be the
hex-encoded private key of a pubkey present in admin.allowed_pubkeys.`,
}

func init() {
	adminCmd.PersistentFlags().StringVar(&adminKeyHex, "admin-key", "", "hex-encoded secp256k1 admin private key")
	adminCmd.AddCommand(
		adminGivePointsCmd, adminManualOpenCmd, adminManualCloseCmd, adminCallAuctionCmd,
		adminIPOResetCmd, adminIPOUpdateCmd, adminFinalSettlementCmd, adminCheckBalancesCmd, adminSetBandCmd,
		adminSetWindowsCmd,
	)
	rootCmd.AddCommand(adminCmd)
}

// buildAdminAPI opens every kernel store against the configured data
// directory and returns the Admin API facade, without starting any
// background goroutines — a one-shot command needs none of them.
func buildAdminAPI(ctx context.Context) (*api.AdminAPI, func(), error) {
	cfg, err := requireConfig()
	if err != nil {
		return nil, nil, err
	}
	logger := slog.Default()
	container := di.New()
	provider := di.NewProvider(container, cfg, logger)
	if err := provider.RegisterAll(ctx); err != nil {
		return nil, nil, fmt.Errorf("open exchange storage: %w", err)
	}
	return provider.GetAdminAPI(), func() { provider.Stop(ctx) }, nil
}

// sign builds a SignedCommand by signing payload with --admin-key.
func sign(payload string) (api.SignedCommand, error) {
	if adminKeyHex == "" {
		return api.SignedCommand{}, fmt.Errorf("--admin-key is required")
	}
	signer, err := adminauth.NewSigner(adminKeyHex)
	if err != nil {
		return api.SignedCommand{}, err
	}
	body := []byte(payload)
	sigHex, err := signer.Sign(body)
	if err != nil {
		return api.SignedCommand{}, err
	}
	return api.SignedCommand{Payload: body, PubkeyHex: signer.PublicKeyHex(), SigHex: sigHex}, nil
}

var adminGivePointsCmd = &cobra.Command{
	Use:   "give-points <target-uid-or-team> <amount>",
	Short: "Credit points to a user or every member of a team",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return err
		}
		cmdSig, err := sign("give_points:" + args[0] + ":" + args[1])
		if err != nil {
			return err
		}
		adminAPI, closeFn, err := buildAdminAPI(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()
		return adminAPI.GivePoints(cmd.Context(), cmdSig, args[0], amount)
	},
}

var adminManualOpenCmd = &cobra.Command{
	Use:   "manual-open",
	Short: "Force the market open regardless of the schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmdSig, err := sign("manual_open")
		if err != nil {
			return err
		}
		adminAPI, closeFn, err := buildAdminAPI(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()
		return adminAPI.ManualOpen(cmd.Context(), cmdSig)
	},
}

var adminManualCloseCmd = &cobra.Command{
	Use:   "manual-close",
	Short: "Force the market closed regardless of the schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmdSig, err := sign("manual_close")
		if err != nil {
			return err
		}
		adminAPI, closeFn, err := buildAdminAPI(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()
		return adminAPI.ManualClose(cmd.Context(), cmdSig)
	},
}

var adminCallAuctionCmd = &cobra.Command{
	Use:   "call-auction",
	Short: "Trigger an immediate call auction",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmdSig, err := sign("manual_call_auction")
		if err != nil {
			return err
		}
		adminAPI, closeFn, err := buildAdminAPI(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()
		price, volume, ok, err := adminAPI.ManualCallAuction(cmd.Context(), cmdSig)
		if err != nil {
			return err
		}
		fmt.Printf("call auction: ok=%v price=%d volume=%d\n", ok, price, volume)
		return nil
	},
}

var adminIPOResetCmd = &cobra.Command{
	Use:   "ipo-reset <shares> <price>",
	Short: "Overwrite the IPO singleton's remaining shares and price",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		shares, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return err
		}
		price, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return err
		}
		cmdSig, err := sign("ipo_reset:" + args[0] + ":" + args[1])
		if err != nil {
			return err
		}
		adminAPI, closeFn, err := buildAdminAPI(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()
		return adminAPI.IPOReset(cmd.Context(), cmdSig, shares, price)
	},
}

var adminIPOUpdateCmd = &cobra.Command{
	Use:   "ipo-update",
	Short: "Adjust the IPO singleton's shares and/or price",
	RunE: func(cmd *cobra.Command, args []string) error {
		sharesStr, _ := cmd.Flags().GetString("shares")
		priceStr, _ := cmd.Flags().GetString("price")
		var shares, price *int64
		if sharesStr != "" {
			v, err := strconv.ParseInt(sharesStr, 10, 64)
			if err != nil {
				return err
			}
			shares = &v
		}
		if priceStr != "" {
			v, err := strconv.ParseInt(priceStr, 10, 64)
			if err != nil {
				return err
			}
			price = &v
		}
		cmdSig, err := sign("ipo_update:" + sharesStr + ":" + priceStr)
		if err != nil {
			return err
		}
		adminAPI, closeFn, err := buildAdminAPI(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()
		return adminAPI.IPOUpdate(cmd.Context(), cmdSig, shares, price)
	},
}

var adminFinalSettlementCmd = &cobra.Command{
	Use:   "final-settlement <price>",
	Short: "Cancel all resting orders and convert every holding to points at price",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		price, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return err
		}
		cmdSig, err := sign("final_settlement:" + args[0])
		if err != nil {
			return err
		}
		adminAPI, closeFn, err := buildAdminAPI(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()
		return adminAPI.FinalSettlement(cmd.Context(), cmdSig, price)
	},
}

var adminCheckBalancesCmd = &cobra.Command{
	Use:   "check-balances",
	Short: "Scan every user for balance invariant violations",
	RunE: func(cmd *cobra.Command, args []string) error {
		fix, _ := cmd.Flags().GetBool("fix")
		cmdSig, err := sign("check_negative_balances:" + strconv.FormatBool(fix))
		if err != nil {
			return err
		}
		adminAPI, closeFn, err := buildAdminAPI(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()
		findings, err := adminAPI.CheckNegativeBalances(cmd.Context(), cmdSig, fix)
		if err != nil {
			return err
		}
		for _, f := range findings {
			fmt.Printf("%+v\n", f)
		}
		fmt.Printf("%d finding(s)\n", len(findings))
		return nil
	},
}

var adminSetBandCmd = &cobra.Command{
	Use:   "set-band <bps>",
	Short: "Change the matching engine's price band, in basis points",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bps, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return err
		}
		cmdSig, err := sign("set_band:" + args[0])
		if err != nil {
			return err
		}
		adminAPI, closeFn, err := buildAdminAPI(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()
		return adminAPI.SetBand(cmd.Context(), cmdSig, bps)
	},
}

var adminSetWindowsCmd = &cobra.Command{
	Use:   "set-windows <start_ms:end_ms,...>",
	Short: "Replace the market clock's scheduled open windows",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		windows, err := parseWindows(args[0])
		if err != nil {
			return err
		}
		cmdSig, err := sign("set_windows:" + args[0])
		if err != nil {
			return err
		}
		adminAPI, closeFn, err := buildAdminAPI(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()
		return adminAPI.SetWindows(cmd.Context(), cmdSig, windows)
	},
}

func parseWindows(spec string) ([]domain.Window, error) {
	var windows []domain.Window
	for _, pair := range strings.Split(spec, ",") {
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid window %q, want start_ms:end_ms", pair)
		}
		start, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return nil, err
		}
		end, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, err
		}
		windows = append(windows, domain.Window{StartMs: start, EndMs: end})
	}
	return windows, nil
}

func init() {
	adminIPOUpdateCmd.Flags().String("shares", "", "new shares_remaining (omit to leave unchanged)")
	adminIPOUpdateCmd.Flags().String("price", "", "new price (omit to leave unchanged)")
	adminCheckBalancesCmd.Flags().Bool("fix", false, "zero negative balances and append a compensating admin_grant")
}
