package main

import (
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	assetlease "go-assetlease"

	"github.com/eiannone/keyboard"
	"github.com/spf13/cobra"
)

// Demo cast. Alice lends her asset to Bob; the guild collects a royalty.
const (
	demoToken    = "dragonling_042"
	demoLender   = "alice.demo"
	demoBorrower = "bob.demo"
	demoGuild    = "guild.demo"
	demoPrice    = "10000"
	demoFunds    = "50000"
	demoDuration = 15 * time.Second
)

func runDemo(cmd *cobra.Command, args []string) error {
	var ctx = cmd.Context()

	n, err := buildNode(ctx, nil)
	if err != nil {
		return err
	}
	defer n.contract.Stop()
	defer n.market.Stop()

	n.assets.mint(demoToken, demoLender)
	n.assets.setRoyalty(demoToken, demoGuild, 500)

	funds, _ := new(big.Int).SetString(demoFunds, 10)
	n.tokens.mint(demoBorrower, funds)

	var leaseID assetlease.LeaseID

	printDemoStatus(n, leaseID)

	var ticker = time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	var sigCh = make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	if err := keyboard.Open(); err != nil {
		return fmt.Errorf("failed to initialize keyboard: %w", err)
	}
	defer keyboard.Close()

	var keyCh = make(chan rune)
	go func() {
		for {
			char, _, err := keyboard.GetKey()
			if err != nil {
				return
			}
			keyCh <- char
		}
	}()

	for {
		select {
		case <-ticker.C:
			printDemoStatus(n, leaseID)
		case key := <-keyCh:
			switch key {
			case 'a', 'A':
				var (
					start   = time.Now()
					end     = start.Add(demoDuration)
					message = assetlease.NewLeaseTermsMessage(demoBorrower, simTokensID, demoPrice, start, end)
				)
				id, err := n.contract.OnAssetApproved(ctx, simAssetsID, demoToken, demoLender, 1, message)
				if err != nil {
					fmt.Fprintf(os.Stderr, "\n❌ Approval failed: %v\n", err)
					break
				}
				leaseID = id
				fmt.Fprintf(os.Stderr, "\n✓ Lease %s created (pending)\n", leaseID)
			case 'p', 'P':
				if leaseID == "" {
					fmt.Fprintf(os.Stderr, "\n❌ No lease yet, press [a] first\n")
					break
				}
				price, _ := new(big.Int).SetString(demoPrice, 10)
				var client = n.tokens.clientFor(demoBorrower)
				if _, err := client.TransferAndNotify(ctx, n.contract.AccountID(), price, nil, assetlease.NewPayLeaseMessage(leaseID)); err != nil {
					fmt.Fprintf(os.Stderr, "\n❌ Payment failed: %v\n", err)
					break
				}
				fmt.Fprintf(os.Stderr, "\n✓ Rent paid, custody pull in flight\n")
			case 'k', 'K':
				if leaseID == "" {
					fmt.Fprintf(os.Stderr, "\n❌ No lease yet\n")
					break
				}
				if err := n.contract.ClaimBack(ctx, demoLender, leaseID); err != nil {
					fmt.Fprintf(os.Stderr, "\n❌ Claim-back failed: %v\n", err)
					break
				}
				fmt.Fprintf(os.Stderr, "\n✓ Claim-back started\n")
			case 'q', 'Q':
				fmt.Printf("\n\nShutting down...\n")
				return nil
			}
		case sig := <-sigCh:
			fmt.Printf("\n\nReceived signal %v, exiting\n", sig)
			return nil
		}
	}
}

func printDemoStatus(n *node, leaseID assetlease.LeaseID) {
	fmt.Print("\033[2J\033[H") // Clear screen and move cursor to top

	fmt.Printf("Asset %s owned by: %s\n\n", demoToken, n.assets.ownerOf(demoToken))

	if leaseID == "" {
		fmt.Printf("No lease yet.\n")
	} else if lease, err := n.contract.Lease(leaseID); err != nil {
		fmt.Printf("Lease %s: closed (%v)\n", leaseID, err)
	} else {
		fmt.Printf("Lease %s\n", lease.ID)
		fmt.Printf("  state:     %s\n", lease.State)
		fmt.Printf("  lender:    %s\n", lease.LenderID)
		fmt.Printf("  borrower:  %s\n", lease.BorrowerID)
		fmt.Printf("  price:     %s\n", lease.Price)
		fmt.Printf("  ends in:   %s\n", time.Until(lease.EndTime).Round(time.Second))
	}

	fmt.Printf("\nBalances:\n")
	for _, account := range []assetlease.AccountID{demoLender, demoBorrower, demoGuild} {
		fmt.Printf("  %-12s %s\n", account, n.tokens.balanceOf(account))
	}

	fmt.Printf("\nControls:\n")
	fmt.Printf("  [a] Approve asset for lease (%s -> %s, %s for %s)\n", demoLender, demoBorrower, demoPrice, demoDuration)
	fmt.Printf("  [p] Pay rent as %s\n", demoBorrower)
	fmt.Printf("  [k] Claim back as %s (after expiry)\n", demoLender)
	fmt.Printf("  [q] Quit\n")
}
