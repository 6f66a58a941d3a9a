package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"bitbucket.org/craftfocus/console_backend/config"
	"bitbucket.org/craftfocus/console_backend/models"
	"bitbucket.org/craftfocus/console_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Rebuilds quantity_on_hand from first principles: opening quantity minus the
// net ledger movement across all orders. Because the ledger is append-only,
// this is always reconstructable; run it after any manual DB surgery or when a
// drift is suspected.
func main() {
	materialID := flag.Int("material-id", 0, "Optional: rebuild only one material. If 0, rebuilds all materials.")
	dryRun := flag.Bool("dry-run", false, "Print what would change without writing")
	flag.Parse()

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}

	ctx = utils.SetUserNameInContext(ctx, "InventoryRebuild")

	var materials []models.Material
	query := db.WithContext(ctx).Model(&models.Material{}).Order("id")
	if *materialID > 0 {
		query = query.Where("id = ?", *materialID)
	}
	if err := query.Find(&materials).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to list materials: %v\n", err)
		os.Exit(1)
	}
	if len(materials) == 0 {
		fmt.Fprintln(os.Stderr, "no materials found to rebuild")
		return
	}

	var fixed, clean int
	for _, m := range materials {
		netMoved, err := models.NetLedgerMovementForMaterial(ctx, m.ID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "material %d: ledger sum failed: %v\n", m.ID, err)
			os.Exit(1)
		}

		expected := m.OpeningQuantity.Sub(netMoved)
		if expected.IsNegative() {
			// A clamped deduction can leave the ledger ahead of physical stock.
			fmt.Printf("material %d (%s): ledger implies %s; floored to 0\n", m.ID, m.Name, expected.String())
			expected = decimal.Zero
		}

		if m.QuantityOnHand.Equal(expected) {
			clean++
			continue
		}

		fmt.Printf("material %d (%s): on-hand %s -> %s (net moved %s)\n",
			m.ID, m.Name, m.QuantityOnHand.String(), expected.String(), netMoved.String())
		if *dryRun {
			fixed++
			continue
		}

		err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return models.UpdateMaterialQuantity(tx, m.ID, expected)
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "material %d: update failed: %v\n", m.ID, err)
			os.Exit(1)
		}
		fixed++
	}

	verb := "fixed"
	if *dryRun {
		verb = "would fix"
	}
	fmt.Printf("done: %s %d material(s), %d already consistent\n", verb, fixed, clean)
}
