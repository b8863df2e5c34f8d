package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/garyjia/p2p-procurement/internal/domain/entity"
)

// Slots lists every document slot kept under the storage root
var Slots = []entity.DocumentSlot{
	entity.SlotProforma,
	entity.SlotPurchaseOrder,
	entity.SlotReceipt,
}

// EnsureLayout creates the slot directories under baseDir
func EnsureLayout(baseDir string) error {
	for _, slot := range Slots {
		dir := filepath.Join(baseDir, slot.Dir())
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}
