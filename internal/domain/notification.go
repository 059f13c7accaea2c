package domain

import "github.com/shopspring/decimal"

type NotificationKind string

type NotificationEvent string

const (
	NotificationKindInventory NotificationKind = "INVENTORY"
	NotificationKindVehicle   NotificationKind = "VEHICLE"

	EventLowStock          NotificationEvent = "LOW_STOCK"
	EventTransferInitiated NotificationEvent = "TRANSFER_INITIATED"
	EventTransferCompleted NotificationEvent = "TRANSFER_COMPLETED"
	EventServiceCompleted  NotificationEvent = "SERVICE_COMPLETED"
)

// NotificationRule is a tagged union: Kind selects which payload is set.
type NotificationRule struct {
	ID         string           `json:"id" yaml:"id"`
	ShopID     string           `json:"shop_id" yaml:"shop_id"`
	Name       string           `json:"name" yaml:"name"`
	Kind       NotificationKind `json:"kind" yaml:"kind"`
	Enabled    bool             `json:"enabled" yaml:"enabled"`
	Channels   []string         `json:"channels" yaml:"channels"`
	Recipients []string         `json:"recipients" yaml:"recipients"`

	Inventory *InventoryRule `json:"inventory,omitempty" yaml:"inventory,omitempty"`
	Vehicle   *VehicleRule   `json:"vehicle,omitempty" yaml:"vehicle,omitempty"`
}

type InventoryRule struct {
	WarehouseID string              `json:"warehouse_id" yaml:"warehouse_id"`
	ProductIDs  []string            `json:"product_ids" yaml:"product_ids"`
	Events      []NotificationEvent `json:"events" yaml:"events"`
	// Low-stock events above this quantity are dropped. Empty keeps the
	// product's own min quantity.
	Threshold string `json:"threshold,omitempty" yaml:"threshold"`
}

func (r InventoryRule) ThresholdValue() (decimal.Decimal, bool) {
	if r.Threshold == "" {
		return decimal.Zero, false
	}
	v, err := decimal.NewFromString(r.Threshold)
	if err != nil {
		return decimal.Zero, false
	}
	return v, true
}

// VehicleRule targets service jobs (wash, repair) paid at a register. Service
// orders carry the plate number as their order reference.
type VehicleRule struct {
	RegisterIDs []string `json:"register_ids" yaml:"register_ids"`
	PlatePrefix string   `json:"plate_prefix" yaml:"plate_prefix"`
}
