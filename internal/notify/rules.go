package notify

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"posledger/backend/internal/domain"
)

// subject is the rule-facing view of an event.
type subject struct {
	event      domain.NotificationEvent
	warehouses []string
	productID  string
	quantity   *decimal.Decimal
	registerID string
	reference  string
}

type rulesFile struct {
	Rules []domain.NotificationRule `yaml:"rules"`
}

// LoadRules reads a YAML rules file. An empty path yields no rules.
func LoadRules(path string) ([]domain.NotificationRule, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read notification rules: %w", err)
	}
	return ParseRules(raw)
}

func ParseRules(raw []byte) ([]domain.NotificationRule, error) {
	var file rulesFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse notification rules: %w", err)
	}
	for i, rule := range file.Rules {
		if err := validateRule(rule); err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, rule.ID, err)
		}
	}
	return file.Rules, nil
}

func validateRule(rule domain.NotificationRule) error {
	if strings.TrimSpace(rule.ID) == "" {
		return fmt.Errorf("id is required")
	}
	switch rule.Kind {
	case domain.NotificationKindInventory:
		if rule.Inventory == nil {
			return fmt.Errorf("inventory rule needs an inventory block")
		}
		if rule.Vehicle != nil {
			return fmt.Errorf("inventory rule must not carry a vehicle block")
		}
		if rule.Inventory.Threshold != "" {
			if _, ok := rule.Inventory.ThresholdValue(); !ok {
				return fmt.Errorf("invalid threshold %q", rule.Inventory.Threshold)
			}
		}
	case domain.NotificationKindVehicle:
		if rule.Vehicle == nil {
			return fmt.Errorf("vehicle rule needs a vehicle block")
		}
		if rule.Inventory != nil {
			return fmt.Errorf("vehicle rule must not carry an inventory block")
		}
	default:
		return fmt.Errorf("unknown kind %q", rule.Kind)
	}
	return nil
}

// Matches reports whether rule wants the event described by subj.
func Matches(rule domain.NotificationRule, subj subject) bool {
	if !rule.Enabled {
		return false
	}
	switch rule.Kind {
	case domain.NotificationKindInventory:
		return matchInventory(rule.Inventory, subj)
	case domain.NotificationKindVehicle:
		return matchVehicle(rule.Vehicle, subj)
	}
	return false
}

func matchInventory(r *domain.InventoryRule, subj subject) bool {
	if r == nil {
		return false
	}
	switch subj.event {
	case domain.EventLowStock, domain.EventTransferInitiated, domain.EventTransferCompleted:
	default:
		return false
	}
	if len(r.Events) > 0 && !slices.Contains(r.Events, subj.event) {
		return false
	}
	if r.WarehouseID != "" && !slices.Contains(subj.warehouses, r.WarehouseID) {
		return false
	}
	if len(r.ProductIDs) > 0 && !slices.Contains(r.ProductIDs, subj.productID) {
		return false
	}
	if subj.event == domain.EventLowStock && subj.quantity != nil {
		if threshold, ok := r.ThresholdValue(); ok && subj.quantity.GreaterThan(threshold) {
			return false
		}
	}
	return true
}

func matchVehicle(r *domain.VehicleRule, subj subject) bool {
	if r == nil || subj.event != domain.EventServiceCompleted {
		return false
	}
	if len(r.RegisterIDs) > 0 && !slices.Contains(r.RegisterIDs, subj.registerID) {
		return false
	}
	if r.PlatePrefix != "" && !strings.HasPrefix(strings.ToUpper(subj.reference), strings.ToUpper(r.PlatePrefix)) {
		return false
	}
	return true
}
