package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"posledger/backend/internal/domain"
)

type capturePublisher struct {
	mu   sync.Mutex
	msgs []Message
	err  error
}

func (c *capturePublisher) Publish(_ context.Context, msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return c.err
}

const rulesYAML = `
rules:
  - id: oil-low
    name: Oil running out
    kind: INVENTORY
    enabled: true
    channels: [sms]
    recipients: ["+62800"]
    inventory:
      warehouse_id: wh-main
      product_ids: [wp-oil]
      events: [LOW_STOCK]
      threshold: "3"
  - id: transfers
    kind: INVENTORY
    enabled: true
    inventory:
      events: [TRANSFER_INITIATED, TRANSFER_COMPLETED]
  - id: car-wash
    kind: VEHICLE
    enabled: true
    channels: [whatsapp]
    vehicle:
      register_ids: [reg-1]
      plate_prefix: b
  - id: muted
    kind: VEHICLE
    enabled: false
    vehicle: {}
`

func TestParseRules(t *testing.T) {
	rules, err := ParseRules([]byte(rulesYAML))
	require.NoError(t, err)
	require.Len(t, rules, 4)

	oil := rules[0]
	assert.Equal(t, domain.NotificationKindInventory, oil.Kind)
	require.NotNil(t, oil.Inventory)
	threshold, ok := oil.Inventory.ThresholdValue()
	require.True(t, ok)
	assert.True(t, threshold.Equal(decimal.NewFromInt(3)))
	assert.Equal(t, []string{"sms"}, oil.Channels)
	assert.Equal(t, "b", rules[2].Vehicle.PlatePrefix)
}

func TestParseRulesRejectsMalformedRules(t *testing.T) {
	cases := map[string]string{
		"missing id":      "rules:\n  - kind: INVENTORY\n    inventory: {}\n",
		"unknown kind":    "rules:\n  - id: x\n    kind: EMAIL\n",
		"missing block":   "rules:\n  - id: x\n    kind: VEHICLE\n",
		"both blocks":     "rules:\n  - id: x\n    kind: INVENTORY\n    inventory: {}\n    vehicle: {}\n",
		"bad threshold":   "rules:\n  - id: x\n    kind: INVENTORY\n    inventory:\n      threshold: lots\n",
		"not yaml at all": "rules: [",
	}
	for name, raw := range cases {
		_, err := ParseRules([]byte(raw))
		assert.Error(t, err, name)
	}
}

func TestLoadRulesWithoutPath(t *testing.T) {
	rules, err := LoadRules("  ")
	require.NoError(t, err)
	assert.Nil(t, rules)

	_, err = LoadRules("/nonexistent/rules.yaml")
	assert.Error(t, err)
}

func TestDispatcherRoutesByRule(t *testing.T) {
	rules, err := ParseRules([]byte(rulesYAML))
	require.NoError(t, err)
	pub := &capturePublisher{}
	logger, _ := test.NewNullLogger()
	d := NewDispatcher(pub, rules, logger)
	ctx := context.Background()

	require.NoError(t, d.LowStock(ctx, LowStockEvent{WarehouseID: "wh-main", ProductID: "wp-oil", Quantity: decimal.NewFromInt(5), At: time.Now()}))
	assert.Empty(t, pub.msgs, "quantity above the rule threshold is dropped")

	require.NoError(t, d.LowStock(ctx, LowStockEvent{WarehouseID: "wh-main", ProductID: "wp-oil", Quantity: decimal.NewFromInt(2)}))
	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "oil-low", pub.msgs[0].RuleID)
	assert.Equal(t, []string{"+62800"}, pub.msgs[0].Recipients)
	assert.Equal(t, []string{"wh-main"}, pub.msgs[0].Audience)

	require.NoError(t, d.TransferInitiated(ctx, TransferEvent{ProductID: "wp-rice", SourceWarehouseID: "wh-main", TargetWarehouseID: "wh-branch"}))
	require.Len(t, pub.msgs, 2)
	assert.Equal(t, domain.EventTransferInitiated, pub.msgs[1].Event)
	assert.Equal(t, []string{"wh-main", "wh-branch"}, pub.msgs[1].Audience)

	require.NoError(t, d.ServiceCompleted(ctx, ServiceEvent{RegisterID: "reg-1", OrderID: "B 1234 XY"}))
	require.Len(t, pub.msgs, 3)
	assert.Equal(t, "car-wash", pub.msgs[2].RuleID)
	assert.Equal(t, []string{"reg-1"}, pub.msgs[2].Audience)

	require.NoError(t, d.ServiceCompleted(ctx, ServiceEvent{RegisterID: "reg-2", OrderID: "B 1234 XY"}))
	assert.Len(t, pub.msgs, 3, "register outside the rule is ignored")
}

func TestDispatcherBroadcastsWithoutRules(t *testing.T) {
	pub := &capturePublisher{}
	d := NewDispatcher(pub, nil, nil)

	require.NoError(t, d.TransferCompleted(context.Background(), TransferEvent{SourceWarehouseID: "a", TargetWarehouseID: "b"}))
	require.Len(t, pub.msgs, 1)
	assert.Empty(t, pub.msgs[0].RuleID)
	assert.NotEmpty(t, pub.msgs[0].ID)
}

func TestDispatcherJoinsPublishErrors(t *testing.T) {
	rules, err := ParseRules([]byte(rulesYAML))
	require.NoError(t, err)
	pub := &capturePublisher{err: ErrUnavailable}
	d := NewDispatcher(pub, rules, nil)

	err = d.TransferCompleted(context.Background(), TransferEvent{SourceWarehouseID: "wh-main", TargetWarehouseID: "wh-branch"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.Contains(t, err.Error(), "rule transfers")
}
