package stock

import (
	"context"
	"errors"
	"time"

	"github.com/erp/stockledger/internal/domain/analytics"
	"github.com/erp/stockledger/internal/domain/ledger"
	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/erp/stockledger/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// AnalyticsConfig configures the classifier
type AnalyticsConfig struct {
	WindowDays int
	Thresholds analytics.ABCThresholds
}

// AnalyticsService derives stock status, turnover, ABC class and reorder
// recommendations from the ledger. It never writes.
type AnalyticsService struct {
	ledger    *LedgerService
	balances  ledger.BalanceRepository
	policies  analytics.PolicyRepository
	publisher shared.EventPublisher
	config    AnalyticsConfig
	logger    *zap.Logger
	metrics   *telemetry.StockMetrics
	now       func() time.Time
}

// NewAnalyticsService creates an AnalyticsService
func NewAnalyticsService(
	ledgerService *LedgerService,
	balances ledger.BalanceRepository,
	policies analytics.PolicyRepository,
	config AnalyticsConfig,
	logger *zap.Logger,
) *AnalyticsService {
	if config.WindowDays < 1 {
		config.WindowDays = 90
	}
	if config.Thresholds.A.IsZero() && config.Thresholds.B.IsZero() {
		config.Thresholds = analytics.DefaultABCThresholds()
	}
	return &AnalyticsService{
		ledger:   ledgerService,
		balances: balances,
		policies: policies,
		config:   config,
		logger:   logger,
		now:      time.Now,
	}
}

// SetEventPublisher sets the publisher for ReorderRecommended events
func (s *AnalyticsService) SetEventPublisher(publisher shared.EventPublisher) {
	s.publisher = publisher
}

// SetStockMetrics sets the metrics recorder
func (s *AnalyticsService) SetStockMetrics(m *telemetry.StockMetrics) {
	s.metrics = m
}

type productStats struct {
	total   decimal.Decimal
	shipped decimal.Decimal
	avg     decimal.Decimal
	policy  analytics.StockPolicy
}

// Snapshot classifies one product. The ABC class ranks it against every product.
func (s *AnalyticsService) Snapshot(ctx context.Context, productID uuid.UUID) (*analytics.Classification, error) {
	all, err := s.ClassifyAll(ctx)
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].ProductID == productID {
			return &all[i], nil
		}
	}

	// a product with neither stock nor a policy
	w := analytics.NewWindow(s.now(), s.config.WindowDays)
	var st productStats
	err = s.ledger.scope.Read(ctx, func(tx TransactionalRepositories) error {
		st, err = s.stats(ctx, tx, productID, w)
		return err
	})
	if err != nil {
		return nil, err
	}
	c := s.classify(productID, st, analytics.ClassC, w)
	return &c, nil
}

// ClassifyAll classifies every product known to the ledger or the policy table,
// ordered by ABC rank. Totals and histories of all products are read from one snapshot.
func (s *AnalyticsService) ClassifyAll(ctx context.Context) ([]analytics.Classification, error) {
	w := analytics.NewWindow(s.now(), s.config.WindowDays)
	var (
		stats  map[uuid.UUID]productStats
		usages []analytics.Usage
	)
	err := s.ledger.scope.Read(ctx, func(tx TransactionalRepositories) error {
		ids, err := s.productIDs(ctx, tx.Balances())
		if err != nil {
			return err
		}
		stats = make(map[uuid.UUID]productStats, len(ids))
		usages = make([]analytics.Usage, 0, len(ids))
		for _, id := range ids {
			st, err := s.stats(ctx, tx, id, w)
			if err != nil {
				return err
			}
			stats[id] = st
			usages = append(usages, analytics.Usage{
				ProductID: id,
				Value:     analytics.AnnualUsageValue(st.shipped, w.Days, st.policy.UnitCost),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ranked := analytics.ClassifyABC(usages, s.config.Thresholds)
	out := make([]analytics.Classification, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, s.classify(r.ProductID, stats[r.ProductID], r.Class, w))
	}
	return out, nil
}

// Refresh reclassifies every product, records stock status gauges and
// publishes a ReorderRecommended event per product at or below its reorder point
func (s *AnalyticsService) Refresh(ctx context.Context) error {
	ctx, span := telemetry.StartServiceSpan(ctx, "AnalyticsService", "Refresh")
	defer span.End()

	all, err := s.ClassifyAll(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}

	counts := make(map[analytics.StockStatus]int64)
	var events []shared.DomainEvent
	for _, c := range all {
		counts[c.Status]++
		if c.ReorderQuantity == nil {
			continue
		}
		policy, err := s.policy(ctx, c.ProductID)
		if err != nil {
			return err
		}
		events = append(events, analytics.NewReorderRecommendedEvent(c, policy))
	}

	for _, st := range []analytics.StockStatus{
		analytics.StatusInStock, analytics.StatusLowStock, analytics.StatusOutOfStock, analytics.StatusOverstock,
	} {
		s.metrics.RecordStockStatus(ctx, string(st), counts[st])
	}

	if s.publisher != nil && len(events) > 0 {
		if err := s.publisher.Publish(ctx, events...); err != nil {
			s.logger.Warn("failed to publish reorder recommendations", zap.Error(err))
		}
	}

	s.logger.Info("analytics refreshed",
		zap.Int("products", len(all)),
		zap.Int("reorder_recommendations", len(events)),
	)
	telemetry.SetOK(span)
	return nil
}

// Status classifies the current stock status of one product
func (s *AnalyticsService) Status(ctx context.Context, productID uuid.UUID) (analytics.StockStatus, decimal.Decimal, error) {
	total, err := s.balances.SumByProduct(ctx, productID)
	if err != nil {
		return "", decimal.Zero, err
	}
	policy, err := s.policy(ctx, productID)
	if err != nil {
		return "", decimal.Zero, err
	}
	return analytics.ClassifyStatus(total, policy), total, nil
}

func (s *AnalyticsService) classify(productID uuid.UUID, st productStats, class analytics.ABCClass, w analytics.Window) analytics.Classification {
	c := analytics.Classification{
		ProductID:       productID,
		TotalQuantity:   st.total,
		Status:          analytics.ClassifyStatus(st.total, st.policy),
		TurnoverRate:    analytics.TurnoverRate(st.shipped, st.avg),
		DaysOfInventory: analytics.DaysOfInventory(st.shipped, st.avg, w.Days),
		ABCClass:        class,
		AsOf:            w.To,
		WindowDays:      w.Days,
	}
	if qty, ok := analytics.RecommendReorder(st.total, st.policy); ok {
		c.ReorderQuantity = &qty
	}
	return c
}

func (s *AnalyticsService) stats(ctx context.Context, tx TransactionalRepositories, productID uuid.UUID, w analytics.Window) (productStats, error) {
	total, err := tx.Balances().SumByProduct(ctx, productID)
	if err != nil {
		return productStats{}, err
	}
	policy, err := s.policy(ctx, productID)
	if err != nil {
		return productStats{}, err
	}

	// every movement after the window start is needed to walk the total back
	from := w.From
	var inWindow []*ledger.Movement
	filter := ledger.MovementFilter{ProductID: &productID, From: &from}
	for m, err := range streamMovements(ctx, tx.Movements(), filter, DefaultStreamBatch) {
		if err != nil {
			return productStats{}, err
		}
		inWindow = append(inWindow, m)
	}

	return productStats{
		total:   total,
		shipped: analytics.ShippedQuantity(inWindow),
		avg:     analytics.AverageInventory(total, inWindow, w),
		policy:  policy,
	}, nil
}

func (s *AnalyticsService) policy(ctx context.Context, productID uuid.UUID) (analytics.StockPolicy, error) {
	p, err := s.policies.FindByProduct(ctx, productID)
	if errors.Is(err, shared.ErrNotFound) {
		return analytics.DefaultPolicy(productID), nil
	}
	if err != nil {
		return analytics.StockPolicy{}, err
	}
	return *p, nil
}

func (s *AnalyticsService) productIDs(ctx context.Context, balances ledger.BalanceRepository) ([]uuid.UUID, error) {
	ids, err := balances.ListProductIDs(ctx)
	if err != nil {
		return nil, err
	}
	policies, err := s.policies.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		seen[id] = true
	}
	for _, p := range policies {
		if !seen[p.ProductID] {
			seen[p.ProductID] = true
			ids = append(ids, p.ProductID)
		}
	}
	return ids, nil
}
