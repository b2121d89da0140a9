// Package persistence mirrors committed settlement state into a relational
// store: the fill-state mapping keyed by order commitment plus the fill,
// cancellation, and delegation event history. The engines stay authoritative;
// this surface exists for compatibility, reporting, and restarts of the read
// side.
package persistence

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/axleworks/settler/internal/delegation"
	"github.com/axleworks/settler/internal/settlement"
)

// FillStateRecord is the persisted FillState mirror, keyed by commitment.
type FillStateRecord struct {
	OrderHash         string `gorm:"primaryKey;size:66"`
	OrderType         string `gorm:"size:8"`
	FilledTakerAmount string
	TradesCompleted   uint64
	LastFillAt        int64
	UpdatedAt         time.Time
}

// FillEventRecord is one committed fill or cancellation.
type FillEventRecord struct {
	ID              string `gorm:"primaryKey;size:36"`
	OrderHash       string `gorm:"index;size:66"`
	OrderType       string `gorm:"size:8"`
	Kind            string `gorm:"size:8"`
	Maker           string `gorm:"size:42"`
	Taker           string `gorm:"size:42"`
	FillAmount      string
	MakerPortion    string
	Fee             string
	FilledTotal     string
	TradesCompleted uint64
	LastFillAt      int64
	CreatedAt       time.Time
}

// DelegationEventRecord is one delegation-layer transition or claim.
type DelegationEventRecord struct {
	ID        string `gorm:"primaryKey;size:36"`
	Tier      string `gorm:"size:8"`
	Kind      string `gorm:"size:8"`
	Subject   string `gorm:"size:42"`
	Token     string `gorm:"size:42"`
	FromAddr  string `gorm:"size:42"`
	ToAddr    string `gorm:"size:42"`
	Amount    string
	CreatedAt time.Time
}

// FillSummary aggregates the fill history for the reporting surface.
type FillSummary struct {
	TotalFills   int64
	TotalCancels int64
	LimitVolume  decimal.Decimal
	DCAVolume    decimal.Decimal
	FeesAccrued  decimal.Decimal
}

// Store implements the settlement and delegation event sinks over gorm.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open opens (or creates) the sqlite-backed store at dsn and migrates it.
func Open(dsn string, logger *zap.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	return NewStore(db, logger)
}

// NewStore wraps an existing gorm handle and migrates the schema.
func NewStore(db *gorm.DB, logger *zap.Logger) (*Store, error) {
	if err := db.AutoMigrate(&FillStateRecord{}, &FillEventRecord{}, &DelegationEventRecord{}); err != nil {
		return nil, err
	}
	return &Store{db: db, logger: logger}, nil
}

// RecordFillEvent persists the event and upserts the fill-state mirror.
// Persistence failures are logged, never propagated: the in-memory engines
// already committed and a mirror hiccup must not unwind a settlement.
func (s *Store) RecordFillEvent(e settlement.FillEvent) {
	rec := FillEventRecord{
		ID:              e.ID,
		OrderHash:       e.OrderHash.Hex(),
		OrderType:       e.OrderType,
		Kind:            e.Kind,
		Maker:           e.Maker.Hex(),
		Taker:           e.Taker.Hex(),
		TradesCompleted: e.TradesCompleted,
		LastFillAt:      e.LastFillAt,
		CreatedAt:       e.At,
	}
	if e.FillAmount != nil {
		rec.FillAmount = e.FillAmount.String()
	}
	if e.MakerPortion != nil {
		rec.MakerPortion = e.MakerPortion.String()
	}
	if e.Fee != nil {
		rec.Fee = e.Fee.String()
	}
	if e.FilledTotal != nil {
		rec.FilledTotal = e.FilledTotal.String()
	}
	if err := s.db.Create(&rec).Error; err != nil {
		s.logger.Error("persist fill event", zap.String("order", rec.OrderHash), zap.Error(err))
	}

	state := FillStateRecord{
		OrderHash:       rec.OrderHash,
		OrderType:       e.OrderType,
		TradesCompleted: e.TradesCompleted,
		LastFillAt:      e.LastFillAt,
		UpdatedAt:       e.At,
	}
	if e.FilledTotal != nil {
		state.FilledTakerAmount = e.FilledTotal.String()
	}
	if err := s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&state).Error; err != nil {
		s.logger.Error("persist fill state", zap.String("order", rec.OrderHash), zap.Error(err))
	}
}

// RecordDelegationEvent persists one delegation-layer event.
func (s *Store) RecordDelegationEvent(e delegation.Event) {
	rec := DelegationEventRecord{
		ID:        e.ID,
		Tier:      e.Tier,
		Kind:      e.Kind,
		Subject:   e.Subject.Hex(),
		Token:     e.Token.Hex(),
		FromAddr:  e.From.Hex(),
		ToAddr:    e.To.Hex(),
		CreatedAt: e.At,
	}
	if e.Amount != nil {
		rec.Amount = e.Amount.String()
	}
	if err := s.db.Create(&rec).Error; err != nil {
		s.logger.Error("persist delegation event", zap.String("kind", e.Kind), zap.Error(err))
	}
}

// FillState returns the persisted mirror for a commitment, or nil when the
// order has never been filled or cancelled.
func (s *Store) FillState(orderHash string) (*FillStateRecord, error) {
	var rec FillStateRecord
	err := s.db.First(&rec, "order_hash = ?", orderHash).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Fills returns the most recent fill events, newest first.
func (s *Store) Fills(limit int) ([]FillEventRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var recs []FillEventRecord
	err := s.db.Order("created_at desc").Limit(limit).Find(&recs).Error
	return recs, err
}

// Summary aggregates settled volume and fees across the fill history.
func (s *Store) Summary() (*FillSummary, error) {
	var recs []FillEventRecord
	if err := s.db.Find(&recs).Error; err != nil {
		return nil, err
	}
	sum := &FillSummary{
		LimitVolume: decimal.Zero,
		DCAVolume:   decimal.Zero,
		FeesAccrued: decimal.Zero,
	}
	for _, r := range recs {
		if r.Kind == "cancel" {
			sum.TotalCancels++
			continue
		}
		sum.TotalFills++
		amount, err := decimal.NewFromString(r.FillAmount)
		if err != nil {
			continue
		}
		switch r.OrderType {
		case "limit":
			sum.LimitVolume = sum.LimitVolume.Add(amount)
		case "dca":
			sum.DCAVolume = sum.DCAVolume.Add(amount)
		}
		if fee, err := decimal.NewFromString(r.Fee); err == nil {
			sum.FeesAccrued = sum.FeesAccrued.Add(fee)
		}
	}
	return sum, nil
}
