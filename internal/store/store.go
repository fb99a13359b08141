package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"pricing-service/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// GetProductByID retrieves a product by ID
func (s *Store) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, "SELECT * FROM products WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("product not found: %d", id)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// GetProductBySKU retrieves a product by SKU
func (s *Store) GetProductBySKU(ctx context.Context, sku string) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, "SELECT * FROM products WHERE sku = $1", sku)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("product not found: %s", sku)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// GetProducts retrieves the full product catalog
func (s *Store) GetProducts(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	err := s.db.SelectContext(ctx, &products, "SELECT * FROM products ORDER BY id")
	return products, err
}

// GetProductsByIDs retrieves multiple products by IDs
func (s *Store) GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	if len(ids) == 0 {
		return []models.Product{}, nil
	}

	query, args, err := sqlx.In("SELECT * FROM products WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var products []models.Product
	err = s.db.SelectContext(ctx, &products, query, args...)
	return products, err
}

// CreateDriftReport persists a drift warning for operator review
func (s *Store) CreateDriftReport(ctx context.Context, orderID int64, w *models.DriftWarning) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO drift_reports (order_id, item_id, product_id, kind, expected_percent, actual_percent, recommended_action)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		orderID, w.ItemID, w.ProductID, w.Kind, w.ExpectedPercent, w.ActualPercent, w.Action)
	return err
}

// GetDriftReportsByOrderID retrieves persisted drift reports for an order
func (s *Store) GetDriftReportsByOrderID(ctx context.Context, orderID int64) ([]models.DriftWarning, error) {
	var reports []models.DriftWarning
	err := s.db.SelectContext(ctx, &reports, `
		SELECT item_id, product_id, kind, expected_percent, actual_percent, recommended_action AS action
		FROM drift_reports WHERE order_id = $1 ORDER BY created_at DESC`, orderID)
	return reports, err
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
