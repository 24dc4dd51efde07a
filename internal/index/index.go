// Package index keeps a queryable listing of boards in SQLite.
//
// The store remains the source of truth; the index holds a copy of every
// board root so boards can be filtered, searched, sorted and paged without
// scanning Redis. It implements store.BoardIndexer and is fed after each
// commit.
package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/dyluth/retro/pkg/board"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// DefaultCount is the page size used when a query does not set one.
const DefaultCount = 20

var (
	// ErrInvalidSortOrder indicates a sort order other than asc or desc.
	ErrInvalidSortOrder = errors.New("index: invalid sort order")
	// ErrInvalidField indicates a filter, search or sort key the index cannot resolve.
	ErrInvalidField = errors.New("index: invalid field")
)

var contentFieldPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// boardRecord is the indexed form of a board root.
type boardRecord struct {
	ID             string `gorm:"column:id;primaryKey;size:190;not null"`
	Creator        string `gorm:"column:creator;size:190;not null;default:''"`
	CreateTime     int64  `gorm:"column:create_time;not null;index:idx_boards_create_time"`
	LastUpdateTime int64  `gorm:"column:last_update_time;not null"`
	Version        int64  `gorm:"column:version;not null"`
	ContentJSON    string `gorm:"column:content_json;type:text;not null"`
	NodeJSON       string `gorm:"column:node_json;type:text;not null"`
}

func (boardRecord) TableName() string {
	return "boards"
}

// SQLIndex is a board index stored in SQLite through gorm.
type SQLIndex struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open opens (creating if needed) the index database at path and migrates
// its schema.
func Open(path string, log *zap.Logger) (*SQLIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("index path is required")
	}
	if log == nil {
		log = zap.NewNop()
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to open index database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&boardRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate index schema: %w", err)
	}

	log.Info("board index initialized", zap.String("path", path))
	return &SQLIndex{db: db, logger: log}, nil
}

// Close closes the underlying database.
func (x *SQLIndex) Close() error {
	sqlDB, err := x.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toRecord(root *board.Node) (*boardRecord, error) {
	if root.Type != board.TypeBoard {
		return nil, fmt.Errorf("only board nodes can be indexed (got %s)", root.Type)
	}
	content := root.Content
	if content == nil {
		content = board.Content{}
	}
	contentJSON, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal board content: %w", err)
	}
	nodeJSON, err := json.Marshal(root)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal board node: %w", err)
	}
	return &boardRecord{
		ID:             root.ID,
		Creator:        root.Creator,
		CreateTime:     root.CreateTime,
		LastUpdateTime: root.LastUpdateTime,
		Version:        root.Version,
		ContentJSON:    string(contentJSON),
		NodeJSON:       string(nodeJSON),
	}, nil
}

// CreateBoard indexes a new board. Re-creating an indexed board replaces it.
func (x *SQLIndex) CreateBoard(ctx context.Context, root *board.Node) error {
	return x.upsert(ctx, root, clause.OnConflict{UpdateAll: true})
}

// UpdateBoard refreshes an indexed board, inserting it if missing. A root
// older than the indexed version is ignored, so commits reported out of
// order leave the newest root in place.
func (x *SQLIndex) UpdateBoard(ctx context.Context, root *board.Node) error {
	return x.upsert(ctx, root, clause.OnConflict{
		UpdateAll: true,
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "boards.version <= excluded.version"},
		}},
	})
}

func (x *SQLIndex) upsert(ctx context.Context, root *board.Node, onConflict clause.OnConflict) error {
	rec, err := toRecord(root)
	if err != nil {
		return err
	}
	err = x.db.WithContext(ctx).
		Clauses(onConflict).
		Create(rec).Error
	if err != nil {
		return fmt.Errorf("failed to index board %s: %w", root.ID, err)
	}
	return nil
}

// RemoveBoard drops a board from the index. Removing an unknown board is not an error.
func (x *SQLIndex) RemoveBoard(ctx context.Context, boardID string) error {
	if err := x.db.WithContext(ctx).Where("id = ?", boardID).Delete(&boardRecord{}).Error; err != nil {
		return fmt.Errorf("failed to remove board %s from index: %w", boardID, err)
	}
	return nil
}

// HasBoard reports whether a board is indexed.
func (x *SQLIndex) HasBoard(ctx context.Context, boardID string) (bool, error) {
	var count int64
	if err := x.db.WithContext(ctx).Model(&boardRecord{}).Where("id = ?", boardID).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to look up board %s: %w", boardID, err)
	}
	return count > 0, nil
}

// Query selects boards from the index.
//
// Keys in Filters, SearchTerms and SortKey are either a board column (id,
// creator, create_time, last_update_time, version) or "content.<field>".
// Filters match exactly; SearchTerms match a case-insensitive substring.
// CreatedSince, in unix ms, keeps boards created at or after it.
type Query struct {
	Filters      map[string]string
	SearchTerms  map[string]string
	CreatedSince int64
	Start        int
	Count        int
	SortKey      string
	SortOrder    string
}

var boardColumns = map[string]string{
	"id":               "id",
	"creator":          "creator",
	"create_time":      "create_time",
	"last_update_time": "last_update_time",
	"version":          "version",
}

// resolveField maps a query key to a SQL expression.
func resolveField(key string) (string, error) {
	if col, ok := boardColumns[key]; ok {
		return col, nil
	}
	if field, ok := strings.CutPrefix(key, "content."); ok && contentFieldPattern.MatchString(field) {
		return fmt.Sprintf("json_extract(content_json, '$.%s')", field), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidField, key)
}

func resolveOrder(order string) (string, error) {
	switch strings.ToLower(order) {
	case "", "asc":
		return "ASC", nil
	case "desc":
		return "DESC", nil
	default:
		return "", fmt.Errorf("%w: %q must be one of [asc desc]", ErrInvalidSortOrder, order)
	}
}

// GetBoards returns the board roots matching q, sorted by create_time
// ascending unless q says otherwise.
func (x *SQLIndex) GetBoards(ctx context.Context, q Query) ([]*board.Node, error) {
	tx := x.db.WithContext(ctx).Model(&boardRecord{})

	for key, value := range q.Filters {
		expr, err := resolveField(key)
		if err != nil {
			return nil, err
		}
		tx = tx.Where(fmt.Sprintf("CAST(%s AS TEXT) = ?", expr), value)
	}
	for key, term := range q.SearchTerms {
		expr, err := resolveField(key)
		if err != nil {
			return nil, err
		}
		tx = tx.Where(fmt.Sprintf("LOWER(CAST(%s AS TEXT)) LIKE ?", expr), "%"+strings.ToLower(term)+"%")
	}

	if q.CreatedSince > 0 {
		tx = tx.Where("create_time >= ?", q.CreatedSince)
	}

	sortKey := q.SortKey
	if sortKey == "" {
		sortKey = "create_time"
	}
	sortExpr, err := resolveField(sortKey)
	if err != nil {
		return nil, err
	}
	order, err := resolveOrder(q.SortOrder)
	if err != nil {
		return nil, err
	}
	tx = tx.Order(fmt.Sprintf("%s %s", sortExpr, order)).Order("id ASC")

	count := q.Count
	if count <= 0 {
		count = DefaultCount
	}
	start := q.Start
	if start < 0 {
		start = 0
	}

	var records []boardRecord
	if err := tx.Offset(start).Limit(count).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to query boards: %w", err)
	}

	boards := make([]*board.Node, 0, len(records))
	for _, rec := range records {
		n, err := board.DecodeNode([]byte(rec.NodeJSON))
		if err != nil {
			x.logger.Warn("skipping corrupt index entry", zap.String("board_id", rec.ID), zap.Error(err))
			continue
		}
		boards = append(boards, n)
	}
	return boards, nil
}
