package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// roundRecord is the table row of SQLConversationStore.
type roundRecord struct {
	ID        uint      `gorm:"primaryKey"`
	SessionID string    `gorm:"size:191;index:idx_session_id"`
	Question  string    `gorm:"type:text"`
	Answer    string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"index"`
}

func (roundRecord) TableName() string { return "conversation_rounds" }

// SQLConversationStore keeps rounds in a relational database through gorm.
type SQLConversationStore struct {
	db        *gorm.DB
	maxRounds int
}

// OpenSQL opens a gorm connection for driver (sqlite, postgres or mysql).
func OpenSQL(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(driver) {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unknown sql driver: %s", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open %s failed, err: %w", driver, err)
	}
	return db, nil
}

// NewSQLConversationStore migrates the rounds table and returns the store.
func NewSQLConversationStore(db *gorm.DB, maxRounds int) (*SQLConversationStore, error) {
	if maxRounds <= 0 {
		maxRounds = 10
	}
	if err := db.AutoMigrate(&roundRecord{}); err != nil {
		return nil, fmt.Errorf("migrate conversation_rounds failed, err: %w", err)
	}
	return &SQLConversationStore{db: db, maxRounds: maxRounds}, nil
}

func (s *SQLConversationStore) GetLastNRounds(ctx context.Context, sessionID string, n int) ([]ConversationRound, error) {
	q := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("id DESC")
	if n > 0 {
		q = q.Limit(n)
	}
	var rows []roundRecord
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to read session rounds: %w", err)
	}
	rounds := make([]ConversationRound, len(rows))
	for i, r := range rows {
		rounds[len(rows)-1-i] = ConversationRound{Question: r.Question, Answer: r.Answer, Timestamp: r.CreatedAt}
	}
	return rounds, nil
}

func (s *SQLConversationStore) SaveRound(ctx context.Context, sessionID string, round ConversationRound) error {
	ts := round.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec := roundRecord{SessionID: sessionID, Question: round.Question, Answer: round.Answer, CreatedAt: ts}
		if err := tx.Create(&rec).Error; err != nil {
			return fmt.Errorf("failed to save session round: %w", err)
		}
		var keep []uint
		if err := tx.Model(&roundRecord{}).Where("session_id = ?", sessionID).
			Order("id DESC").Limit(s.maxRounds).Pluck("id", &keep).Error; err != nil {
			return fmt.Errorf("failed to trim session rounds: %w", err)
		}
		if len(keep) < s.maxRounds {
			return nil
		}
		return tx.Where("session_id = ? AND id NOT IN ?", sessionID, keep).Delete(&roundRecord{}).Error
	})
}

func (s *SQLConversationStore) Clear(ctx context.Context, sessionID string) error {
	if err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Delete(&roundRecord{}).Error; err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *SQLConversationStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
