package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type GormConfig struct {
	DSN             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// Gorm is the Postgres-backed Store.
type Gorm struct {
	db *gorm.DB
}

// OpenPostgres connects, sizes the pool and migrates the schema.
func OpenPostgres(cfg GormConfig, log *zap.Logger) (*Gorm, error) {
	dialector := postgres.New(postgres.Config{
		DSN:                  cfg.DSN,
		PreferSimpleProtocol: true,
	})

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.New(zap.NewStdLog(log), logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.AutoMigrate(&Room{}, &Message{}, &Participant{}, &Ticket{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Gorm{db: db}, nil
}

func (g *Gorm) CreateRoom(ctx context.Context, code, host string) (Room, error) {
	r := Room{Code: code, Host: host, Active: true}
	if err := g.db.WithContext(ctx).Create(&r).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return Room{}, ErrCodeTaken
		}
		return Room{}, err
	}
	return r, nil
}

func (g *Gorm) Room(ctx context.Context, code string) (Room, []Message, error) {
	r, err := g.room(ctx, code)
	if err != nil {
		return Room{}, nil, err
	}
	var msgs []Message
	if err := g.db.WithContext(ctx).Where("room_id = ?", r.ID).Order("id").Find(&msgs).Error; err != nil {
		return Room{}, nil, err
	}
	return r, msgs, nil
}

func (g *Gorm) room(ctx context.Context, code string) (Room, error) {
	var r Room
	err := g.db.WithContext(ctx).Where("code = ?", code).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Room{}, ErrNotFound
	}
	return r, err
}

func (g *Gorm) AppendMessage(ctx context.Context, code, sender, content string) error {
	r, err := g.room(ctx, code)
	if err != nil {
		return err
	}
	return g.db.WithContext(ctx).Create(&Message{RoomID: r.ID, Sender: sender, Content: content}).Error
}

func (g *Gorm) SaveSharedText(ctx context.Context, code, text string) error {
	return g.update(ctx, code, "shared_text", text)
}

func (g *Gorm) SaveDrawing(ctx context.Context, code string, raw json.RawMessage) error {
	return g.update(ctx, code, "drawing", string(raw))
}

func (g *Gorm) update(ctx context.Context, code, column string, value any) error {
	res := g.db.WithContext(ctx).Model(&Room{}).Where("code = ?", code).Update(column, value)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (g *Gorm) JoinRoom(ctx context.Context, code, username string) error {
	r, err := g.room(ctx, code)
	if err != nil {
		return err
	}
	if !r.Active {
		return ErrRoomClosed
	}
	p := Participant{RoomID: r.ID, Username: username, JoinedAt: time.Now()}
	return g.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&p).Error
}

func (g *Gorm) LeaveRoom(ctx context.Context, code, username string) (bool, error) {
	r, err := g.room(ctx, code)
	if err != nil {
		return false, err
	}
	if r.Host == username {
		return true, g.update(ctx, code, "active", false)
	}
	err = g.db.WithContext(ctx).
		Where("room_id = ? AND username = ?", r.ID, username).
		Delete(&Participant{}).Error
	return false, err
}

func (g *Gorm) RoomsFor(ctx context.Context, username string) ([]Room, error) {
	joined := g.db.Model(&Participant{}).Select("room_id").Where("username = ?", username)

	var rooms []Room
	err := g.db.WithContext(ctx).Where("host = ?", username).
		Or("id IN (?)", joined).
		Order("created_at DESC, id DESC").
		Find(&rooms).Error
	return rooms, err
}

func (g *Gorm) Participants(ctx context.Context, code string) ([]string, error) {
	r, err := g.room(ctx, code)
	if err != nil {
		return nil, err
	}
	names := []string{}
	err = g.db.WithContext(ctx).Model(&Participant{}).
		Where("room_id = ?", r.ID).
		Order("joined_at, username").
		Pluck("username", &names).Error
	return names, err
}

func (g *Gorm) IssueTicket(ctx context.Context, t Ticket) error {
	return g.db.WithContext(ctx).Create(&t).Error
}

// RedeemTicket deletes the row and returns it in one statement, so two
// concurrent redeems cannot both succeed.
func (g *Gorm) RedeemTicket(ctx context.Context, token string, now time.Time) (Ticket, error) {
	var t Ticket
	res := g.db.WithContext(ctx).Clauses(clause.Returning{}).Where("token = ?", token).Delete(&t)
	if res.Error != nil {
		return Ticket{}, res.Error
	}
	if res.RowsAffected == 0 || !t.ExpiresAt.After(now) {
		return Ticket{}, ErrTicketInvalid
	}
	return t, nil
}

// PurgeExpiredTickets removes tickets nobody redeemed.
func (g *Gorm) PurgeExpiredTickets(ctx context.Context, now time.Time) (int64, error) {
	res := g.db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&Ticket{})
	return res.RowsAffected, res.Error
}

func (g *Gorm) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
