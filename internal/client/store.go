package client

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"jimchat/internal/config"
)

// Store is the client's local GORM-backed SQLite database: contacts, agreed
// chat secrets, cached avatars and message history.
type Store struct {
	db *gorm.DB
}

type contactModel struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"uniqueIndex"`
	CreatedAt time.Time
}

type chatKeyModel struct {
	ID      uint   `gorm:"primaryKey"`
	Contact string `gorm:"uniqueIndex"`
	Secret  []byte
}

type avatarModel struct {
	ID     uint   `gorm:"primaryKey"`
	User   string `gorm:"uniqueIndex"`
	Avatar []byte
	Hash   string
}

type messageModel struct {
	ID        uint   `gorm:"primaryKey"`
	Contact   string `gorm:"index"`
	Text      string
	Outgoing  bool
	CreatedAt time.Time
}

// StoredMessage is one line of local history with a contact.
type StoredMessage struct {
	Contact  string
	Text     string
	Outgoing bool
	Time     time.Time
}

// NewStore opens the local database at the configured path.
func NewStore(cfg config.DatabaseConfig) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Migrate applies schema updates.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&contactModel{}, &chatKeyModel{}, &avatarModel{}, &messageModel{},
	)
}

// AddContact records a contact name, ignoring duplicates.
func (s *Store) AddContact(ctx context.Context, name string) error {
	contact := contactModel{Name: name}
	return s.db.WithContext(ctx).
		Where(&contactModel{Name: name}).
		FirstOrCreate(&contact).Error
}

// RemoveContact drops a contact name.
func (s *Store) RemoveContact(ctx context.Context, name string) error {
	return s.db.WithContext(ctx).Where("name = ?", name).Delete(&contactModel{}).Error
}

// Contacts lists recorded contact names.
func (s *Store) Contacts(ctx context.Context) ([]string, error) {
	var names []string
	err := s.db.WithContext(ctx).Model(&contactModel{}).Order("name").Pluck("name", &names).Error
	return names, err
}

// HasContact reports whether the name is already recorded.
func (s *Store) HasContact(ctx context.Context, name string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&contactModel{}).Where("name = ?", name).Count(&count).Error
	return count > 0, err
}

// SaveChatKey persists the agreed secret for a contact.
func (s *Store) SaveChatKey(ctx context.Context, contact string, secret []byte) error {
	key := chatKeyModel{Contact: contact}
	err := s.db.WithContext(ctx).Where(&chatKeyModel{Contact: contact}).FirstOrCreate(&key).Error
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Model(&key).Update("secret", secret).Error
}

// ChatKey returns the persisted secret for a contact, nil when absent.
func (s *Store) ChatKey(ctx context.Context, contact string) ([]byte, error) {
	var key chatKeyModel
	err := s.db.WithContext(ctx).Where("contact = ?", contact).First(&key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return key.Secret, nil
}

// SetAvatar caches a user's avatar bytes and digest.
func (s *Store) SetAvatar(ctx context.Context, user string, avatar []byte) error {
	sum := sha256.Sum256(avatar)
	entry := avatarModel{User: user}
	err := s.db.WithContext(ctx).Where(&avatarModel{User: user}).FirstOrCreate(&entry).Error
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Model(&entry).Updates(map[string]any{
		"avatar": avatar,
		"hash":   hex.EncodeToString(sum[:]),
	}).Error
}

// Avatar returns the cached avatar and digest for a user, nil when absent.
func (s *Store) Avatar(ctx context.Context, user string) ([]byte, string, error) {
	var entry avatarModel
	err := s.db.WithContext(ctx).Where("user = ?", user).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", err
	}
	return entry.Avatar, entry.Hash, nil
}

// AddMessage appends one line of local history with a contact.
func (s *Store) AddMessage(ctx context.Context, contact, text string, outgoing bool) error {
	msg := messageModel{
		Contact:   contact,
		Text:      text,
		Outgoing:  outgoing,
		CreatedAt: time.Now().UTC(),
	}
	return s.db.WithContext(ctx).Create(&msg).Error
}

// Messages returns local history with a contact in chronological order.
func (s *Store) Messages(ctx context.Context, contact string) ([]StoredMessage, error) {
	var models []messageModel
	err := s.db.WithContext(ctx).
		Where("contact = ?", contact).
		Order("created_at, id").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]StoredMessage, 0, len(models))
	for _, m := range models {
		out = append(out, StoredMessage{
			Contact:  m.Contact,
			Text:     m.Text,
			Outgoing: m.Outgoing,
			Time:     m.CreatedAt,
		})
	}
	return out, nil
}
