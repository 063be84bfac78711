package sqlite

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"jimchat/internal/config"
	"jimchat/internal/storage"
)

// Store is a GORM-backed SQLite implementation of storage.Store.
type Store struct {
	db *gorm.DB
}

type userModel struct {
	ID         uint   `gorm:"primaryKey"`
	Name       string `gorm:"uniqueIndex"`
	Password   string
	Online     bool
	LastIP     string
	SentCount  int
	RecvCount  int
	Avatar     []byte
	AvatarHash string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (userModel) TableName() string { return "users" }

type loginModel struct {
	ID       uint `gorm:"primaryKey"`
	UserID   uint `gorm:"index"`
	IP       string
	LoginAt  time.Time
	LogoutAt *time.Time
}

func (loginModel) TableName() string { return "logins" }

type contactModel struct {
	ID        uint `gorm:"primaryKey"`
	UserID    uint `gorm:"index:idx_contact_pair,unique"`
	ContactID uint `gorm:"index:idx_contact_pair,unique"`
	CreatedAt time.Time
}

func (contactModel) TableName() string { return "contacts" }

type messageModel struct {
	ID          uint `gorm:"primaryKey"`
	SenderID    uint `gorm:"index"`
	RecipientID uint `gorm:"index"`
	Text        string
	CreatedAt   time.Time
}

func (messageModel) TableName() string { return "messages" }

// NewStore opens a SQLite database at the provided path.
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

// Migrate applies schema updates and clears stale online flags left by an
// unclean shutdown.
func (s *Store) Migrate(ctx context.Context) error {
	err := s.db.WithContext(ctx).AutoMigrate(
		&userModel{}, &loginModel{}, &contactModel{}, &messageModel{},
	)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).
		Model(&userModel{}).Where("online = ?", true).
		Update("online", false).Error
}

// Authorize validates the credential digest, registering the username on
// first sight.
func (s *Store) Authorize(ctx context.Context, username, passwordHash string) (bool, error) {
	user, err := s.userByName(ctx, username)
	if errors.Is(err, storage.ErrNotFound) {
		user = &userModel{Name: username, Password: passwordHash}
		if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
			return false, err
		}
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return user.Password == passwordHash, nil
}

// Login marks the user online and opens a login history row.
func (s *Store) Login(ctx context.Context, username, ip string) error {
	user, err := s.userByName(ctx, username)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(user).Updates(map[string]any{"online": true, "last_ip": ip}).Error; err != nil {
			return err
		}
		entry := loginModel{UserID: user.ID, IP: ip, LoginAt: time.Now().UTC()}
		return tx.Create(&entry).Error
	})
}

// Logout marks the user offline and stamps the open history row.
func (s *Store) Logout(ctx context.Context, username string) error {
	user, err := s.userByName(ctx, username)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(user).Update("online", false).Error; err != nil {
			return err
		}
		now := time.Now().UTC()
		return tx.Model(&loginModel{}).
			Where("user_id = ? AND logout_at IS NULL", user.ID).
			Update("logout_at", &now).Error
	})
}

// AddContact links contact to the user's contact list.
func (s *Store) AddContact(ctx context.Context, username, contact string) error {
	user, err := s.userByName(ctx, username)
	if err != nil {
		return err
	}
	other, err := s.userByName(ctx, contact)
	if err != nil {
		return err
	}
	link := contactModel{UserID: user.ID, ContactID: other.ID}
	return s.db.WithContext(ctx).
		Where(&contactModel{UserID: user.ID, ContactID: other.ID}).
		FirstOrCreate(&link).Error
}

// RemoveContact unlinks contact from the user's contact list.
func (s *Store) RemoveContact(ctx context.Context, username, contact string) error {
	user, err := s.userByName(ctx, username)
	if err != nil {
		return err
	}
	other, err := s.userByName(ctx, contact)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).
		Where("user_id = ? AND contact_id = ?", user.ID, other.ID).
		Delete(&contactModel{}).Error
}

// Contacts lists the user's contact names.
func (s *Store) Contacts(ctx context.Context, username string) ([]string, error) {
	user, err := s.userByName(ctx, username)
	if err != nil {
		return nil, err
	}
	var names []string
	err = s.db.WithContext(ctx).Model(&contactModel{}).
		Select("users.name").
		Joins("JOIN users ON users.id = contacts.contact_id").
		Where("contacts.user_id = ?", user.ID).
		Scan(&names).Error
	if err != nil {
		return nil, err
	}
	return names, nil
}

// UsersOnline lists currently logged-in usernames.
func (s *Store) UsersOnline(ctx context.Context) ([]string, error) {
	var names []string
	err := s.db.WithContext(ctx).Model(&userModel{}).
		Where("online = ?", true).
		Order("name").
		Pluck("name", &names).Error
	if err != nil {
		return nil, err
	}
	return names, nil
}

// AddMessage persists one delivered message.
func (s *Store) AddMessage(ctx context.Context, sender, recipient, text string) error {
	from, err := s.userByName(ctx, sender)
	if err != nil {
		return err
	}
	to, err := s.userByName(ctx, recipient)
	if err != nil {
		return err
	}
	msg := messageModel{
		SenderID:    from.ID,
		RecipientID: to.ID,
		Text:        text,
		CreatedAt:   time.Now().UTC(),
	}
	return s.db.WithContext(ctx).Create(&msg).Error
}

// Chat returns the history between two users as formatted
// "sender__time__text__recipient" lines in chronological order.
func (s *Store) Chat(ctx context.Context, user1, user2 string) ([]string, error) {
	u1, err := s.userByName(ctx, user1)
	if err != nil {
		return nil, err
	}
	u2, err := s.userByName(ctx, user2)
	if err != nil {
		return nil, err
	}

	var msgs []messageModel
	err = s.db.WithContext(ctx).
		Where("(sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?)",
			u1.ID, u2.ID, u2.ID, u1.ID).
		Order("created_at, id").
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}

	names := map[uint]string{u1.ID: u1.Name, u2.ID: u2.Name}
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		lines = append(lines, fmt.Sprintf("%s__%d__%s__%s",
			names[m.SenderID], m.CreatedAt.Unix(), m.Text, names[m.RecipientID]))
	}
	return lines, nil
}

// SetAvatar stores the avatar bytes and their digest.
func (s *Store) SetAvatar(ctx context.Context, username string, avatar []byte) error {
	user, err := s.userByName(ctx, username)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(avatar)
	return s.db.WithContext(ctx).Model(user).Updates(map[string]any{
		"avatar":      avatar,
		"avatar_hash": hex.EncodeToString(sum[:]),
	}).Error
}

// Avatar returns the stored avatar bytes, possibly empty.
func (s *Store) Avatar(ctx context.Context, username string) ([]byte, error) {
	user, err := s.userByName(ctx, username)
	if err != nil {
		return nil, err
	}
	return user.Avatar, nil
}

// AvatarHash returns the stored avatar digest, possibly empty.
func (s *Store) AvatarHash(ctx context.Context, username string) (string, error) {
	user, err := s.userByName(ctx, username)
	if err != nil {
		return "", err
	}
	return user.AvatarHash, nil
}

// CheckAvatarHash reports whether the stored avatar digest matches.
func (s *Store) CheckAvatarHash(ctx context.Context, username, hash string) (bool, error) {
	stored, err := s.AvatarHash(ctx, username)
	if err != nil {
		return false, err
	}
	return stored != "" && stored == hash, nil
}

// UpdateStats adds the deltas to the user's sent/received counters.
func (s *Store) UpdateStats(ctx context.Context, username string, sent, recv int) error {
	user, err := s.userByName(ctx, username)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Model(user).Updates(map[string]any{
		"sent_count": gorm.Expr("sent_count + ?", sent),
		"recv_count": gorm.Expr("recv_count + ?", recv),
	}).Error
}

func (s *Store) userByName(ctx context.Context, username string) (*userModel, error) {
	var user userModel
	err := s.db.WithContext(ctx).Where("name = ?", username).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}
