package seed

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	applicationdomain "github.com/shirikacare/portal/internal/application/domain"
	auditdomain "github.com/shirikacare/portal/internal/audit/domain"
	authdomain "github.com/shirikacare/portal/internal/auth/domain"
	"github.com/shirikacare/portal/internal/auth/password"
	"github.com/shirikacare/portal/internal/config"
	memberdomain "github.com/shirikacare/portal/internal/member/domain"
	paymentdomain "github.com/shirikacare/portal/internal/payment/domain"
	"gorm.io/gorm"
)

// AutoMigrate creates the schema through gorm for databases that do not
// take the embedded sql migrations.
func AutoMigrate(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}
	return db.AutoMigrate(
		&authdomain.User{},
		&authdomain.Session{},
		&applicationdomain.Application{},
		&memberdomain.Member{},
		&paymentdomain.PaymentMethod{},
		&paymentdomain.PaymentRequest{},
		&paymentdomain.PaymentEvent{},
		&auditdomain.AuditLog{},
	)
}

// EnsureMpesaPaymentMethod seeds the mpesa payment method row that payment
// initiation looks up. Without it every initiation fails as misconfigured.
func EnsureMpesaPaymentMethod(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var method paymentdomain.PaymentMethod
		err := tx.WithContext(ctx).
			Where("code = ?", paymentdomain.MethodCodeMpesa).
			First(&method).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		method = paymentdomain.PaymentMethod{
			ID:        node.Generate(),
			Code:      paymentdomain.MethodCodeMpesa,
			Name:      "M-Pesa",
			Active:    true,
			CreatedAt: time.Now().UTC(),
		}
		return tx.WithContext(ctx).Create(&method).Error
	})
}

// EnsureBootstrapAdmin seeds the first admin account for self-hosted
// deployments. Existing accounts are left untouched.
func EnsureBootstrapAdmin(db *gorm.DB, cfg config.BootstrapConfig) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}
	email := strings.ToLower(strings.TrimSpace(cfg.AdminEmail))
	if email == "" || cfg.AdminPassword == "" {
		return errors.New("bootstrap admin email and password are required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user authdomain.User
		err := tx.WithContext(ctx).Where("email = ?", email).First(&user).Error
		if err == nil {
			if user.Role != authdomain.RoleAdmin {
				return tx.WithContext(ctx).Model(&authdomain.User{}).
					Where("id = ?", user.ID).
					Update("role", authdomain.RoleAdmin).Error
			}
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		hashed, err := password.Hash(cfg.AdminPassword)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		user = authdomain.User{
			ID:           node.Generate(),
			Email:        email,
			FullName:     "Portal Admin",
			Role:         authdomain.RoleAdmin,
			PasswordHash: &hashed,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		return tx.WithContext(ctx).Create(&user).Error
	})
}
