package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/dermashare/backend/internal/imaging"
	"github.com/dermashare/backend/internal/models"
	"github.com/dermashare/backend/pkg/logger"
	"gorm.io/gorm"
)

// ErrRoleMismatch means the target user exists but is registered under a
// different role than the caller asked to connect to.
var ErrRoleMismatch = errors.New("role mismatch")

// ConnectionService maintains the directory's social graph: the mutual
// connections edge set that decides which namespace pairs are browsable.
type ConnectionService struct {
	DB *gorm.DB
}

func NewConnectionService(db *gorm.DB) *ConnectionService {
	return &ConnectionService{DB: db}
}

// AddConnection connects self to the user registered under targetEmail,
// verifying the target's role first. Both connection sets are updated; if
// the second update fails after the first succeeded the edge is asymmetric
// and a PartialError is returned for reconciliation.
func (s *ConnectionService) AddConnection(ctx context.Context, self *models.User, expectedRole models.UserRole, targetEmail string) (*models.User, error) {
	if targetEmail == "" {
		return nil, fmt.Errorf("%w: target email is required", imaging.ErrValidation)
	}
	if targetEmail == self.Email {
		return nil, fmt.Errorf("%w: cannot connect to yourself", imaging.ErrValidation)
	}

	var target models.User
	if err := s.DB.WithContext(ctx).First(&target, "email = ?", targetEmail).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: no user with email %s", imaging.ErrNotFound, targetEmail)
		}
		return nil, err
	}

	if target.Role != expectedRole {
		return nil, fmt.Errorf("%w: user %s is registered as %q, not %q",
			ErrRoleMismatch, targetEmail, target.Role, expectedRole)
	}

	if self.HasConnection(targetEmail) {
		return &target, nil
	}

	if err := s.appendConnection(ctx, self, targetEmail); err != nil {
		return nil, fmt.Errorf("updating own connections: %w", err)
	}

	if err := s.appendConnection(ctx, &target, self.Email); err != nil {
		logger.Error("connection_second_update_failed", err, map[string]interface{}{
			"self":   self.Email,
			"target": targetEmail,
		})
		return &target, &imaging.PartialError{
			Op:    "add connection",
			Total: 2,
			Failures: []imaging.StepFailure{
				{Key: targetEmail, Step: "update target connections", Err: err},
			},
		}
	}

	logger.Info("connection_added", map[string]interface{}{
		"self":   self.Email,
		"target": targetEmail,
		"role":   string(expectedRole),
	})
	return &target, nil
}

// RemoveConnection drops targetEmail from self's connection set only. The
// removal is single-sided: the other party keeps their edge until they
// remove it themselves.
func (s *ConnectionService) RemoveConnection(ctx context.Context, self *models.User, targetEmail string) error {
	if targetEmail == "" {
		return fmt.Errorf("%w: target email is required", imaging.ErrValidation)
	}
	if !self.HasConnection(targetEmail) {
		return fmt.Errorf("%w: %s is not a connection", imaging.ErrNotFound, targetEmail)
	}

	filtered := make([]string, 0, len(self.Connections))
	for _, email := range self.Connections {
		if email != targetEmail {
			filtered = append(filtered, email)
		}
	}
	self.Connections = filtered

	if err := s.updateConnections(ctx, self); err != nil {
		return fmt.Errorf("updating connections: %w", err)
	}

	logger.Info("connection_removed", map[string]interface{}{
		"self":   self.Email,
		"target": targetEmail,
	})
	return nil
}

// ListConnections resolves the caller's connection emails to directory
// records, preserving the order of the connection set. Emails that no
// longer resolve are skipped.
func (s *ConnectionService) ListConnections(ctx context.Context, self *models.User) ([]models.User, error) {
	if len(self.Connections) == 0 {
		return []models.User{}, nil
	}

	var users []models.User
	if err := s.DB.WithContext(ctx).Where("email IN ?", self.Connections).Find(&users).Error; err != nil {
		return nil, err
	}

	byEmail := make(map[string]models.User, len(users))
	for _, u := range users {
		byEmail[u.Email] = u
	}

	ordered := make([]models.User, 0, len(users))
	for _, email := range self.Connections {
		if u, ok := byEmail[email]; ok {
			ordered = append(ordered, u)
		}
	}
	return ordered, nil
}

func (s *ConnectionService) appendConnection(ctx context.Context, user *models.User, email string) error {
	if user.HasConnection(email) {
		return nil
	}
	user.Connections = append(user.Connections, email)
	return s.updateConnections(ctx, user)
}

// updateConnections persists the connection set through the schema field so
// the JSON serializer applies; a raw column update would hand the driver a
// bare []string.
func (s *ConnectionService) updateConnections(ctx context.Context, user *models.User) error {
	return s.DB.WithContext(ctx).Model(user).Select("connections").
		Updates(models.User{Connections: user.Connections}).Error
}
