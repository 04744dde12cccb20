// Package services manages the tracked sites ("services") that accept
// ingestion and whose traffic the dashboard reports on.
package services

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
)

// ServiceStatus is the lifecycle state of a service.
type ServiceStatus string

const (
	StatusActive   ServiceStatus = "AC"
	StatusArchived ServiceStatus = "AR"
)

// ServiceNotFoundError is returned when a service lookup fails.
type ServiceNotFoundError struct {
	UUID string
}

func (e *ServiceNotFoundError) Error() string {
	return fmt.Sprintf("service not found: %s", e.UUID)
}

// NewServiceNotFoundError creates a new ServiceNotFoundError
func NewServiceNotFoundError(uuid string) *ServiceNotFoundError {
	return &ServiceNotFoundError{UUID: uuid}
}

// Service represents a tracked site or application. Archived services keep
// their historical sessions and hits but no longer accept ingestion.
type Service struct {
	UUID    string        `gorm:"primaryKey;size:36" json:"uuid"`
	Name    string        `gorm:"not null" json:"name"`
	Link    string        `json:"link"`
	Status  ServiceStatus `gorm:"size:2;index;default:'AC'" json:"status"`
	OwnerID uint          `gorm:"index;not null" json:"owner_id"`

	// Origins is a comma-separated list of allowed origins, or "*".
	Origins string `gorm:"default:'*'" json:"origins"`

	// Privacy flags
	RespectDNT   bool `gorm:"default:true" json:"respect_dnt"`
	IgnoreRobots bool `gorm:"default:true" json:"ignore_robots"`
	CollectIPs   bool `gorm:"default:true" json:"collect_ips"`

	// IgnoredNetworks is a comma-separated list of CIDR ranges whose traffic
	// is dropped at ingestion.
	IgnoredNetworks string `json:"ignored_networks"`

	// HideReferrerRegex filters matching referrers out of the referrers
	// breakdown. An empty or invalid pattern matches nothing.
	HideReferrerRegex string `json:"hide_referrer_regex"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Collaborator links an additional user to a service.
type Collaborator struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	ServiceUUID string `gorm:"uniqueIndex:idx_collab_unique;size:36;not null"`
	UserID      uint   `gorm:"uniqueIndex:idx_collab_unique;not null"`
	CreatedAt   time.Time
}

// GetIgnoredNetworks parses the service's CIDR list. Entries that fail to
// parse are skipped; plain addresses are widened to single-host prefixes.
func (s *Service) GetIgnoredNetworks() []netip.Prefix {
	var networks []netip.Prefix
	for _, entry := range strings.Split(s.IgnoredNetworks, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if prefix, err := netip.ParsePrefix(entry); err == nil {
			networks = append(networks, prefix)
			continue
		}
		if addr, err := netip.ParseAddr(entry); err == nil {
			networks = append(networks, netip.PrefixFrom(addr, addr.BitLen()))
		}
	}
	return networks
}

// IgnoresIP reports whether the given address falls inside any of the
// service's ignored networks. The IP version must match the network's.
func (s *Service) IgnoresIP(ip netip.Addr) bool {
	for _, network := range s.GetIgnoredNetworks() {
		if network.Addr().Is4() != ip.Is4() {
			continue
		}
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// AllowsOrigin reports whether the given origin may post tracking requests.
func (s *Service) AllowsOrigin(origin string) bool {
	if strings.TrimSpace(s.Origins) == "*" {
		return true
	}
	origin = strings.TrimSpace(strings.ToLower(origin))
	for _, allowed := range strings.Split(s.Origins, ",") {
		if strings.TrimSpace(strings.ToLower(allowed)) == origin {
			return true
		}
	}
	return false
}

// GetActiveService retrieves an active service by UUID. Archived or unknown
// services both yield ServiceNotFoundError so callers cannot distinguish them.
func GetActiveService(db *gorm.DB, serviceUUID string) (*Service, error) {
	var service Service
	err := db.Where("uuid = ? AND status = ?", serviceUUID, StatusActive).First(&service).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, NewServiceNotFoundError(serviceUUID)
		}
		return nil, fmt.Errorf("unexpected error querying service: %w", err)
	}
	return &service, nil
}

// GetServiceByUUID retrieves a service regardless of status.
func GetServiceByUUID(db *gorm.DB, serviceUUID string) (*Service, error) {
	var service Service
	if err := db.Where("uuid = ?", serviceUUID).First(&service).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, NewServiceNotFoundError(serviceUUID)
		}
		return nil, err
	}
	return &service, nil
}

// GetServicesForOwner lists all services owned by the given user.
func GetServicesForOwner(db *gorm.DB, ownerID uint) ([]Service, error) {
	var result []Service
	if err := db.Where("owner_id = ?", ownerID).Order("created_at ASC").Find(&result).Error; err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}
	return result, nil
}

// CreateService persists a new service, assigning a UUID when absent.
func CreateService(logger *slog.Logger, db *gorm.DB, service *Service) error {
	if service.UUID == "" {
		service.UUID = uuid.NewString()
	}
	if service.Status == "" {
		service.Status = StatusActive
	}
	if service.Origins == "" {
		service.Origins = "*"
	}
	service.CreatedAt = time.Now().UTC()

	return sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.Create(service).Error
	})
}

// UpdateService saves settings changes for an existing service.
func UpdateService(logger *slog.Logger, db *gorm.DB, service *Service) error {
	return sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.Save(service).Error
	})
}

// ArchiveService marks a service archived. Its sessions and hits are kept so
// historical stats remain queryable.
func ArchiveService(logger *slog.Logger, db *gorm.DB, serviceUUID string) error {
	return sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		result := tx.Model(&Service{}).
			Where("uuid = ?", serviceUUID).
			Update("status", StatusArchived)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return NewServiceNotFoundError(serviceUUID)
		}
		return nil
	})
}

// DeleteService hard-deletes a service. Sessions and hits are removed by the
// same transaction; this is only used by the admin CLI, the UI archives.
func DeleteService(logger *slog.Logger, db *gorm.DB, serviceUUID string) error {
	return sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM hits WHERE service_uuid = ?", serviceUUID).Error; err != nil {
			return err
		}
		if err := tx.Exec("DELETE FROM sessions WHERE service_uuid = ?", serviceUUID).Error; err != nil {
			return err
		}
		result := tx.Delete(&Service{}, "uuid = ?", serviceUUID)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return NewServiceNotFoundError(serviceUUID)
		}
		return nil
	})
}

// AddCollaborator grants an additional user access to a service.
func AddCollaborator(logger *slog.Logger, db *gorm.DB, serviceUUID string, userID uint) error {
	return sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.Exec(`
            INSERT INTO collaborators (service_uuid, user_id, created_at)
            VALUES (?, ?, ?)
            ON CONFLICT DO NOTHING
        `, serviceUUID, userID, time.Now().UTC()).Error
	})
}
