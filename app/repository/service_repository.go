package repository

import (
	"github.com/prolocal/prolocal/app/models"
	"gorm.io/gorm"
)

// serviceRepository implements the ServiceRepository interface
type serviceRepository struct {
	db *gorm.DB
}

// NewServiceRepository creates a new service repository instance
func NewServiceRepository(db *gorm.DB) ServiceRepository {
	return &serviceRepository{db: db}
}

func (r *serviceRepository) Create(service *models.Service) error {
	return r.db.Create(service).Error
}

func (r *serviceRepository) GetByID(id uint) (*models.Service, error) {
	var service models.Service
	err := r.db.First(&service, id).Error
	if err != nil {
		return nil, err
	}
	return &service, nil
}

func (r *serviceRepository) GetByUUID(uuid string) (*models.Service, error) {
	var service models.Service
	err := r.db.Where("uuid = ?", uuid).First(&service).Error
	if err != nil {
		return nil, err
	}
	return &service, nil
}

func (r *serviceRepository) GetByUserID(userID uint) ([]models.Service, error) {
	var services []models.Service
	err := r.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&services).Error
	return services, err
}

func (r *serviceRepository) Update(service *models.Service) error {
	return r.db.Save(service).Error
}

func (r *serviceRepository) Delete(id uint) error {
	return r.db.Delete(&models.Service{}, id).Error
}

func (r *serviceRepository) CountByUserID(userID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.Service{}).Where("user_id = ?", userID).Count(&count).Error
	return count, err
}

func (r *serviceRepository) CountActiveByUserID(userID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.Service{}).
		Where("user_id = ? AND is_active = ?", userID, true).
		Count(&count).Error
	return count, err
}

func (r *serviceRepository) CountHighlightedByUserID(userID uint, excludeID uint) (int64, error) {
	var count int64
	query := r.db.Model(&models.Service{}).
		Where("user_id = ? AND is_highlighted = ?", userID, true)
	if excludeID != 0 {
		query = query.Where("id <> ?", excludeID)
	}
	err := query.Count(&count).Error
	return count, err
}

func (r *serviceRepository) GetHighlightedByUserID(userID uint) ([]models.Service, error) {
	var services []models.Service
	err := r.db.Where("user_id = ? AND is_highlighted = ?", userID, true).
		Order("created_at ASC").
		Find(&services).Error
	return services, err
}

// DeactivateAndStripAll clears active and highlight state on every service
// the user owns in one bulk update.
func (r *serviceRepository) DeactivateAndStripAll(userID uint) error {
	return r.db.Model(&models.Service{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"is_active":      false,
			"is_highlighted": false,
			"highlight_tier": nil,
		}).Error
}

// StripHighlights clears the highlight flag on the given service ids.
func (r *serviceRepository) StripHighlights(ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.Model(&models.Service{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{
			"is_highlighted": false,
			"highlight_tier": nil,
		}).Error
}

// StripAllHighlights clears the highlight flag on every highlighted service
// the user owns.
func (r *serviceRepository) StripAllHighlights(userID uint) error {
	return r.db.Model(&models.Service{}).
		Where("user_id = ? AND is_highlighted = ?", userID, true).
		Updates(map[string]interface{}{
			"is_highlighted": false,
			"highlight_tier": nil,
		}).Error
}
