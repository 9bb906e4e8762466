package logdb

import (
	"errors"

	"gorm.io/gorm"
)

var ErrAlertNotFound = errors.New("alert not found")

// SaveAlert creates or updates a watch rule. An alert with a pre-existing name is
// updated, never duplicated.
func (l *LogDB) SaveAlert(alert *Alert) error {
	if alert.ID == 0 {
		existing := Alert{}
		err := l.DB.First(&existing, "name = ?", alert.Name).Error
		if err == nil {
			alert.ID = existing.ID
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
	}
	return l.DB.Save(alert).Error
}

func (l *LogDB) AlertByName(name string) (*Alert, error) {
	alert := Alert{}
	if err := l.DB.First(&alert, "name = ?", name).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAlertNotFound
		}
		return nil, err
	}
	return &alert, nil
}

func (l *LogDB) Alerts() ([]Alert, error) {
	var alerts []Alert
	return alerts, l.DB.Order("email").Find(&alerts).Error
}

// ActiveAlerts returns the enabled watch rules, ordered by owner email.
func (l *LogDB) ActiveAlerts() ([]Alert, error) {
	var alerts []Alert
	return alerts, l.DB.Where("enable = ?", true).Order("email").Find(&alerts).Error
}
